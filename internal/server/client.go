package server

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/models"
	"github.com/ringtail/che/internal/tracker"
)

// Dial opens an insecure, traced connection to a machined gRPC listener.
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	return grpc.NewClient(addr, opts...)
}

// Client calls the MachineTracker service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Ping(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, fullMethod("Ping"), &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) ListMachines(ctx context.Context) ([]*models.Machine, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("ListMachines"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	var resp struct {
		Machines []*models.Machine `json:"machines"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.Machines, nil
}

func (c *Client) SelectMachine(ctx context.Context, workspaceID, machineID string) error {
	req, err := structpb.NewStruct(map[string]any{
		"workspace_id": workspaceID,
		"machine_id":   machineID,
	})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, fullMethod("SelectMachine"), req, new(emptypb.Empty))
}

func (c *Client) GetSelection(ctx context.Context) (tracker.SelectionState, error) {
	var st tracker.SelectionState
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("GetSelection"), &emptypb.Empty{}, out); err != nil {
		return st, err
	}
	err := fromStruct(out, &st)
	return st, err
}

func (c *Client) Refresh(ctx context.Context, workspaceID string) error {
	return c.cc.Invoke(ctx, fullMethod("Refresh"), wrapperspb.String(workspaceID), new(emptypb.Empty))
}

func (c *Client) PublishEvent(ctx context.Context, ev events.Event) error {
	payload, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, fullMethod("PublishEvent"), wrapperspb.Bytes(payload), new(emptypb.Empty))
}
