package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/models"
	"github.com/ringtail/che/internal/tracker"
)

// Tracker is the part of *tracker.Tracker the service exposes.
type Tracker interface {
	Machines(ctx context.Context) ([]*models.Machine, error)
	Select(ctx context.Context, workspaceID, machineID string) error
	Selection(ctx context.Context) (tracker.SelectionState, error)
	Refresh(ctx context.Context, workspaceID string) error
	Publish(ctx context.Context, ev events.Event) error
}

// Server implements MachineTrackerServer over the tracker.
type Server struct {
	tracker     Tracker
	workspaceID string
	log         *zap.Logger
}

// New creates a new server instance. workspaceID is used when a request names
// no workspace.
func New(t Tracker, workspaceID string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{tracker: t, workspaceID: workspaceID, log: log.Named("grpc")}
}

// RegisterGRPC registers the gRPC handlers.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Ping handler (for connectivity test)
func (s *Server) Ping(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String("pong from machined"), nil
}

func (s *Server) ListMachines(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ms, err := s.tracker.Machines(ctx)
	if err != nil {
		return nil, s.toStatus("list machines", err)
	}
	if ms == nil {
		ms = []*models.Machine{}
	}
	out, err := toStruct(map[string]any{"machines": ms})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode machines: %v", err)
	}
	return out, nil
}

func (s *Server) SelectMachine(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	machineID := fields["machine_id"].GetStringValue()
	if machineID == "" {
		return nil, status.Error(codes.InvalidArgument, "machine_id required")
	}
	workspaceID := fields["workspace_id"].GetStringValue()
	if workspaceID == "" {
		workspaceID = s.workspaceID
	}
	if err := s.tracker.Select(ctx, workspaceID, machineID); err != nil {
		return nil, s.toStatus("select machine", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) GetSelection(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.tracker.Selection(ctx)
	if err != nil {
		return nil, s.toStatus("get selection", err)
	}
	out, err := toStruct(st)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode selection: %v", err)
	}
	return out, nil
}

func (s *Server) Refresh(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	workspaceID := req.GetValue()
	if workspaceID == "" {
		workspaceID = s.workspaceID
	}
	if workspaceID == "" {
		return nil, status.Error(codes.InvalidArgument, "workspace id required")
	}
	if err := s.tracker.Refresh(ctx, workspaceID); err != nil {
		return nil, s.toStatus("refresh", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) PublishEvent(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	ev, err := events.Decode(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if ev.EventKind() == events.KindMachineState {
		return nil, status.Error(codes.InvalidArgument, "machine.state events are produced by the tracker")
	}
	if err := s.tracker.Publish(ctx, ev); err != nil {
		return nil, s.toStatus("publish event", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, tracker.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	s.log.Error(op, zap.Error(err))
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(st *structpb.Struct, v any) error {
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
