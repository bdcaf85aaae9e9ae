package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "che.machine.v1.MachineTracker"

// MachineTrackerServer is the gRPC surface of the tracker. Requests and
// responses are well-known protobuf types; structured payloads travel as
// google.protobuf.Struct with the same field names as the JSON API.
type MachineTrackerServer interface {
	Ping(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	ListMachines(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// SelectMachine takes {workspace_id, machine_id}.
	SelectMachine(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetSelection(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Refresh takes a workspace id; empty means the daemon's workspace.
	Refresh(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	// PublishEvent takes a JSON event envelope.
	PublishEvent(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MachineTrackerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ping", MachineTrackerServer.Ping),
		unary("ListMachines", MachineTrackerServer.ListMachines),
		unary("SelectMachine", MachineTrackerServer.SelectMachine),
		unary("GetSelection", MachineTrackerServer.GetSelection),
		unary("Refresh", MachineTrackerServer.Refresh),
		unary("PublishEvent", MachineTrackerServer.PublishEvent),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "che/machine/v1/tracker.proto",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(MachineTrackerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := fullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(MachineTrackerServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}
