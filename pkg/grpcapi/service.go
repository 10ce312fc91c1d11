package grpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the fully qualified gRPC service name.
const serviceName = "intcode.Machine"

// Full method names.
const (
	methodRun          = "/" + serviceName + "/Run"
	methodStartSession = "/" + serviceName + "/StartSession"
	methodSupplyInput  = "/" + serviceName + "/SupplyInput"
	methodGetSession   = "/" + serviceName + "/GetSession"
)

// MachineServer is the server API for the intcode.Machine service.
type MachineServer interface {
	Run(context.Context, *RunRequest) (*RunResponse, error)
	StartSession(context.Context, *StartSessionRequest) (*SessionResponse, error)
	SupplyInput(context.Context, *SupplyInputRequest) (*SessionResponse, error)
	GetSession(context.Context, *GetSessionRequest) (*SessionResponse, error)
}

// RegisterMachineServer registers srv on s.
func RegisterMachineServer(s *grpc.Server, srv MachineServer) {
	s.RegisterService(&machineServiceDesc, srv)
}

var machineServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MachineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "StartSession", Handler: startSessionHandler},
		{MethodName: "SupplyInput", Handler: supplyInputHandler},
		{MethodName: "GetSession", Handler: getSessionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "intcode/machine",
}

func runHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MachineServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRun}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MachineServer).Run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func startSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MachineServer).StartSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStartSession}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MachineServer).StartSession(ctx, req.(*StartSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func supplyInputHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SupplyInputRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MachineServer).SupplyInput(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSupplyInput}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MachineServer).SupplyInput(ctx, req.(*SupplyInputRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getSessionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MachineServer).GetSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetSession}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MachineServer).GetSession(ctx, req.(*GetSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}
