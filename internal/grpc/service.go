// Package grpc exposes the aim solver as a gRPC service carrying structpb messages.
package grpc

import (
	"context"
	"errors"
	"io"

	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"driftpursuit/aimsolver/internal/logging"
	"driftpursuit/aimsolver/internal/wire"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "aimsolver.AimService"
	// SolveMethod is the full method name of the unary solve.
	SolveMethod = "/" + ServiceName + "/Solve"
	// SolveStreamMethod is the full method name of the bidirectional per-tick stream.
	SolveStreamMethod = "/" + ServiceName + "/SolveStream"
)

// Solver answers a single aim request.
type Solver interface {
	Solve(ctx context.Context, req wire.AimRequest) wire.AimResponse
}

// AimServiceServer is the server contract registered through ServiceDesc.
type AimServiceServer interface {
	Solve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SolveStream(stream googlegrpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
}

// Option customises the behaviour of the gRPC service.
type Option func(*Service)

// WithLogger overrides the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.log = logger
		}
	}
}

// Service implements AimServiceServer on top of a Solver.
type Service struct {
	solver Solver
	log    *logging.Logger
}

// NewService wires the gRPC service to the solver.
func NewService(solver Solver, opts ...Option) *Service {
	service := &Service{solver: solver, log: logging.L()}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// Register attaches the service to a gRPC server.
func Register(registrar googlegrpc.ServiceRegistrar, service AimServiceServer) {
	registrar.RegisterService(&ServiceDesc, service)
}

// Solve answers one request. Unsolvable geometry is a normal response; malformed input is InvalidArgument.
func (s *Service) Solve(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	if s == nil || s.solver == nil {
		return nil, status.Error(codes.FailedPrecondition, "solver unavailable")
	}
	req, err := DecodeRequest(msg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := EncodeResponse(s.solver.Solve(ctx, req))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// SolveStream answers one response per inbound request until the client half-closes.
func (s *Service) SolveStream(stream googlegrpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	if s == nil || s.solver == nil {
		return status.Error(codes.FailedPrecondition, "solver unavailable")
	}
	ctx := stream.Context()
	logger := logging.LoggerFromContext(ctx)
	solves := 0
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			//1.- The client finished sending; the stream ends cleanly.
			logger.Debug("aim gRPC stream closed", logging.Int("solves", solves))
			return nil
		}
		if err != nil {
			return err
		}

		//2.- Malformed messages get a failure response so tick pairing survives.
		var resp wire.AimResponse
		if req, decodeErr := DecodeRequest(msg); decodeErr != nil {
			resp = wire.AimResponse{OK: false, Error: decodeErr.Error()}
		} else {
			resp = s.solver.Solve(ctx, req)
			solves++
		}
		out, err := EncodeResponse(resp)
		if err != nil {
			return status.Errorf(codes.Internal, "encode response: %v", err)
		}
		if err := stream.Send(out); err != nil {
			return err
		}
	}
}

func solveHandler(srv any, ctx context.Context, dec func(any) error, interceptor googlegrpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AimServiceServer).Solve(ctx, in)
	}
	info := &googlegrpc.UnaryServerInfo{Server: srv, FullMethod: SolveMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AimServiceServer).Solve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func solveStreamHandler(srv any, stream googlegrpc.ServerStream) error {
	return srv.(AimServiceServer).SolveStream(&googlegrpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes AimService for registration without generated code.
var ServiceDesc = googlegrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AimServiceServer)(nil),
	Methods: []googlegrpc.MethodDesc{
		{MethodName: "Solve", Handler: solveHandler},
	},
	Streams: []googlegrpc.StreamDesc{
		{StreamName: "SolveStream", Handler: solveStreamHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "aimsolver/aim.proto",
}

var _ AimServiceServer = (*Service)(nil)
