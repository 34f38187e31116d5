package grpc

import (
	"context"

	googlegrpc "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"driftpursuit/aimsolver/internal/wire"
)

// Client calls AimService over an established connection.
type Client struct {
	cc googlegrpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc googlegrpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Solve performs one unary solve.
func (c *Client) Solve(ctx context.Context, req wire.AimRequest, opts ...googlegrpc.CallOption) (wire.AimResponse, error) {
	msg, err := EncodeRequest(req)
	if err != nil {
		return wire.AimResponse{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SolveMethod, msg, out, opts...); err != nil {
		return wire.AimResponse{}, err
	}
	return DecodeResponse(out)
}

// Stream is a typed handle over the bidirectional solve stream.
type Stream struct {
	inner googlegrpc.BidiStreamingClient[structpb.Struct, structpb.Struct]
}

// SolveStream opens the per-tick stream.
func (c *Client) SolveStream(ctx context.Context, opts ...googlegrpc.CallOption) (*Stream, error) {
	raw, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SolveStreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &Stream{inner: &googlegrpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: raw}}, nil
}

// Send writes one request.
func (s *Stream) Send(req wire.AimRequest) error {
	msg, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return s.inner.Send(msg)
}

// Recv reads the next response.
func (s *Stream) Recv() (wire.AimResponse, error) {
	msg, err := s.inner.Recv()
	if err != nil {
		return wire.AimResponse{}, err
	}
	return DecodeResponse(msg)
}

// CloseSend half-closes the stream.
func (s *Stream) CloseSend() error {
	return s.inner.CloseSend()
}
