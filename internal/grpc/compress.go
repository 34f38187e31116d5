package grpc

import (
	googlegrpc "google.golang.org/grpc"
	"google.golang.org/grpc/encoding/gzip"
)

// CompressionName is the transport codec registered by the gzip encoding package.
const CompressionName = gzip.Name

// CompressedCall asks the server to gzip both directions of a call.
func CompressedCall() googlegrpc.CallOption {
	return googlegrpc.UseCompressor(CompressionName)
}
