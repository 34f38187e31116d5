package grpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"driftpursuit/aimsolver/internal/wire"
)

// EncodeRequest converts a wire request into the Struct message carried on the RPC.
func EncodeRequest(req wire.AimRequest) (*structpb.Struct, error) {
	return toStruct(req)
}

// DecodeRequest converts a Struct message back into a wire request, rejecting unknown fields.
func DecodeRequest(msg *structpb.Struct) (wire.AimRequest, error) {
	if msg == nil {
		return wire.AimRequest{}, fmt.Errorf("decode aim request: empty message")
	}
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return wire.AimRequest{}, fmt.Errorf("decode aim request: %w", err)
	}
	return wire.DecodeRequest(bytes.NewReader(data))
}

// EncodeResponse converts a wire response into a Struct message.
func EncodeResponse(resp wire.AimResponse) (*structpb.Struct, error) {
	return toStruct(resp)
}

// DecodeResponse converts a Struct message into a wire response.
func DecodeResponse(msg *structpb.Struct) (wire.AimResponse, error) {
	var resp wire.AimResponse
	if msg == nil {
		return resp, fmt.Errorf("decode aim response: empty message")
	}
	data, err := json.Marshal(msg.AsMap())
	if err != nil {
		return resp, fmt.Errorf("decode aim response: %w", err)
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("decode aim response: %w", err)
	}
	return resp, nil
}

func toStruct(payload any) (*structpb.Struct, error) {
	//1.- Round-trip through JSON so the Struct carries exactly the wire field names.
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}
