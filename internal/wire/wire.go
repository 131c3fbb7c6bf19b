// Package wire is the gRPC codec of the clipstash stream service.
//
// Envelopes are plain Go structs from package message, so they travel as
// JSON rather than protobuf. The codec registers under the "json" content
// subtype; callers opt in per call with CallOption. The standard proto
// codec stays the default, which keeps the gRPC health service working on
// the same server.
package wire

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"go.klb.dev/clipstash/internal/message"
)

// Name is the codec name and content subtype ("application/grpc+json").
const Name = "json"

// MaxMessageSize is the largest message we will send or receive (64 MiB).
// A clip:update snapshot carries the whole store.
const MaxMessageSize = 64 * 1024 * 1024

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals envelopes as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire marshal %T: %w", v, err)
	}
	return b, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire unmarshal %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string { return Name }

// CallOptions selects the JSON codec and the message size limits.
func CallOptions() []grpc.CallOption {
	return []grpc.CallOption{
		grpc.CallContentSubtype(Name),
		grpc.MaxCallRecvMsgSize(MaxMessageSize),
		grpc.MaxCallSendMsgSize(MaxMessageSize),
	}
}

// OutgoingContext attaches the bearer token and source to ctx.
func OutgoingContext(ctx context.Context, token, source string) context.Context {
	var kv []string
	if token != "" {
		kv = append(kv, message.MetadataAuth, "Bearer "+token)
	}
	if source != "" {
		kv = append(kv, message.MetadataSource, source)
	}
	if len(kv) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}
