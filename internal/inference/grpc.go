package inference

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	grpcServiceName  = "relay.inference.v1.Inference"
	grpcGenerateName = "/" + grpcServiceName + "/Generate"
)

// GRPC is a Backend served by a remote model server over gRPC. Requests and responses
// are google.protobuf.Struct values: {"prompt", "max_tokens"} in, {"text"} out. The server
// passes max_tokens on to its backend, which may lower it to its own limit.
type GRPC struct {
	conn      *grpc.ClientConn
	maxTokens int
}

// DialGRPC connects to target. Without options the transport is insecure.
func DialGRPC(target string, maxTokens int, opts ...grpc.DialOption) (*GRPC, error) {
	if target == "" {
		return nil, errors.New("inference/grpc: target is required")
	}
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("inference/grpc: %w", err)
	}
	return NewGRPC(conn, maxTokens), nil
}

func NewGRPC(conn *grpc.ClientConn, maxTokens int) *GRPC {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &GRPC{conn: conn, maxTokens: maxTokens}
}

func (g *GRPC) Generate(ctx context.Context, prompt string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"prompt":     prompt,
		"max_tokens": maxTokens(ctx, g.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("inference/grpc: build request: %w", err)
	}
	resp := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, grpcGenerateName, req, resp); err != nil {
		return "", fmt.Errorf("inference/grpc: %w", err)
	}
	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", errors.New("inference/grpc: response has no text")
	}
	return text.GetStringValue(), nil
}

func (g *GRPC) Close() error {
	if g == nil || g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

// generateServer is the server-side contract of the Inference service.
type generateServer interface {
	Generate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type backendServer struct {
	backend Backend
}

func (s *backendServer) Generate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	prompt := req.GetFields()["prompt"].GetStringValue()
	if prompt == "" {
		return nil, status.Error(codes.InvalidArgument, "prompt is required")
	}
	if n := req.GetFields()["max_tokens"].GetNumberValue(); n > 0 {
		ctx = WithMaxTokens(ctx, int(n))
	}
	text, err := s.backend.Generate(ctx, prompt)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "generate: %v", err)
	}
	return structpb.NewStruct(map[string]any{"text": text})
}

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(generateServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcGenerateName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(generateServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var inferenceServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*generateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/inference/v1/inference.proto",
}

// RegisterServer exposes backend as the Inference gRPC service on s.
func RegisterServer(s grpc.ServiceRegistrar, backend Backend) {
	s.RegisterService(&inferenceServiceDesc, &backendServer{backend: backend})
}
