// Package grpcutil provides the Explorer service definition and the
// conversions between API payloads and protobuf structs.
package grpcutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arpa-simc/provami/internal/webapi"
)

// ServiceName is the fully qualified name of the Explorer service.
const ServiceName = "provami.v1.Explorer"

// CallMethod is the full method name of Explorer.Call.
const CallMethod = "/" + ServiceName + "/Call"

// ExplorerServer is the server API for the Explorer service. Call takes
// {"op": "...", "args": {...}} and returns the enveloped response.
type ExplorerServer interface {
	Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExplorerServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CallMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExplorerServer).Call(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ExplorerServiceDesc describes the Explorer service for grpc.Server.
var ExplorerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExplorerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "provami/v1/explorer.proto",
}

// RegisterExplorerServer registers srv on s.
func RegisterExplorerServer(s grpc.ServiceRegistrar, srv ExplorerServer) {
	s.RegisterService(&ExplorerServiceDesc, srv)
}

// ExplorerClient calls the Explorer service.
type ExplorerClient struct {
	cc grpc.ClientConnInterface
}

// NewExplorerClient returns a client using cc.
func NewExplorerClient(cc grpc.ClientConnInterface) *ExplorerClient {
	return &ExplorerClient{cc: cc}
}

// Call runs op with args, which must be JSON-encodable.
func (c *ExplorerClient) Call(ctx context.Context, op string, args map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	argStruct, err := ToStruct(args)
	if err != nil {
		return nil, err
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"op":   structpb.NewStringValue(op),
		"args": structpb.NewStructValue(argStruct),
	}}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CallMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ToStruct converts v to a protobuf struct through its JSON encoding, so
// custom JSON marshalers are honored.
func ToStruct(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

// ParseCall extracts the operation name and its arguments from a request.
func ParseCall(req *structpb.Struct) (string, webapi.Args, error) {
	fields := req.GetFields()
	op := fields["op"].GetStringValue()
	if op == "" {
		return "", nil, status.Error(codes.InvalidArgument, "missing op")
	}
	args := make(webapi.Args)
	for key, value := range fields["args"].GetStructValue().GetFields() {
		raw, err := value.MarshalJSON()
		if err != nil {
			return "", nil, status.Errorf(codes.InvalidArgument, "argument %s: %v", key, err)
		}
		args[key] = raw
	}
	return op, args, nil
}

// StatusCode maps an API status to a gRPC code.
func StatusCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusOK:
		return codes.OK
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	default:
		return codes.Internal
	}
}
