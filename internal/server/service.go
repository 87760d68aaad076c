// ABOUTME: Hand-written gRPC service descriptor for boltindex.v1.BoltIndex
// ABOUTME: Every method takes and returns a google.protobuf.Struct

package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "boltindex.v1.BoltIndex"

// BoltIndexServer is the server API for the BoltIndex service
type BoltIndexServer interface {
	GetHierarchy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyUpdate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(BoltIndexServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call method) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BoltIndexServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(BoltIndexServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc is the grpc.ServiceDesc for the BoltIndex service
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BoltIndexServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("GetHierarchy", BoltIndexServer.GetHierarchy),
		handler("GetNode", BoltIndexServer.GetNode),
		handler("Search", BoltIndexServer.Search),
		handler("ApplyUpdate", BoltIndexServer.ApplyUpdate),
		handler("History", BoltIndexServer.History),
		handler("Health", BoltIndexServer.Health),
		handler("Stats", BoltIndexServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "boltindex/v1/boltindex.proto",
}

// RegisterBoltIndexServer registers srv with s
func RegisterBoltIndexServer(s grpc.ServiceRegistrar, srv BoltIndexServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls the BoltIndex service over a client connection
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, name string, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+name, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetHierarchy(ctx context.Context, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "GetHierarchy", in, opts...)
}

func (c *Client) GetNode(ctx context.Context, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "GetNode", in, opts...)
}

func (c *Client) Search(ctx context.Context, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Search", in, opts...)
}

func (c *Client) ApplyUpdate(ctx context.Context, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "ApplyUpdate", in, opts...)
}

func (c *Client) History(ctx context.Context, in map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "History", in, opts...)
}

func (c *Client) Health(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Health", nil, opts...)
}

func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Stats", nil, opts...)
}
