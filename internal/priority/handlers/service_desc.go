package handlers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "priority.v1.RankingService"

// RankingServiceServer is the server API for the ranking service. Every
// message is a google.protobuf.Struct so no generated code is involved.
type RankingServiceServer interface {
	GetRankedList(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScoreSingle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearCache(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReloadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(RankingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RankingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RankingServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RankingServiceDesc describes the ranking service for grpc.Server.RegisterService.
var RankingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RankingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRankedList", Handler: unaryHandler("GetRankedList", RankingServiceServer.GetRankedList)},
		{MethodName: "ScoreSingle", Handler: unaryHandler("ScoreSingle", RankingServiceServer.ScoreSingle)},
		{MethodName: "ClearCache", Handler: unaryHandler("ClearCache", RankingServiceServer.ClearCache)},
		{MethodName: "ReloadModel", Handler: unaryHandler("ReloadModel", RankingServiceServer.ReloadModel)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "priority/v1/ranking.proto",
}

// RankingServiceClient is the client API for the ranking service.
type RankingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRankingServiceClient(cc grpc.ClientConnInterface) *RankingServiceClient {
	return &RankingServiceClient{cc: cc}
}

func (c *RankingServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RankingServiceClient) GetRankedList(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetRankedList", in, opts...)
}

func (c *RankingServiceClient) ScoreSingle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ScoreSingle", in, opts...)
}

func (c *RankingServiceClient) ClearCache(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ClearCache", in, opts...)
}

func (c *RankingServiceClient) ReloadModel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ReloadModel", in, opts...)
}
