// Package rpc is the gRPC transport for the two cross-broker calls the load
// manager makes: the leader's shedder telling a broker to unload a bundle
// (AdminService), and a client asking a broker to place a bundle
// (PlacementService). proto/fleetlb.proto documents the wire shapes; there
// is no protoc toolchain in this environment, so both services exchange
// google.protobuf.Struct payloads instead of codegen'd typed messages, and
// the Go types in this package convert to and from them at the boundary.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminServiceClient is the generated-style client stub for AdminService.
type AdminServiceClient interface {
	UnloadNamespaceBundle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type adminServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminServiceClient wraps cc with the AdminService stub.
func NewAdminServiceClient(cc grpc.ClientConnInterface) AdminServiceClient {
	return &adminServiceClient{cc: cc}
}

func (c *adminServiceClient) UnloadNamespaceBundle(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/fleetlb.AdminService/UnloadNamespaceBundle", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AdminServiceServer is the generated-style server interface for
// AdminService.
type AdminServiceServer interface {
	UnloadNamespaceBundle(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAdminServiceServer registers srv's AdminService implementation
// against s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

func adminServiceUnloadNamespaceBundleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServiceServer).UnloadNamespaceBundle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fleetlb.AdminService/UnloadNamespaceBundle"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServiceServer).UnloadNamespaceBundle(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "fleetlb.AdminService",
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UnloadNamespaceBundle", Handler: adminServiceUnloadNamespaceBundleHandler},
	},
	Streams: []grpc.StreamDesc{},
	Metadata: "fleetlb.proto",
}

// PlacementServiceClient is the generated-style client stub for
// PlacementService.
type PlacementServiceClient interface {
	SelectBrokerForAssignment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type placementServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPlacementServiceClient wraps cc with the PlacementService stub.
func NewPlacementServiceClient(cc grpc.ClientConnInterface) PlacementServiceClient {
	return &placementServiceClient{cc: cc}
}

func (c *placementServiceClient) SelectBrokerForAssignment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/fleetlb.PlacementService/SelectBrokerForAssignment", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// PlacementServiceServer is the generated-style server interface for
// PlacementService.
type PlacementServiceServer interface {
	SelectBrokerForAssignment(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterPlacementServiceServer registers srv's PlacementService
// implementation against s.
func RegisterPlacementServiceServer(s grpc.ServiceRegistrar, srv PlacementServiceServer) {
	s.RegisterService(&placementServiceDesc, srv)
}

func placementServiceSelectBrokerForAssignmentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlacementServiceServer).SelectBrokerForAssignment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/fleetlb.PlacementService/SelectBrokerForAssignment"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PlacementServiceServer).SelectBrokerForAssignment(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var placementServiceDesc = grpc.ServiceDesc{
	ServiceName: "fleetlb.PlacementService",
	HandlerType: (*PlacementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SelectBrokerForAssignment", Handler: placementServiceSelectBrokerForAssignmentHandler},
	},
	Streams: []grpc.StreamDesc{},
	Metadata: "fleetlb.proto",
}
