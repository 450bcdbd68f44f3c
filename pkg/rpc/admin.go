package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// BundleUnloader is the boundary to this broker's local serving layer: the
// component that actually stops serving a bundle. Out of scope for this
// package as an external collaborator.
type BundleUnloader interface {
	UnloadNamespaceBundle(ctx context.Context, namespace, bundleRange string) error
}

// AdminServer implements AdminServiceServer over a broker's local
// BundleUnloader.
type AdminServer struct {
	unloader BundleUnloader
	logger zerolog.Logger
}

// NewAdminServer wraps unloader as a gRPC-reachable AdminService.
func NewAdminServer(unloader BundleUnloader) *AdminServer {
	return &AdminServer{unloader: unloader, logger: log.WithComponent("rpc-admin")}
}

func (s *AdminServer) UnloadNamespaceBundle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	namespace := fields["namespace"].GetStringValue()
	bundleRange := fields["bundle_range"].GetStringValue()

	if err := s.unloader.UnloadNamespaceBundle(ctx, namespace, bundleRange); err != nil {
		s.logger.Warn().Err(err).Str("namespace", namespace).Str("bundleRange", bundleRange).Msg("unload failed")
		return nil, fmt.Errorf("rpc: unload %s/%s: %w", namespace, bundleRange, err)
	}
	return &structpb.Struct{}, nil
}

// AdminClient dials every broker it is asked to unload a bundle on,
// caching connections by address, and implements shedding.AdminClient.
type AdminClient struct {
	mu sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewAdminClient creates an AdminClient with an empty connection cache.
func NewAdminClient() *AdminClient {
	return &AdminClient{conns: make(map[string]*grpc.ClientConn)}
}

// UnloadNamespaceBundle dials broker (reusing a cached connection if one
// exists) and issues the unload RPC, satisfying shedding.AdminClient.
func (c *AdminClient) UnloadNamespaceBundle(ctx context.Context, broker, namespace, bundleRange string) error {
	conn, err := c.connFor(broker)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", broker, err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"broker": broker,
		"namespace": namespace,
		"bundle_range": bundleRange,
	})
	if err != nil {
		return fmt.Errorf("rpc: encode unload request: %w", err)
	}

	client := NewAdminServiceClient(conn)
	_, err = client.UnloadNamespaceBundle(ctx, req)
	return err
}

func (c *AdminClient) connFor(broker string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[broker]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(broker, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c.conns[broker] = conn
	return conn, nil
}

// Close tears down every cached connection.
func (c *AdminClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for broker, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, broker)
	}
	return firstErr
}
