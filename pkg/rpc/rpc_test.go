package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/cuemby/fleetlb/pkg/aggregator"
	"github.com/cuemby/fleetlb/pkg/placement"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1 << 20

func dialBufconn(t *testing.T, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type fakeUnloader struct {
	calls []string
	err error
}

func (f *fakeUnloader) UnloadNamespaceBundle(_ context.Context, namespace, bundleRange string) error {
	f.calls = append(f.calls, namespace+"/"+bundleRange)
	return f.err
}

func TestAdminService_UnloadNamespaceBundle_RoundTrip(t *testing.T) {
	lis := bufconn.Listen(bufSize)
	defer lis.Close()

	unloader := &fakeUnloader{}
	srv := grpc.NewServer()
	RegisterAdminServiceServer(srv, NewAdminServer(unloader))
	go srv.Serve(lis)
	defer srv.Stop()

	conn := dialBufconn(t, lis)
	client := NewAdminServiceClient(conn)

	req, err := structpb.NewStruct(map[string]interface{}{
		"broker": "broker-a:8080",
		"namespace": "ns1",
		"bundle_range": "0x0_0x40",
	})
	require.NoError(t, err)

	_, err = client.UnloadNamespaceBundle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"ns1/0x0_0x40"}, unloader.calls)
}

func TestAdminService_UnloadNamespaceBundle_PropagatesError(t *testing.T) {
	lis := bufconn.Listen(bufSize)
	defer lis.Close()

	unloader := &fakeUnloader{err: assertErr{}}
	srv := grpc.NewServer()
	RegisterAdminServiceServer(srv, NewAdminServer(unloader))
	go srv.Serve(lis)
	defer srv.Stop()

	conn := dialBufconn(t, lis)
	client := NewAdminServiceClient(conn)

	req, err := structpb.NewStruct(map[string]interface{}{"namespace": "ns1", "bundle_range": "0x0_0x40"})
	require.NoError(t, err)

	_, err = client.UnloadNamespaceBundle(context.Background(), req)
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "unload failed" }

func TestPlacementService_SelectBrokerForAssignment_RoundTrip(t *testing.T) {
	lis := bufconn.Listen(bufSize)
	defer lis.Close()

	view := aggregator.NewLoadView()
	view.Preallocation["ns1/0x0_0x40"] = "broker-a"
	pipeline := placement.New(view, noopHydrator{}, placement.Config{})

	srv := grpc.NewServer()
	RegisterPlacementServiceServer(srv, NewPlacementServer(pipeline))
	go srv.Serve(lis)
	defer srv.Stop()

	conn := dialBufconn(t, lis)
	client := NewPlacementServiceClient(conn)

	req, err := structpb.NewStruct(map[string]interface{}{"namespace": "ns1", "bundle_range": "0x0_0x40"})
	require.NoError(t, err)

	resp, err := client.SelectBrokerForAssignment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "broker-a", resp.GetFields()["broker"].GetStringValue())
}

type noopHydrator struct{}

func (noopHydrator) GetBundleData(context.Context, string) (types.BundleData, bool, error) {
	return types.BundleData{}, false, nil
}

func (noopHydrator) GetResourceQuota(context.Context, string) (types.ResourceQuota, bool, error) {
	return types.ResourceQuota{}, false, nil
}
