package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetlb/pkg/aggregator"
	"github.com/cuemby/fleetlb/pkg/cluster"
	"github.com/cuemby/fleetlb/pkg/config"
	"github.com/cuemby/fleetlb/pkg/coordstore"
	"github.com/cuemby/fleetlb/pkg/hostprobe"
	"github.com/cuemby/fleetlb/pkg/loadmanager"
	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/cuemby/fleetlb/pkg/metrics"
	"github.com/cuemby/fleetlb/pkg/placement"
	"github.com/cuemby/fleetlb/pkg/reporter"
	"github.com/cuemby/fleetlb/pkg/rpc"
	"github.com/cuemby/fleetlb/pkg/shedding"
	"github.com/cuemby/fleetlb/pkg/types"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var (
	Version = "dev"
	Commit = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use: "fleetlb-node",
	Short: "fleetlb-node runs the modular load manager for one broker",
	Long: `fleetlb-node is the per-broker process that aggregates fleet-wide
load data, serves placement decisions, and — when it holds cluster
leadership — runs load shedding.`,
	Version: Version,
	RunE: runNode,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fleetlb-node version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.Flags().String("config", "", "path to a YAML config file")
	rootCmd.Flags().String("advertised-address", "", "this broker's advertised host:port (overrides config)")
	rootCmd.Flags().Bool("raft-bootstrap", false, "bootstrap a new single-node Raft cluster (overrides config)")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for the metrics/health HTTP server")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
}

func runNode(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if advertised, _ := cmd.Flags().GetString("advertised-address"); advertised != "" {
		cfg.AdvertisedAddress = advertised
	}
	if bootstrap, _ := cmd.Flags().GetBool("raft-bootstrap"); bootstrap {
		cfg.RaftBootstrap = true
	}
	if cfg.Version == "dev" {
		cfg.Version = Version
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	logger := log.WithBroker(cfg.AdvertisedAddress)
	logger.Info().Str("version", cfg.Version).Msg("starting fleetlb-node")

	client, err := newCoordStoreClient(cfg)
	if err != nil {
		return fmt.Errorf("create coordination store client: %w", err)
	}
	store := coordstore.NewAdapter(client)

	view := aggregator.NewLoadView()
	agg := aggregator.New(view, store)

	probe := hostprobe.NewGopsutilProbe(hostprobe.Limits{
		BandwidthInCapacityBps: cfg.BandwidthInCapacityBps,
		BandwidthOutCapacityBps: cfg.BandwidthOutCapacityBps,
	})
	rep := reporter.New(reporter.Config{
		Advertised: cfg.AdvertisedAddress,
		WebServiceURL: cfg.WebServiceURL,
		PulsarServiceURL: cfg.PulsarServiceURL,
		Version: cfg.Version,
		MaxInterval: cfg.ReportUpdateMaxInterval(),
		ThresholdPercentage: cfg.ReportUpdateThresholdPercentage,
	}, probe, noopServingLayer{}, store)

	if err := registerBrokerZnode(context.Background(), store, rep, cfg.AdvertisedAddress); err != nil {
		return fmt.Errorf("register broker znode: %w", err)
	}

	pipeline := placement.New(view, store, placement.Config{
		OverloadThresholdPercentage: cfg.LoadBalancerBrokerOverloadedThresholdPercentage,
	})

	adminClient := rpc.NewAdminClient()
	defer adminClient.Close()
	shedder := shedding.New(view, adminClient, shedding.Config{
		Strategies: []shedding.LoadSheddingStrategy{shedding.OverloadedBrokerStrategy{ThresholdPercentage: cfg.LoadBalancerBrokerOverloadedThresholdPercentage}},
		Enabled: cfg.LoadBalancerSheddingEnabled,
		GracePeriod: cfg.GracePeriod(),
	})

	var leadership *cluster.Gate
	if cfg.RaftNodeID != "" {
		leadership, err = cluster.New(cluster.Config{
			NodeID: cfg.RaftNodeID,
			BindAddr: cfg.RaftBindAddr,
			DataDir: cfg.DataDir,
			Bootstrap: cfg.RaftBootstrap,
			Peers: cfg.RaftPeers,
		})
		if err != nil {
			return fmt.Errorf("start cluster leadership gate: %w", err)
		}
		defer leadership.Shutdown()
	}

	lm := loadmanager.New(loadmanager.Config{
		ReportInterval: time.Second * 10,
		SheddingInterval: cfg.SheddingInterval(),
		PersistenceInterval: cfg.WarmHistoryPersistInterval(),
	}, agg, rep, pipeline, shedder, leadershipOrNil(leadership), store)
	lm.Start(context.Background(), client, cfg.AdvertisedAddress)
	defer lm.Stop()

	metrics.SetVersion(cfg.Version)
	metrics.RegisterComponent("coordstore", true, "connected")
	metrics.RegisterComponent("aggregator", true, "running")
	metrics.RegisterComponent("leadership", leadership != nil, "leadership gate active")

	collector := metrics.NewCollector(view, leadershipSourceOrNil(leadership))
	collector.Start()
	defer collector.Stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics/health endpoints listening")

	grpcServer := grpc.NewServer()
	rpc.RegisterAdminServiceServer(grpcServer, rpc.NewAdminServer(noopBundleUnloader{}))
	rpc.RegisterPlacementServiceServer(grpcServer, rpc.NewPlacementServer(pipeline))
	lis, err := net.Listen("tcp", cfg.RPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen on rpc address: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("rpc server error")
		}
	}()
	logger.Info().Str("addr", cfg.RPCListenAddr).Msg("rpc server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}

// registerBrokerZnode samples this broker's own data and publishes it as
// the ephemeral /loadbalance/brokers/<advertised> znode, overwriting it if a
// previous session's node is still draining, so membership never shows this
// broker with zero usage and zero bundles between startup and its first
// scheduled report.
func registerBrokerZnode(ctx context.Context, store *coordstore.Adapter, rep *reporter.Reporter, advertised string) error {
	if err := rep.UpdateLocalBrokerData(ctx); err != nil {
		return fmt.Errorf("sample initial broker data: %w", err)
	}
	raw, err := json.Marshal(rep.Snapshot())
	if err != nil {
		return fmt.Errorf("encode initial broker data: %w", err)
	}

	path := coordstore.BrokerDataPath(advertised)
	err = store.Client().Create(ctx, path, raw, coordstore.Ephemeral)
	if err == nil {
		return nil
	}
	if errors.Is(err, coordstore.ErrNodeExists) {
		return store.Client().Set(ctx, path, raw)
	}
	return err
}

func newCoordStoreClient(cfg *config.Config) (coordstore.Client, error) {
	switch cfg.CoordStoreBackend {
	case "bolt":
		return coordstore.NewBoltClient(cfg.DataDir)
	default:
		return coordstore.NewMemClient(), nil
	}
}

// noopServingLayer stands in for the real Pulsar serving layer, an
// external collaborator out of scope; it reports no
// bundles until wired to a real broker process.
type noopServingLayer struct{}

func (noopServingLayer) BundleStats(context.Context) map[string]types.NamespaceBundleStats {
	return nil
}

// noopBundleUnloader stands in for the local serving layer's unload hook,
// likewise out of scope
type noopBundleUnloader struct{}

func (noopBundleUnloader) UnloadNamespaceBundle(context.Context, string, string) error {
	return nil
}

// leadershipOrNil returns g as a loadmanager.LeadershipSource, or a true
// nil interface (not a nil-valued *Gate) when there is no leadership gate
// configured, so the nil checks in LoadManager's leadership-gated loops
// behave correctly. leadershipSourceOrNil does the same for
// pkg/metrics.Collector.collectLeadershipMetrics.
func leadershipOrNil(g *cluster.Gate) loadmanager.LeadershipSource {
	if g == nil {
		return nil
	}
	return g
}

func leadershipSourceOrNil(g *cluster.Gate) metrics.LeadershipSource {
	if g == nil {
		return nil
	}
	return g
}
