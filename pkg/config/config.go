// Package config loads fleetlb-node's configuration from a YAML file with
// environment variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one fleetlb-node process.
type Config struct {
	// Broker identity
	AdvertisedAddress string `yaml:"advertisedAddress"`
	BindAddr string `yaml:"bindAddr"`
	WebServiceURL string `yaml:"webServiceURL"`
	PulsarServiceURL string `yaml:"pulsarServiceURL"`
	Version string `yaml:"version"`
	DataDir string `yaml:"dataDir"`

	// Raft leadership gate (pkg/cluster)
	RaftNodeID string `yaml:"raftNodeID"`
	RaftBindAddr string `yaml:"raftBindAddr"`
	RaftPeers []string `yaml:"raftPeers"`
	RaftBootstrap bool `yaml:"raftBootstrap"`

	// Logging
	LogLevel string `yaml:"logLevel"`
	LogJSON bool `yaml:"logJSON"`

	// Reporter / publish predicate
	ReportUpdateMaxIntervalMinutes int `yaml:"reportUpdateMaxIntervalMinutes"`
	ReportUpdateThresholdPercentage float64 `yaml:"reportUpdateThresholdPercentage"`

	// Shedding / overload guard
	LoadBalancerBrokerOverloadedThresholdPercentage float64 `yaml:"loadBalancerBrokerOverloadedThresholdPercentage"`
	LoadBalancerSheddingGracePeriodMinutes int `yaml:"loadBalancerSheddingGracePeriodMinutes"`
	LoadBalancerSheddingEnabled bool `yaml:"loadBalancerSheddingEnabled"`
	LoadBalancerSheddingIntervalMinutes int `yaml:"loadBalancerSheddingIntervalMinutes"`

	// Leader-only warm-history persistence (bundle-data, broker-time-average)
	WarmHistoryPersistIntervalMinutes int `yaml:"warmHistoryPersistIntervalMinutes"`

	// Placement
	NamespaceBundleAntiAffinityMaxBundles int `yaml:"namespaceBundleAntiAffinityMaxBundles"`

	// Network capacity, for hostprobe's bandwidth percentage derivation
	BandwidthInCapacityBps float64 `yaml:"bandwidthInCapacityBps"`
	BandwidthOutCapacityBps float64 `yaml:"bandwidthOutCapacityBps"`

	// Coordination store backend: "mem" or "bolt"
	CoordStoreBackend string `yaml:"coordStoreBackend"`

	// RPC (pkg/rpc)
	RPCListenAddr string `yaml:"rpcListenAddr"`
}

// Defaults returns a Config seeded with fleetlb-node's out-of-the-box
// values, chosen to match Pulsar's own ModularLoadManagerImpl defaults.
func Defaults() *Config {
	return &Config{
		BindAddr: ":6650",
		DataDir: "./data",
		Version: "dev",
		LogLevel: "info",
		RaftBindAddr: ":7650",
		CoordStoreBackend: "mem",
		RPCListenAddr: ":7651",

		ReportUpdateMaxIntervalMinutes: 15,
		ReportUpdateThresholdPercentage: 10,

		LoadBalancerBrokerOverloadedThresholdPercentage: 85,
		LoadBalancerSheddingGracePeriodMinutes: 15,
		LoadBalancerSheddingEnabled: true,
		LoadBalancerSheddingIntervalMinutes: 1,

		WarmHistoryPersistIntervalMinutes: 5,

		NamespaceBundleAntiAffinityMaxBundles: 0, // 0 = unlimited

		BandwidthInCapacityBps: 1_000_000_000.0 / 8,
		BandwidthOutCapacityBps: 1_000_000_000.0 / 8,
	}
}

// Load reads a YAML file at path (if non-empty and it exists) over the
// defaults, then applies environment variable overrides, mirroring the
// teacher's cobra-flag layering: file values seed the baseline, env wins
// for operational overrides at deploy time.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.AdvertisedAddress = getEnv("FLEETLB_ADVERTISED_ADDRESS", c.AdvertisedAddress)
	c.BindAddr = getEnv("FLEETLB_BIND_ADDR", c.BindAddr)
	c.WebServiceURL = getEnv("FLEETLB_WEB_SERVICE_URL", c.WebServiceURL)
	c.PulsarServiceURL = getEnv("FLEETLB_SERVICE_URL", c.PulsarServiceURL)
	c.Version = getEnv("FLEETLB_VERSION", c.Version)
	c.DataDir = getEnv("FLEETLB_DATA_DIR", c.DataDir)
	c.RaftNodeID = getEnv("FLEETLB_RAFT_NODE_ID", c.RaftNodeID)
	c.RaftBindAddr = getEnv("FLEETLB_RAFT_BIND_ADDR", c.RaftBindAddr)
	c.RaftBootstrap = getEnvAsBool("FLEETLB_RAFT_BOOTSTRAP", c.RaftBootstrap)
	c.LogLevel = getEnv("FLEETLB_LOG_LEVEL", c.LogLevel)
	c.LogJSON = getEnvAsBool("FLEETLB_LOG_JSON", c.LogJSON)
	c.CoordStoreBackend = getEnv("FLEETLB_COORDSTORE_BACKEND", c.CoordStoreBackend)
	c.RPCListenAddr = getEnv("FLEETLB_RPC_LISTEN_ADDR", c.RPCListenAddr)

	c.ReportUpdateMaxIntervalMinutes = getEnvAsInt("FLEETLB_REPORT_UPDATE_MAX_INTERVAL_MINUTES", c.ReportUpdateMaxIntervalMinutes)
	c.ReportUpdateThresholdPercentage = getEnvAsFloat("FLEETLB_REPORT_UPDATE_THRESHOLD_PERCENTAGE", c.ReportUpdateThresholdPercentage)
	c.LoadBalancerBrokerOverloadedThresholdPercentage = getEnvAsFloat("FLEETLB_BROKER_OVERLOADED_THRESHOLD_PERCENTAGE", c.LoadBalancerBrokerOverloadedThresholdPercentage)
	c.LoadBalancerSheddingGracePeriodMinutes = getEnvAsInt("FLEETLB_SHEDDING_GRACE_PERIOD_MINUTES", c.LoadBalancerSheddingGracePeriodMinutes)
	c.LoadBalancerSheddingEnabled = getEnvAsBool("FLEETLB_SHEDDING_ENABLED", c.LoadBalancerSheddingEnabled)
	c.LoadBalancerSheddingIntervalMinutes = getEnvAsInt("FLEETLB_SHEDDING_INTERVAL_MINUTES", c.LoadBalancerSheddingIntervalMinutes)
	c.WarmHistoryPersistIntervalMinutes = getEnvAsInt("FLEETLB_WARM_HISTORY_PERSIST_INTERVAL_MINUTES", c.WarmHistoryPersistIntervalMinutes)
}

// Validate checks required fields and rejects nonsensical values.
func (c *Config) Validate() error {
	if c.AdvertisedAddress == "" {
		return fmt.Errorf("config: advertisedAddress is required")
	}
	if c.ReportUpdateMaxIntervalMinutes <= 0 {
		return fmt.Errorf("config: reportUpdateMaxIntervalMinutes must be positive")
	}
	if c.LoadBalancerSheddingGracePeriodMinutes < 0 {
		return fmt.Errorf("config: loadBalancerSheddingGracePeriodMinutes must not be negative")
	}
	if c.WarmHistoryPersistIntervalMinutes <= 0 {
		return fmt.Errorf("config: warmHistoryPersistIntervalMinutes must be positive")
	}
	switch c.CoordStoreBackend {
	case "mem", "bolt":
	default:
		return fmt.Errorf("config: coordStoreBackend must be %q or %q, got %q", "mem", "bolt", c.CoordStoreBackend)
	}
	return nil
}

// SheddingInterval returns LoadBalancerSheddingIntervalMinutes as a
// time.Duration for the shedding loop's ticker.
func (c *Config) SheddingInterval() time.Duration {
	return time.Duration(c.LoadBalancerSheddingIntervalMinutes) * time.Minute
}

// GracePeriod returns LoadBalancerSheddingGracePeriodMinutes as a
// time.Duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.LoadBalancerSheddingGracePeriodMinutes) * time.Minute
}

// ReportUpdateMaxInterval returns ReportUpdateMaxIntervalMinutes as a
// time.Duration for the publish predicate's wall-clock check.
func (c *Config) ReportUpdateMaxInterval() time.Duration {
	return time.Duration(c.ReportUpdateMaxIntervalMinutes) * time.Minute
}

// WarmHistoryPersistInterval returns WarmHistoryPersistIntervalMinutes as a
// time.Duration for the leader's warm-history persistence loop.
func (c *Config) WarmHistoryPersistInterval() time.Duration {
	return time.Duration(c.WarmHistoryPersistIntervalMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
