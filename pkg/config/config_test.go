package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 15, cfg.ReportUpdateMaxIntervalMinutes)
	assert.Equal(t, 85.0, cfg.LoadBalancerBrokerOverloadedThresholdPercentage)
	assert.True(t, cfg.LoadBalancerSheddingEnabled)
	assert.Equal(t, "mem", cfg.CoordStoreBackend)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	os.Setenv("FLEETLB_ADVERTISED_ADDRESS", "broker-1:6650")
	defer os.Unsetenv("FLEETLB_ADVERTISED_ADDRESS")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "broker-1:6650", cfg.AdvertisedAddress)
	assert.Equal(t, 15, cfg.ReportUpdateMaxIntervalMinutes)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetlb.yaml")
	err := os.WriteFile(path, []byte(`
advertisedAddress: broker-2:6650
reportUpdateThresholdPercentage: 25
loadBalancerSheddingEnabled: false
coordStoreBackend: bolt
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "broker-2:6650", cfg.AdvertisedAddress)
	assert.Equal(t, 25.0, cfg.ReportUpdateThresholdPercentage)
	assert.False(t, cfg.LoadBalancerSheddingEnabled)
	assert.Equal(t, "bolt", cfg.CoordStoreBackend)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleetlb.yaml")
	err := os.WriteFile(path, []byte(`
advertisedAddress: broker-3:6650
reportUpdateThresholdPercentage: 25
`), 0o644)
	require.NoError(t, err)

	os.Setenv("FLEETLB_REPORT_UPDATE_THRESHOLD_PERCENTAGE", "40")
	defer os.Unsetenv("FLEETLB_REPORT_UPDATE_THRESHOLD_PERCENTAGE")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "broker-3:6650", cfg.AdvertisedAddress)
	assert.Equal(t, 40.0, cfg.ReportUpdateThresholdPercentage)
}

func TestValidate_RejectsEmptyAdvertisedAddress(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsUnknownCoordStoreBackend(t *testing.T) {
	cfg := Defaults()
	cfg.AdvertisedAddress = "broker-1:6650"
	cfg.CoordStoreBackend = "etcd"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 15*60.0, cfg.ReportUpdateMaxInterval().Seconds())
	assert.Equal(t, 15*60.0, cfg.GracePeriod().Seconds())
	assert.Equal(t, 60.0, cfg.SheddingInterval().Seconds())
	assert.Equal(t, 5*60.0, cfg.WarmHistoryPersistInterval().Seconds())
}

func TestValidate_RejectsNonPositiveWarmHistoryInterval(t *testing.T) {
	cfg := Defaults()
	cfg.AdvertisedAddress = "broker-1:6650"
	cfg.WarmHistoryPersistIntervalMinutes = 0
	err := cfg.Validate()
	require.Error(t, err)
}
