/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoader_LoadFromFile(t *testing.T) {
	fname := path.Join(os.TempDir(), "go-ratelimit-loader-test.yaml")
	require.NoError(t, os.WriteFile(fname, []byte(testServiceConfigYAML), 0600))
	defer func() { require.NoError(t, os.Remove(fname)) }()

	cfg := &testServiceConfig{}
	err := NewLoader(NewViperAdapter()).LoadFromFile(fname, DataTypeYAML, cfg)
	require.NoError(t, err)
	require.Equal(t, "storage-api", cfg.Name)
	require.Equal(t, 100, cfg.Rate)
	require.Equal(t, 20, cfg.Burst)
}

func TestLoader_LoadFromFileNotExisting(t *testing.T) {
	cfg := &testServiceConfig{}
	err := NewLoader(NewViperAdapter()).LoadFromFile(
		path.Join(os.TempDir(), "go-ratelimit-not-existing.yaml"), DataTypeYAML, cfg)
	require.Error(t, err)
}

func TestLoader_LoadMultipleConfigs(t *testing.T) {
	cfgData := `
service:
  name: storage-api
  limits:
    rate: 100
    burst: 20
api:
  rps: 200
`
	svcCfg := &testServiceConfig{}
	zoneCfg := &testZoneConfig{keyPrefix: "api"}
	err := NewLoader(NewViperAdapter()).LoadFromReader(
		bytes.NewBufferString(cfgData), DataTypeYAML, svcCfg, zoneCfg)
	require.NoError(t, err)

	require.Equal(t, "storage-api", svcCfg.Name)
	require.Equal(t, 20, svcCfg.Burst)
	require.Equal(t, 200, zoneCfg.RPS)

	// The default from SetProviderDefaults is used for the key missing in the data.
	require.Equal(t, 1000, zoneCfg.MaxKeys)
}

func TestNewDefaultLoader_EnvVars(t *testing.T) {
	t.Setenv("RLTEST_SERVICE_LIMITS_RATE", "300")

	cfg := &testServiceConfig{}
	err := NewDefaultLoader("rltest").LoadFromReader(
		bytes.NewBufferString(testServiceConfigYAML), DataTypeYAML, cfg)
	require.NoError(t, err)

	// The environment variable overrides the value from the data.
	require.Equal(t, 300, cfg.Rate)
	require.Equal(t, "storage-api", cfg.Name)
}
