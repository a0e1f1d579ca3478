// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "flow.yaml"), false)
	require.NoError(t, err)

	assert.Equal(t, ":12230", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "aleutian-flow", cfg.Telemetry.ServiceName)
	assert.True(t, cfg.Storage.SyncWrites)
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), true)
	assert.Error(t, err)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: "127.0.0.1:9000"
  node_timeout: 45s
storage:
  in_memory: true
logging:
  level: debug
catalog: ./catalog.yaml
`), 0o644))
	t.Setenv("FLOW_SERVER_ADDRESS", "0.0.0.0:9100")
	t.Setenv("FLOW_TELEMETRY_METRIC_EXPORTER", "none")

	cfg, err := loadConfig(path, true)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9100", cfg.Server.Address, "env overrides file")
	assert.Equal(t, 45*time.Second, cfg.Server.NodeTimeout)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "./catalog.yaml", cfg.Catalog)
	assert.Equal(t, "none", cfg.Telemetry.MetricExporter)
	assert.True(t, cfg.Storage.RunStoreConfig().InMemory)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"level":    "logging:\n  level: loud\n",
		"exporter": "telemetry:\n  trace_exporter: carrier-pigeon\n",
		"shutdown": "server:\n  shutdown_timeout: 0s\n",
		"syntax":   "server: [unclosed\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "flow.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := loadConfig(path, true)
			assert.Error(t, err)
		})
	}
}

func TestStorageConfig_RunStoreConfig(t *testing.T) {
	cfg := StorageConfig{Path: "/var/lib/flow", SyncWrites: false, GCInterval: time.Minute}
	rs := cfg.RunStoreConfig()
	assert.Equal(t, "/var/lib/flow", rs.Path)
	assert.False(t, rs.SyncWrites)
	assert.Equal(t, time.Minute, rs.GCInterval)
	assert.False(t, rs.InMemory)
}
