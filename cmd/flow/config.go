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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/AleutianAI/AleutianFlow/services/flow/runstore"
	"github.com/AleutianAI/AleutianFlow/services/flow/telemetry"
)

// defaultConfigFile is read when --config is not given. Its absence is not
// an error.
const defaultConfigFile = "flow.yaml"

// Config is the flow CLI and server configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
	Logging   LoggingConfig    `mapstructure:"logging"`

	// Catalog is a tool catalog YAML file. Empty uses the embedded catalog.
	Catalog string `mapstructure:"catalog"`
}

// ServerConfig configures `flow serve` and run limits shared with the CLI.
type ServerConfig struct {
	Address           string        `mapstructure:"address" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// RunTimeout bounds a whole run. Zero means none.
	RunTimeout time.Duration `mapstructure:"run_timeout" validate:"gte=0"`

	// NodeTimeout bounds each node unless the node sets its own.
	NodeTimeout time.Duration `mapstructure:"node_timeout" validate:"gte=0"`

	// ProgressRate is the number of streamed progress events per second per run.
	ProgressRate  float64 `mapstructure:"progress_rate" validate:"gte=0"`
	ProgressBurst int     `mapstructure:"progress_burst" validate:"gte=0"`

	Debug bool `mapstructure:"debug"`
}

// StorageConfig selects where the server keeps finished runs.
type StorageConfig struct {
	Path       string        `mapstructure:"path" validate:"required_without=InMemory"`
	InMemory   bool          `mapstructure:"in_memory"`
	SyncWrites bool          `mapstructure:"sync_writes"`
	GCInterval time.Duration `mapstructure:"gc_interval" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `mapstructure:"dir"`
	JSON  bool   `mapstructure:"json"`
	Quiet bool   `mapstructure:"quiet"`
}

// DefaultConfig returns defaults for a local installation.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:           ":12230",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			ProgressRate:      10,
			ProgressBurst:     5,
		},
		Storage: StorageConfig{
			Path:       "~/.aleutian/flow/runs",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// RunStoreConfig converts the storage section for runstore.OpenBadgerStore.
func (c StorageConfig) RunStoreConfig() runstore.Config {
	if c.InMemory {
		return runstore.InMemoryConfig()
	}
	cfg := runstore.DefaultConfig(expandHome(c.Path))
	cfg.SyncWrites = c.SyncWrites
	cfg.GCInterval = c.GCInterval
	return cfg
}

var configValidate = validator.New()

// loadConfig reads path over the defaults and applies FLOW_* environment
// overrides, e.g. FLOW_SERVER_ADDRESS or FLOW_LOGGING_LEVEL.
//
// A missing file is an error only when explicit is true.
func loadConfig(path string, explicit bool) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix("FLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return cfg, fmt.Errorf("error reading config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("error checking config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := configValidate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.run_timeout", d.Server.RunTimeout)
	v.SetDefault("server.node_timeout", d.Server.NodeTimeout)
	v.SetDefault("server.progress_rate", d.Server.ProgressRate)
	v.SetDefault("server.progress_burst", d.Server.ProgressBurst)
	v.SetDefault("server.debug", d.Server.Debug)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.sync_writes", d.Storage.SyncWrites)
	v.SetDefault("storage.gc_interval", d.Storage.GCInterval)

	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.service_version", d.Telemetry.ServiceVersion)
	v.SetDefault("telemetry.environment", d.Telemetry.Environment)
	v.SetDefault("telemetry.trace_exporter", d.Telemetry.TraceExporter)
	v.SetDefault("telemetry.metric_exporter", d.Telemetry.MetricExporter)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.otlp_insecure", d.Telemetry.OTLPInsecure)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.json", d.Logging.JSON)
	v.SetDefault("logging.quiet", d.Logging.Quiet)

	v.SetDefault("catalog", d.Catalog)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
