// Package config loads server and CLI configuration from flags, environment
// (PROVENANCE_*) and an optional provenance.{yaml,json,toml} file.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. PROVENANCE_HTTP_ADDR.
const EnvPrefix = "PROVENANCE"

// DefaultServer is the relay URL the CLI talks to when none is configured.
const DefaultServer = "http://localhost:8545"

// DefaultDataDir returns ~/.provenance, or a relative .provenance when the
// home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".provenance"
	}
	return filepath.Join(home, ".provenance")
}

// serverDefaults are applied by Load before any file, env or flag value.
func serverDefaults() map[string]any {
	return map[string]any{
		"data_dir": DefaultDataDir(),

		"http.addr":           ":8545",
		"http.read_timeout":   10 * time.Second,
		"http.write_timeout":  30 * time.Second,
		"http.max_body_bytes": int64(1 << 20),
		"http.clock_skew":     5 * time.Minute,

		"genesis.admin":   "",
		"storage.backend": "badger",

		"feed.buffer_size":              256,
		"feed.kafka.brokers":            []string{},
		"feed.kafka.topic":              "provenance.events",
		"feed.kafka.client_id":          "provenance",
		"feed.kafka.encoding":           "json",
		"feed.kafka.create_topic":       false,
		"feed.kafka.partitions":         1,
		"feed.kafka.replication_factor": 1,

		"observability.log_level":       "info",
		"observability.log_format":      "text",
		"observability.metrics_addr":    ":9090",
		"observability.otlp_endpoint":   "",
		"observability.otlp_protocol":   "http",
		"observability.service_name":    "provenance",
		"observability.service_version": "dev",
	}
}

// clientDefaults are applied by LoadClient.
func clientDefaults() map[string]any {
	dataDir := DefaultDataDir()
	return map[string]any{
		"server":                   DefaultServer,
		"data_dir":                 dataDir,
		"output":                   "text",
		"observability.log_level":  "info",
		"observability.log_format": "text",
		"offchain.store":           "fs",
		"offchain.fs.path":         filepath.Join(dataDir, "objects"),
		"offchain.s3.region":       "us-east-1",
		"offchain.s3.prefix":       "documents/",
	}
}
