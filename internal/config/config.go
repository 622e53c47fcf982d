package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the relay node configuration.
type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Genesis       GenesisConfig       `mapstructure:"genesis"`
	Storage       BackendConfig       `mapstructure:"storage"`
	Feed          FeedConfig          `mapstructure:"feed"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	ClockSkew    time.Duration `mapstructure:"clock_skew"`
}

// GenesisConfig names the first administrator. Admin is a principal
// address, an algo:hex public key, or empty to start uninitialized.
type GenesisConfig struct {
	Admin string `mapstructure:"admin"`
}

type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

type FeedConfig struct {
	BufferSize int         `mapstructure:"buffer_size"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig enables the Kafka sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	ClientID          string   `mapstructure:"client_id"`
	Encoding          string   `mapstructure:"encoding"`
	CreateTopic       bool     `mapstructure:"create_topic"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// Validate rejects settings the node cannot start with. Storage options
// are checked by the backend factory.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.HTTP.Addr != "", "http.addr is required")
	check(c.HTTP.MaxBodyBytes > 0, "http.max_body_bytes must be positive, got %d", c.HTTP.MaxBodyBytes)
	check(c.HTTP.ClockSkew >= 0, "http.clock_skew must not be negative")
	check(c.Storage.Backend != "", "storage.backend is required")
	check(c.Feed.BufferSize > 0, "feed.buffer_size must be positive, got %d", c.Feed.BufferSize)
	if len(c.Feed.Kafka.Brokers) > 0 {
		k := c.Feed.Kafka
		check(k.Topic != "", "feed.kafka.topic is required with brokers")
		check(slices.Contains([]string{"json", "proto"}, k.Encoding), "feed.kafka.encoding %q is not json or proto", k.Encoding)
		check(!k.CreateTopic || (k.Partitions > 0 && k.ReplicationFactor > 0),
			"feed.kafka.partitions and replication_factor must be positive to create the topic")
	}
	return errors.Join(errs...)
}

// BindServeFlags registers the serve command's flags.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address")
	f.String("admin", "", "genesis administrator (address or algo:hex key)")
	f.String("backend", "", "storage backend (memory, badger, sqlite, redis, postgres)")
	f.String("metrics-addr", "", "metrics HTTP listen address")
	f.StringSlice("kafka-brokers", nil, "publish committed events to these Kafka brokers")

	bindFlags(v, f, map[string]string{
		"http.addr":                  "addr",
		"genesis.admin":              "admin",
		"storage.backend":            "backend",
		"observability.metrics_addr": "metrics-addr",
		"feed.kafka.brokers":         "kafka-brokers",
	})
}

// Load reads and validates the node configuration.
func Load(v *viper.Viper, configFile string) (Config, error) {
	var cfg Config
	if err := decode(v, configFile, serverDefaults(), &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
