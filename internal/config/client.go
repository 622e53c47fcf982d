package config

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ClientConfig is what every provenance subcommand reads.
type ClientConfig struct {
	Server        string              `mapstructure:"server"`
	KeyName       string              `mapstructure:"key"`
	DataDir       string              `mapstructure:"data_dir"`
	Output        string              `mapstructure:"output"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Offchain      OffchainConfig      `mapstructure:"offchain"`
}

// OffchainConfig selects where `doc put` uploads payloads. S3 also supplies
// region, endpoint and credentials when fetching s3:// pointers.
type OffchainConfig struct {
	Store string            `mapstructure:"store"`
	FS    map[string]string `mapstructure:"fs"`
	S3    map[string]string `mapstructure:"s3"`
}

// ResolvedServer returns the configured relay URL, then PROVENANCE_SERVER,
// then DefaultServer.
func (c ClientConfig) ResolvedServer() string {
	switch {
	case c.Server != "":
		return c.Server
	case os.Getenv(EnvPrefix+"_SERVER") != "":
		return os.Getenv(EnvPrefix + "_SERVER")
	}
	return DefaultServer
}

func (c ClientConfig) ResolvedDataDir() string {
	if c.DataDir == "" {
		return DefaultDataDir()
	}
	return c.DataDir
}

// BindCommonFlags registers the persistent flags shared by all subcommands.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	f.String("config", "", "config file path")
	f.String("data-dir", "", "data directory (default ~/.provenance)")
	f.String("server", "", "relay URL (default "+DefaultServer+")")
	f.String("key", "", "key name or alias to sign with")
	f.StringP("output", "o", "", "output format (text, json, markdown)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (text, json, logfmt)")

	bindFlags(v, f, map[string]string{
		"data_dir":                 "data-dir",
		"server":                   "server",
		"key":                      "key",
		"output":                   "output",
		"observability.log_level":  "log-level",
		"observability.log_format": "log-format",
	})
}

// LoadClient reads the CLI configuration from flags, env and file.
func LoadClient(v *viper.Viper, configFile string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := decode(v, configFile, clientDefaults(), &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}
