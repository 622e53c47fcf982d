package config

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func applyDefaults(v *viper.Viper, defaults map[string]any) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// bindFlags maps config keys to flag names in fs.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

// readConfig layers PROVENANCE_* env over the config file. Without an
// explicit path it searches ., ~/.provenance and /etc/provenance and a
// missing file is fine.
func readConfig(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		return v.ReadInConfig()
	}
	v.SetConfigName("provenance")
	for _, dir := range []string{".", "$HOME/.provenance", "/etc/provenance"} {
		v.AddConfigPath(dir)
	}
	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return err
	}
	return nil
}

// decode applies defaults, reads every source and unmarshals into out.
func decode(v *viper.Viper, configFile string, defaults map[string]any, out any) error {
	applyDefaults(v, defaults)
	if err := readConfig(v, configFile); err != nil {
		return err
	}
	return v.Unmarshal(out)
}
