package cli

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gezibash/arc-provenance/internal/config"
	"github.com/gezibash/arc-provenance/internal/keyring"
	"github.com/gezibash/arc-provenance/internal/names"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/pkg/client"
	"github.com/gezibash/arc-provenance/pkg/identity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DefaultTimeout bounds a single relay round trip issued by a command.
const DefaultTimeout = 30 * time.Second

// CommandConfig configures a CLI command run through RunCommand.
type CommandConfig struct {
	// Name identifies the command in logs.
	Name string

	// Viper holds the command's configuration with flags already bound.
	Viper *viper.Viper

	// ConfigFile is the explicit --config path, if any.
	ConfigFile string

	// Timeout for the command operation. Zero means no timeout.
	Timeout time.Duration

	// Signed loads the configured key and attaches it to the client.
	Signed bool

	// Run is the command's business logic.
	Run func(ctx context.Context, s *Session) error
}

// Session is everything a subcommand needs once config is resolved.
type Session struct {
	Config  config.ClientConfig
	Keyring *keyring.Keyring
	Key     *keyring.Key
	Names   *names.Store
	Client  *client.Client
	Out     *Output

	logFile io.Closer
}

// Open resolves client config, sets up file logging and builds the relay
// client. When signed is set the configured key must load.
func Open(ctx context.Context, v *viper.Viper, configFile string, signed bool) (*Session, error) {
	if v == nil {
		return nil, errors.New("viper required")
	}
	cfg, err := config.LoadClient(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	s := &Session{
		Config: cfg,
		Out:    NewOutput(ParseFormat(cfg.Output), os.Stdout),
	}
	dataDir := cfg.ResolvedDataDir()
	s.Keyring = keyring.New(dataDir)
	s.logFile = setupLogging(dataDir, cfg.Observability)
	s.Names = names.New(dataDir)
	if err := s.Names.Load(); err != nil {
		_ = s.Close()
		return nil, err
	}

	var opts []client.Option
	if signed {
		key, err := s.Keyring.LoadNamed(ctx, cfg.KeyName)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("load key: %w", err)
		}
		s.Key = key
		opts = append(opts, client.WithIdentity(key.Keypair))
	}

	c, err := client.New(cfg.ResolvedServer(), opts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Client = c
	return s, nil
}

// Close releases the CLI log file.
func (s *Session) Close() error {
	if s.logFile == nil {
		return nil
	}
	return s.logFile.Close()
}

// setupLogging sends client-side logs to {data_dir}/log/cli.log so they
// never interleave with command output. Logging stays on stderr when the
// file cannot be opened.
func setupLogging(dataDir string, obs config.ObservabilityConfig) io.Closer {
	level, format := obs.LogLevel, obs.LogFormat
	if format == "" {
		format = "text"
	}

	logDir := filepath.Join(dataDir, "log")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		observability.SetupLogger(level, format, os.Stderr)
		return nil
	}
	f, err := os.OpenFile(filepath.Join(logDir, "cli.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is constructed from known data dir
	if err != nil {
		observability.SetupLogger(level, format, os.Stderr)
		return nil
	}
	observability.SetupLogger(level, format, f)
	return f
}

// RunCommand executes a CLI command with standard infrastructure setup.
// Handles: Open -> timeout -> Run -> Close.
func RunCommand(ctx context.Context, cfg CommandConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("command name required")
	}
	if cfg.Viper == nil {
		return fmt.Errorf("viper required")
	}
	if cfg.Run == nil {
		return fmt.Errorf("run function required")
	}

	s, err := Open(ctx, cfg.Viper, cfg.ConfigFile, cfg.Signed)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	return cfg.Run(ctx, s)
}

// Run executes fn as cmd with the --config flag and DefaultTimeout applied.
func Run(cmd *cobra.Command, v *viper.Viper, signed bool, fn func(ctx context.Context, s *Session) error) error {
	return RunCommand(cmd.Context(), CommandConfig{
		Name:       cmd.CommandPath(),
		Viper:      v,
		ConfigFile: ConfigFile(cmd),
		Timeout:    DefaultTimeout,
		Signed:     signed,
		Run:        fn,
	})
}

// ConfigFile returns the value of the inherited --config flag.
func ConfigFile(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil {
		return f.Value.String()
	}
	return ""
}

// Self returns the principal of the configured key, loading it when the
// session was opened unsigned.
func (s *Session) Self(ctx context.Context) (string, error) {
	if s.Key == nil {
		key, err := s.Keyring.LoadNamed(ctx, s.Config.KeyName)
		if err != nil {
			return "", fmt.Errorf("load key: %w", err)
		}
		s.Key = key
	}
	return s.Key.Principal(), nil
}

// ResolvePrincipal accepts a 0x address or an algo:hex public key and
// returns the 0x address.
func ResolvePrincipal(s string) (string, error) {
	if strings.Contains(s, ":") || len(s) >= 2*ed25519.PublicKeySize {
		pk, err := identity.DecodePublicKey(s)
		if err == nil {
			err = pk.Validate()
		}
		if err != nil {
			return "", fmt.Errorf("public key %q: %w", s, err)
		}
		return pk.Address().String(), nil
	}
	p, err := registry.ParsePrincipal(s)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// Resolve is ResolvePrincipal with @name contact lookup.
func (s *Session) Resolve(ref string) (string, error) {
	if names.IsReference(ref) {
		e, err := s.Names.Lookup(ref)
		if err != nil {
			return "", err
		}
		return e.Principal, nil
	}
	return ResolvePrincipal(ref)
}

// PublicKeyOf returns the public key behind ref when ref is an algo:hex key
// or a contact added from one.
func (s *Session) PublicKeyOf(ref string) (identity.PublicKey, bool) {
	if names.IsReference(ref) {
		e, err := s.Names.Lookup(ref)
		if err != nil || e.PublicKey == "" {
			return identity.PublicKey{}, false
		}
		ref = e.PublicKey
	}
	return identity.TryDecodePublicKey(ref)
}

// Label returns the contact name for principal, or its petname.
func (s *Session) Label(principal string) string {
	if name, ok := s.Names.NameOf(principal); ok {
		return names.Prefix + name
	}
	return names.PetnameOf(principal)
}

// PrincipalArg returns args[i] resolved to a principal, or the session's own
// principal when the argument is absent.
func (s *Session) PrincipalArg(ctx context.Context, args []string, i int) (string, error) {
	if len(args) > i {
		return s.Resolve(args[i])
	}
	return s.Self(ctx)
}
