// Package journal exports, imports and verifies the transition journal
// directly against the configured storage backend. The node must not be
// running against the same backend.
package journal

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/internal/config"
	"github.com/gezibash/arc-provenance/internal/node"
	"github.com/gezibash/arc-provenance/internal/observability"
	"github.com/gezibash/arc-provenance/internal/statestore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Export, import and verify the transition journal (offline)",
		Long: "Operate on the journal of the configured storage backend without a\n" +
			"running node. Exports are xz-compressed JSON lines, one committed\n" +
			"transition per line.",
	}
	f := cmd.PersistentFlags()
	f.String("backend", "", "storage backend (memory, badger, sqlite, redis, postgres)")
	_ = v.BindPFlag("storage.backend", f.Lookup("backend"))

	cmd.AddCommand(
		newExportCmd(v),
		newImportCmd(v),
		newVerifyCmd(v),
		newReplayCmd(v),
	)
	return cmd
}

// withStore opens the configured backend for the duration of fn.
func withStore(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, store *statestore.Store, out *cli.Output) error) (err error) {
	cfg, err := config.Load(v, cli.ConfigFile(cmd))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)

	ctx := cmd.Context()
	store, err := node.NewStateStore(ctx, cfg.DataDir, &cfg.Storage, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, store, cli.NewOutputFromViper(v))
}

func newExportCmd(v *viper.Viper) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the journal to a file or stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, v, func(ctx context.Context, store *statestore.Store, out *cli.Output) error {
				if output == "" {
					_, err := store.Export(ctx, os.Stdout)
					return err
				}
				n, err := exportFile(ctx, store, output)
				if err != nil {
					return err
				}
				return out.Result("journal-exported", "Journal exported").
					With("Entries", n).
					With("File", output).
					Render()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output-file", "O", "", "write to this file (default stdout)")
	return cmd
}

func exportFile(ctx context.Context, store *statestore.Store, path string) (n int, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // user-supplied path is the point
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return store.Export(ctx, f)
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Replay an exported journal into an empty backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, v, func(ctx context.Context, store *statestore.Store, out *cli.Output) error {
				r, closeFn, err := openInput(args[0])
				if err != nil {
					return err
				}
				defer closeFn()

				m, err := store.Import(ctx, r)
				if err != nil {
					return err
				}
				digest := m.Digest()
				return out.Result("journal-imported", "Journal imported").
					With("Height", m.Height()).
					With("Digest", "0x"+hex.EncodeToString(digest[:])).
					Render()
			})
		},
	}
}

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the stored journal and compare it with the stored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, v, func(ctx context.Context, store *statestore.Store, out *cli.Output) error {
				digest, err := store.Verify(ctx)
				if err != nil {
					return err
				}
				height, err := store.Height(ctx)
				if err != nil {
					return err
				}
				return out.Result("journal-verified", "Journal matches stored state").
					With("Height", height).
					With("Digest", "0x"+hex.EncodeToString(digest[:])).
					Render()
			})
		},
	}
}

func newReplayCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file|->",
		Short: "Replay an export in memory and print the resulting digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			m, err := statestore.Replay(r)
			if err != nil {
				return err
			}
			digest := m.Digest()
			return cli.NewOutputFromViper(v).Result("journal-replayed", "Export replayed").
				With("Height", m.Height()).
				With("Digest", "0x"+hex.EncodeToString(digest[:])).
				Render()
		},
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path) //nolint:gosec // user-supplied path is the point
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
