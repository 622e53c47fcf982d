package doc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/internal/offchain"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func storeConfig(s *cli.Session, kind string) map[string]string {
	switch kind {
	case "s3":
		return s.Config.Offchain.S3
	default:
		return s.Config.Offchain.FS
	}
}

func newPutCmd(v *viper.Viper) *cobra.Command {
	var store, owner string
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a payload off-chain and register its hash (ISSUER only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hashFile(args[0])
			if err != nil {
				return err
			}
			return cli.Run(cmd, v, true, func(ctx context.Context, s *cli.Session) error {
				kind := store
				if kind == "" {
					kind = s.Config.Offchain.Store
				}
				o, err := ownerOrSelf(ctx, s, owner)
				if err != nil {
					return err
				}

				st, err := offchain.New(ctx, kind, storeConfig(s, kind))
				if err != nil {
					return err
				}
				pointer, err := upload(ctx, st, h, args[0])
				if err != nil {
					return err
				}

				rc, err := s.Client.RegisterDocument(ctx, o, h.String(), pointer)
				if err != nil {
					return fmt.Errorf("uploaded to %s but registration failed: %w", pointer, err)
				}
				return cli.ReceiptResult(s.Out, "document-registered", "Document stored and registered", rc).
					With("Hash", h.String()).
					With("Owner", o).
					With("Pointer", pointer).
					Render()
			})
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "off-chain store: fs or s3 (default from offchain.store)")
	cmd.Flags().StringVar(&owner, "owner", "", "document owner (default: own key)")
	return cmd
}

func upload(ctx context.Context, st offchain.Store, h registry.Hash, path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // user-supplied path is the point
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return st.Put(ctx, h, f)
}

func newFetchCmd(v *viper.Viper) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "fetch <hash>",
		Short: "Download a registered payload and check it against its hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := registry.ParseHash(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				return errors.New("--output-file is required")
			}
			return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
				d, err := s.Client.Document(ctx, h.String())
				if err != nil {
					return err
				}
				if d.Pointer == "" {
					return fmt.Errorf("document %s has no pointer", h)
				}
				n, err := fetchTo(ctx, d.Pointer, h, output, s.Config.Offchain.S3)
				if err != nil {
					return err
				}
				return s.Out.Result("document-fetched", "Payload verified").
					With("Hash", h.String()).
					With("Pointer", d.Pointer).
					With("Bytes", n).
					With("Written To", output).
					Render()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output-file", "O", "", "write the payload to this file")
	return cmd
}

// fetchTo downloads into a temp file beside dst and renames it into place
// only once the content matched h.
func fetchTo(ctx context.Context, pointer string, h registry.Hash, dst string, s3Config map[string]string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := offchain.Fetch(ctx, pointer, h, tmp, s3Config)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return n, os.Rename(tmp.Name(), dst)
}
