// Package doc registers documents and reads their provenance records.
package doc

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Register and inspect documents",
		Long: "Register documents by content hash and inspect their provenance.\n" +
			"Registration requires the ISSUER role. Payloads live off-chain; the\n" +
			"registry keeps only the hash, owner, issuer and pointer.",
	}
	cmd.AddCommand(
		newRegisterCmd(v),
		newPutCmd(v),
		newFetchCmd(v),
		newVerifyCmd(v),
		newShowCmd(v),
		newListCmd(v),
	)
	return cmd
}

// hashFile returns the sha256 document hash of the file at path.
func hashFile(path string) (registry.Hash, error) {
	f, err := os.Open(path) //nolint:gosec // user-supplied path is the point
	if err != nil {
		return registry.Hash{}, err
	}
	defer func() { _ = f.Close() }()
	return hashReader(f)
}

func hashReader(r io.Reader) (registry.Hash, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return registry.Hash{}, err
	}
	var out registry.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// hashArg resolves the document hash from --file or a hex argument.
func hashArg(args []string, file string) (registry.Hash, error) {
	switch {
	case file != "" && len(args) > 0:
		return registry.Hash{}, fmt.Errorf("pass either a hash or --file, not both")
	case file != "":
		return hashFile(file)
	case len(args) > 0:
		return registry.ParseHash(args[0])
	default:
		return registry.Hash{}, fmt.Errorf("a document hash or --file is required")
	}
}

func newRegisterCmd(v *viper.Viper) *cobra.Command {
	var file, owner, pointer string
	cmd := &cobra.Command{
		Use:   "register [hash]",
		Short: "Register a document hash (ISSUER only)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hashArg(args, file)
			if err != nil {
				return err
			}
			return cli.Run(cmd, v, true, func(ctx context.Context, s *cli.Session) error {
				o, err := ownerOrSelf(ctx, s, owner)
				if err != nil {
					return err
				}
				rc, err := s.Client.RegisterDocument(ctx, o, h.String(), pointer)
				if err != nil {
					return err
				}
				return cli.ReceiptResult(s.Out, "document-registered", "Document registered", rc).
					With("Hash", h.String()).
					With("Owner", o).
					With("Pointer", pointer).
					Render()
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "hash this file instead of passing a hash")
	cmd.Flags().StringVar(&owner, "owner", "", "document owner (default: own key)")
	cmd.Flags().StringVar(&pointer, "pointer", "", "off-chain location of the payload")
	return cmd
}

func ownerOrSelf(ctx context.Context, s *cli.Session, owner string) (string, error) {
	if owner == "" {
		return s.Self(ctx)
	}
	return s.Resolve(owner)
}

func newVerifyCmd(v *viper.Viper) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify [hash]",
		Short: "Check whether a document is registered",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hashArg(args, file)
			if err != nil {
				return err
			}
			return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
				ok, err := s.Client.Verify(ctx, h.String())
				if err != nil {
					return err
				}
				return s.Out.KV("document-verification").
					Set("Hash", h.String()).
					Set("Registered", ok).
					Render()
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "hash this file instead of passing a hash")
	return cmd
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show <hash>",
		Short: "Show a document's provenance record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := registry.ParseHash(args[0])
			if err != nil {
				return err
			}
			return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
				d, err := s.Client.Document(ctx, h.String())
				if err != nil {
					return err
				}
				return s.Out.KV("document").
					Set("Hash", d.Hash).
					Set("Owner", d.Owner).
					Set("Issuer", d.Issuer).
					Set("Pointer", d.Pointer).
					Set("Created At", time.Unix(d.CreatedAt, 0).UTC().Format(time.RFC3339)).
					Render()
			})
		},
	}
}

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list [owner]",
		Short: "List documents owned by a principal (default: own key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
				owner, err := s.PrincipalArg(ctx, args, 0)
				if err != nil {
					return err
				}
				hashes, err := s.Client.DocumentsByOwner(ctx, owner)
				if err != nil {
					return err
				}
				return s.Out.StringList("owner-documents").Add(hashes...).Render()
			})
		},
	}
}
