// Package access grants and revokes viewer access to registered documents.
package access

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/internal/registry"
	"github.com/gezibash/arc-provenance/pkg/identity"
	"github.com/gezibash/arc-provenance/pkg/keyseal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// maxKeyFile bounds the key material read by access grant.
const maxKeyFile = 64 << 10

func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Manage document viewers",
		Long: "Grant, revoke and inspect viewer access. Only the document owner or an\n" +
			"ISSUER may change access. A grant may carry an encrypted key blob that\n" +
			"only the viewer, the owner or an ISSUER can read back.",
	}
	cmd.AddCommand(
		newGrantCmd(v),
		newRevokeCmd(v),
		newCheckCmd(v),
		newKeyCmd(v),
	)
	return cmd
}

func newGrantCmd(v *viper.Viper) *cobra.Command {
	var keyFile, sealTo string
	cmd := &cobra.Command{
		Use:   "grant <hash> <viewer>",
		Short: "Grant a viewer access to a document",
		Long: "Grant a viewer access to a document. The viewer is an address, an\n" +
			"algo:hex public key or an @contact. With --key-file the file's bytes are\n" +
			"stored as the grant's key blob; add --seal-to (or name the viewer by a\n" +
			"public key or a contact holding one) to encrypt them to the viewer first.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := registry.ParseHash(args[0])
			if err != nil {
				return err
			}
			if sealTo != "" && keyFile == "" {
				return errors.New("--seal-to requires --key-file")
			}

			return cli.Run(cmd, v, true, func(ctx context.Context, s *cli.Session) error {
				viewer, err := s.Resolve(args[1])
				if err != nil {
					return err
				}
				seal := sealTo
				if seal == "" {
					if pk, ok := s.PublicKeyOf(args[1]); ok {
						seal = identity.EncodePublicKey(pk)
					}
				}
				blob, err := keyBlob(keyFile, seal, viewer)
				if err != nil {
					return err
				}
				rc, err := s.Client.GrantAccess(ctx, h.String(), viewer, blob)
				if err != nil {
					return err
				}
				return cli.ReceiptResult(s.Out, "access-granted", "Access granted", rc).
					With("Hash", h.String()).
					With("Viewer", viewer).
					With("Key Blob Bytes", len(blob)).
					Render()
			})
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "file holding the document key to attach")
	cmd.Flags().StringVar(&sealTo, "seal-to", "", "encrypt the key to this algo:hex viewer public key")
	return cmd
}

// keyBlob reads keyFile and, when sealTo is set, seals it to that key. The
// sealing key must belong to viewer.
func keyBlob(keyFile, sealTo, viewer string) ([]byte, error) {
	if keyFile == "" {
		return nil, nil
	}
	fi, err := os.Stat(keyFile)
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxKeyFile {
		return nil, fmt.Errorf("key file %s exceeds %d bytes", keyFile, maxKeyFile)
	}
	raw, err := os.ReadFile(keyFile) //nolint:gosec // user-supplied path is the point
	if err != nil {
		return nil, err
	}
	if sealTo == "" {
		return raw, nil
	}

	pk, err := identity.DecodePublicKey(sealTo)
	if err != nil {
		return nil, fmt.Errorf("--seal-to: %w", err)
	}
	if pk.Address().String() != viewer {
		return nil, errors.New("--seal-to key does not belong to the viewer")
	}
	return keyseal.Seal(raw, pk)
}

func newRevokeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <hash> <viewer>",
		Short: "Revoke a viewer's access",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := registry.ParseHash(args[0])
			if err != nil {
				return err
			}
			return cli.Run(cmd, v, true, func(ctx context.Context, s *cli.Session) error {
				viewer, err := s.Resolve(args[1])
				if err != nil {
					return err
				}
				rc, err := s.Client.RevokeAccess(ctx, h.String(), viewer)
				if err != nil {
					return err
				}
				return cli.ReceiptResult(s.Out, "access-revoked", "Access revoked", rc).
					With("Hash", h.String()).
					With("Viewer", viewer).
					Render()
			})
		},
	}
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check <hash> [viewer]",
		Short: "Report whether a viewer may see a document (default: own key)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := registry.ParseHash(args[0])
			if err != nil {
				return err
			}
			return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
				viewer, err := s.PrincipalArg(ctx, args, 1)
				if err != nil {
					return err
				}
				ok, err := s.Client.CanView(ctx, h.String(), viewer)
				if err != nil {
					return err
				}
				return s.Out.KV("access-check").
					Set("Hash", h.String()).
					Set("Viewer", viewer).
					Set("Allowed", ok).
					Render()
			})
		},
	}
}

func newKeyCmd(v *viper.Viper) *cobra.Command {
	var open bool
	var output string
	cmd := &cobra.Command{
		Use:   "key <hash> [viewer]",
		Short: "Read a grant's key blob (viewer, owner or ISSUER)",
		Long: "Read the key blob stored with a grant. The viewer defaults to the own\n" +
			"key. With --open the blob is decrypted with the own key, which only\n" +
			"works for blobs sealed to it.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := registry.ParseHash(args[0])
			if err != nil {
				return err
			}
			return cli.Run(cmd, v, true, func(ctx context.Context, s *cli.Session) error {
				viewer, err := s.PrincipalArg(ctx, args, 1)
				if err != nil {
					return err
				}
				blob, err := s.Client.ViewerKey(ctx, h.String(), viewer)
				if err != nil {
					return err
				}
				if open {
					blob, err = keyseal.Open(blob, s.Key.Keypair.Seed())
					if err != nil {
						return fmt.Errorf("open key blob: %w", err)
					}
				}
				if output != "" {
					if err := os.WriteFile(output, blob, 0o600); err != nil {
						return err
					}
				}
				kv := s.Out.KV("viewer-key").
					Set("Hash", h.String()).
					Set("Viewer", viewer).
					Set("Opened", open).
					Set("Bytes", len(blob))
				if output != "" {
					kv.Set("Written To", output)
				} else {
					kv.Set("Key", hex.EncodeToString(blob))
				}
				return kv.Render()
			})
		},
	}
	cmd.Flags().BoolVar(&open, "open", false, "decrypt a sealed blob with the own key")
	cmd.Flags().StringVarP(&output, "output-file", "O", "", "write the key to this file instead of printing hex")
	return cmd
}
