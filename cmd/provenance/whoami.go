package main

import (
	"context"
	"fmt"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/pkg/identity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newWhoamiCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the active identity and its next nonce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.Run(cmd, v, true, func(ctx context.Context, s *cli.Session) error {
				kv := s.Out.KV("whoami").
					Set("Principal", s.Key.Principal()).
					Set("Name", s.Label(s.Key.Principal())).
					Set("Public Key", identity.EncodePublicKey(s.Key.Keypair.PublicKey()))
				n, err := s.Client.Nonce(ctx, s.Key.Principal())
				if err != nil {
					kv.Set("Next Nonce", fmt.Sprintf("unavailable (%v)", err))
				} else {
					kv.Set("Next Nonce", n.Nonce+1)
				}
				return kv.Render()
			})
		},
	}
}
