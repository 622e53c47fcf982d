package main

import (
	"context"
	"time"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show relay and registry status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
				st, err := s.Client.Status(ctx)
				if err != nil {
					return err
				}
				kv := s.Out.KV("status").
					Set("Server", s.Config.ResolvedServer()).
					Set("Initialized", st.Initialized).
					Set("Height", st.Height)
				if st.Timestamp > 0 {
					kv.Set("Timestamp", time.Unix(st.Timestamp, 0).UTC().Format(time.RFC3339))
				}
				return kv.
					Set("Digest", st.Digest).
					Set("Backend", st.Backend).
					Set("Keys", st.Keys).
					Set("Subscribers", st.Subscribers).
					Set("Version", st.Version).
					Render()
			})
		},
	}
}
