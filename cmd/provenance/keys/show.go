package keys

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/internal/names"
	"github.com/gezibash/arc-provenance/pkg/identity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show [alias|address]",
		Short: "Show key details (default key when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := v.GetString("key")
			if len(args) > 0 {
				name = args[0]
			}

			key, err := openKeyring(v).LoadNamed(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}

			kv := cli.NewOutputFromViper(v).KV("key-details").
				Set("Principal", key.Principal()).
				Set("Petname", names.PetnameOf(key.Address)).
				Set("Public Key", identity.EncodePublicKey(key.Keypair.PublicKey()))
			if !key.Metadata.CreatedAt.IsZero() {
				kv.Set("Created At", key.Metadata.CreatedAt.Format(time.RFC3339))
			}
			return kv.
				Set("Key File", filepath.Join(dataDir(v), "keys", key.Address+".key")).
				Render()
		},
	}
}
