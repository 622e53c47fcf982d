package keys

import (
	"fmt"
	"path/filepath"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/pkg/identity"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGenerateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "generate [alias]",
		Short: "Generate a new key",
		Long:  "Generate a new key. The first aliased key becomes the default.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alias := ""
			if len(args) > 0 {
				alias = args[0]
			}

			key, err := openKeyring(v).Generate(cmd.Context(), alias)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			out := cli.NewOutputFromViper(v)
			return out.Result("key-generated", "Key created").
				With("Principal", key.Principal()).
				With("Public Key", identity.EncodePublicKey(key.Keypair.PublicKey())).
				With("Alias", alias).
				With("Stored at", filepath.Join(dataDir(v), "keys", key.Address+".key")).
				Render()
		},
	}
}
