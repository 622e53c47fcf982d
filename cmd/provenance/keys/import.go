package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newImportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "import <hex-seed> [alias]",
		Short: "Import a key from a hex-encoded seed",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
			if err != nil {
				return fmt.Errorf("invalid hex seed: %w", err)
			}

			alias := ""
			if len(args) > 1 {
				alias = args[1]
			}

			key, err := openKeyring(v).Import(cmd.Context(), seed, alias)
			if err != nil {
				return fmt.Errorf("import key: %w", err)
			}

			out := cli.NewOutputFromViper(v)
			return out.Result("key-imported", "Key imported").
				With("Principal", key.Principal()).
				With("Alias", alias).
				Render()
		},
	}
}
