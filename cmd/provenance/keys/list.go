package keys

import (
	"fmt"
	"strings"
	"time"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/internal/names"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := openKeyring(v).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}

			tbl := cli.NewOutputFromViper(v).Table("key-list", "Principal", "Petname", "Aliases", "Default", "Created")
			for _, info := range infos {
				def := ""
				if info.IsDefault {
					def = "*"
				}
				created := "-"
				if !info.CreatedAt.IsZero() {
					created = info.CreatedAt.Format(time.RFC3339)
				}
				tbl.AddRow("0x"+info.Address, names.PetnameOf(info.Address), strings.Join(info.Aliases, ", "), def, created)
			}
			return tbl.Render()
		},
	}
}
