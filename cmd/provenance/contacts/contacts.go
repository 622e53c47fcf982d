// Package contacts manages local @names for principals.
package contacts

import (
	"fmt"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/internal/config"
	"github.com/gezibash/arc-provenance/internal/names"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Entrypoint returns the contacts command.
func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage local @name -> principal mappings",
		Long: `Manage the local contact book. Any command that takes a principal
also accepts @name. Contacts added from a public key let access grants
seal key blobs to the viewer without --seal-to.

Examples:
  provenance contacts add alice 0x5b38da6a701c568545dcfcb03fcb875f56beddc4
  provenance contacts add bob ed25519:7f3a8b9c...
  provenance contacts list
  provenance contacts remove alice`,
	}

	cmd.AddCommand(
		listCmd(v),
		addCmd(v),
		removeCmd(v),
		showCmd(v),
	)

	return cmd
}

func listCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}

			entries := store.List()
			out := cli.NewOutputFromViper(v)
			if len(entries) == 0 {
				return out.Result("contacts-list", "No contacts").Render()
			}

			table := out.Table("contacts-list", "Name", "Principal", "Public Key")
			for _, e := range entries {
				pub := e.PublicKey
				if pub == "" {
					pub = "-"
				}
				table.AddRow(names.Prefix+e.Name, e.Principal, pub)
			}
			return table.Render()
		},
	}
}

func addCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <address|public-key>",
		Short: "Add or update a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}
			e, err := store.Add(args[0], args[1])
			if err != nil {
				return err
			}

			res := cli.NewOutputFromViper(v).
				Result("contact-added", fmt.Sprintf("Added %s%s", names.Prefix, e.Name)).
				With("Name", names.Prefix+e.Name).
				With("Principal", e.Principal)
			if e.PublicKey != "" {
				res.With("Public Key", e.PublicKey)
			}
			return res.Render()
		},
	}
}

func removeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			return cli.NewOutputFromViper(v).
				Result("contact-removed", "Contact removed").
				With("Name", args[0]).
				Render()
		},
	}
}

func showCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(v)
			if err != nil {
				return err
			}
			e, err := store.Lookup(args[0])
			if err != nil {
				return err
			}

			kv := cli.NewOutputFromViper(v).KV("contact").
				Set("Name", names.Prefix+e.Name).
				Set("Principal", e.Principal).
				Set("Petname", names.PetnameOf(e.Principal))
			if e.PublicKey != "" {
				kv.Set("Public Key", e.PublicKey)
			}
			return kv.Render()
		},
	}
}

func openStore(v *viper.Viper) (*names.Store, error) {
	dir := v.GetString("data_dir")
	if dir == "" {
		dir = config.DefaultDataDir()
	}
	store := names.New(dir)
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}
