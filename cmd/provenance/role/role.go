// Package role grants, revokes and inspects registry roles.
package role

import (
	"context"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/pkg/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage registry roles",
		Long:  "Grant and revoke roles such as ADMIN and ISSUER. Only ADMIN members may change roles.",
	}
	cmd.AddCommand(
		newGrantCmd(v),
		newRevokeCmd(v),
		newCheckCmd(v),
		newMembersCmd(v),
	)
	return cmd
}

type changeFunc func(ctx context.Context, s *cli.Session, role, account string) (*wire.Receipt, error)

func newChangeCmd(v *viper.Viper, use, short, resultType, message string, change changeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <role> <account>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd, v, true, func(ctx context.Context, s *cli.Session) error {
				account, err := s.Resolve(args[1])
				if err != nil {
					return err
				}
				rc, err := change(ctx, s, args[0], account)
				if err != nil {
					return err
				}
				return cli.ReceiptResult(s.Out, resultType, message, rc).Render()
			})
		},
	}
}

func newGrantCmd(v *viper.Viper) *cobra.Command {
	return newChangeCmd(v, "grant", "Grant a role to an account", "role-granted", "Role granted",
		func(ctx context.Context, s *cli.Session, role, account string) (*wire.Receipt, error) {
			return s.Client.GrantRole(ctx, role, account)
		})
}

func newRevokeCmd(v *viper.Viper) *cobra.Command {
	return newChangeCmd(v, "revoke", "Revoke a role from an account", "role-revoked", "Role revoked",
		func(ctx context.Context, s *cli.Session, role, account string) (*wire.Receipt, error) {
			return s.Client.RevokeRole(ctx, role, account)
		})
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check <role> [principal]",
		Short: "Report whether a principal holds a role (default: own key)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
				principal, err := s.PrincipalArg(ctx, args, 1)
				if err != nil {
					return err
				}
				ok, err := s.Client.HasRole(ctx, args[0], principal)
				if err != nil {
					return err
				}
				return s.Out.KV("role-check").
					Set("Role", args[0]).
					Set("Principal", principal).
					Set("Has Role", ok).
					Render()
			})
		},
	}
}

func newMembersCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "members <role>",
		Short: "List the members of a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
				rm, err := s.Client.RoleMembers(ctx, args[0])
				if err != nil {
					return err
				}
				tbl := s.Out.Table("role-members", "Principal", "Name")
				for _, m := range rm.Members {
					tbl.AddRow(m, s.Label(m))
				}
				return tbl.Render()
			})
		},
	}
}
