package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gezibash/arc-provenance/cmd/provenance/access"
	"github.com/gezibash/arc-provenance/cmd/provenance/contacts"
	"github.com/gezibash/arc-provenance/cmd/provenance/doc"
	"github.com/gezibash/arc-provenance/cmd/provenance/events"
	"github.com/gezibash/arc-provenance/cmd/provenance/journal"
	"github.com/gezibash/arc-provenance/cmd/provenance/keys"
	"github.com/gezibash/arc-provenance/cmd/provenance/role"
	"github.com/gezibash/arc-provenance/cmd/provenance/serve"
	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/internal/config"
	"github.com/gezibash/arc-provenance/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "provenance",
		Short:         "Document provenance registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	config.BindCommonFlags(rootCmd, v)

	rootCmd.AddCommand(serve.Entrypoint(v))
	rootCmd.AddCommand(keys.Entrypoint(v))
	rootCmd.AddCommand(contacts.Entrypoint(v))
	rootCmd.AddCommand(role.Entrypoint(v))
	rootCmd.AddCommand(doc.Entrypoint(v))
	rootCmd.AddCommand(access.Entrypoint(v))
	rootCmd.AddCommand(events.Entrypoint(v))
	rootCmd.AddCommand(journal.Entrypoint(v))
	rootCmd.AddCommand(newStatusCmd(v))
	rootCmd.AddCommand(newWhoamiCmd(v))
	rootCmd.AddCommand(newVersionCmd(v))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		renderError(v, err)
		os.Exit(1)
	}
}

// renderError writes err to stderr in the configured output format, tagged
// with the relay's error kind when there is one.
func renderError(v *viper.Viper, err error) {
	out := cli.NewOutput(cli.ParseFormat(v.GetString("output")), os.Stderr)
	e := out.Error("command", err)
	if kind := client.KindOf(err); kind != "" {
		e = e.WithCode(kind)
	}
	_ = e.Render()
}
