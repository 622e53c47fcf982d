package main

import (
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-provenance/internal/cli"
)

// Set with -ldflags "-X main.version=..." at release time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newVersionCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewOutputFromViper(v).KV("version").
				Set("Version", version).
				Set("Commit", commit).
				Set("Built", buildDate).
				Set("Go", runtime.Version()).
				Set("Platform", runtime.GOOS+"/"+runtime.GOARCH).
				Render()
		},
	}
}
