// Package events pages through and follows the registry event log.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gezibash/arc-provenance/internal/cli"
	"github.com/gezibash/arc-provenance/pkg/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func Entrypoint(v *viper.Viper) *cobra.Command {
	var (
		after  uint64
		limit  int
		follow bool
		filter string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List committed events, or follow new ones",
		Long: "List committed events after a height. With --follow, stream new events\n" +
			"as they commit, optionally narrowed by a CEL --filter over\n" +
			"type, role, account, caller, hash, owner, viewer, pointer and height,\n" +
			`e.g. --filter 'type == "AccessGranted" && viewer == "0x..."'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !follow {
				if filter != "" {
					return errors.New("--filter requires --follow")
				}
				return cli.Run(cmd, v, false, func(ctx context.Context, s *cli.Session) error {
					return list(ctx, s, after, limit)
				})
			}
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Name:       cmd.CommandPath(),
				Viper:      v,
				ConfigFile: cli.ConfigFile(cmd),
				Run: func(ctx context.Context, s *cli.Session) error {
					err := s.Client.Stream(ctx, filter, func(rec wire.StreamRecord) error {
						return streamLine(s.Out, rec)
					})
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				},
			})
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "list events committed after this height")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of transitions to list (server default when 0)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new events until interrupted")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL filter for --follow")
	return cmd
}

func list(ctx context.Context, s *cli.Session, after uint64, limit int) error {
	page, err := s.Client.Events(ctx, after, limit)
	if err != nil {
		return err
	}

	tbl := s.Out.Table("events", "Height", "Time", "Op", "Caller", "Event", "Subject")
	for _, e := range page.Entries {
		ts := time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339)
		for _, ev := range e.Events {
			tbl.AddRow(strconv.FormatUint(e.Height, 10), ts, e.Op, e.Caller, ev.Type, subject(ev))
		}
	}
	hasMore := limit > 0 && len(page.Entries) == limit
	return tbl.WithPagination(strconv.FormatUint(page.Next, 10), hasMore).Render()
}

// subject summarizes what an event is about.
func subject(ev wire.Event) string {
	switch {
	case ev.Role != "":
		return fmt.Sprintf("%s %s", ev.Role, ev.Account)
	case ev.Viewer != "":
		return fmt.Sprintf("%s viewer %s", ev.Hash, ev.Viewer)
	default:
		return fmt.Sprintf("%s owner %s", ev.Hash, ev.Owner)
	}
}

// streamLine renders one followed record. Every format emits exactly one
// line per record so the output can be piped.
func streamLine(out *cli.Output, rec wire.StreamRecord) error {
	if out.Format() == cli.FormatText {
		_, err := fmt.Fprintf(out.Writer(), "%d\t%s\t%s\t%s\n", rec.Height, rec.Op, rec.Event.Type, subject(rec.Event))
		return err
	}
	return cli.WriteJSONLine(out.Writer(), rec)
}
