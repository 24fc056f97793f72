package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/servonhq/servon/pkg/client"
)

func createEventsCommand(cli command) *cobra.Command {
	flags := &EventsFlags{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream daemon events",
		Long: `Follow the daemon's event stream (log lines, exits, errors) until
interrupted. Each event is printed as one JSON line.

Examples:
  servon events
  servon events --service <id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Events(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "only events of this service")
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func (c command) Events(f EventsFlags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	return cl.StreamEvents(ctx, f.ServiceID, func(ev client.Event) error {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.out, string(b))
		return nil
	})
}
