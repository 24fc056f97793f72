package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/servonhq/servon/pkg/client"
)

func createLogsCommand(cli command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Captured output commands",
		Long: `Inspect the captured output of services: the in-memory ring tail,
the persisted history with filters, per-session views and retention.

Examples:
  servon logs tail --service <id> --lines 50
  servon logs history --service <id> --level stderr --search "error"
  servon logs purge --days 7`,
	}

	cmd.AddCommand(
		createLogsTailCommand(cli),
		createLogsHistoryCommand(cli),
		createLogsStatsCommand(cli),
		createLogsSessionsCommand(cli),
		createLogsSessionCommand(cli),
		createLogsClearCommand(cli),
		createLogsPurgeCommand(cli),
	)

	return cmd
}

func createLogsTailCommand(cli command) *cobra.Command {
	flags := &TailFlags{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the recent output of a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.LogsTail(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "service id (required)")
	cmd.Flags().IntVar(&flags.Lines, "lines", 0, "max lines (0 = full ring)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "service")
	return cmd
}

func createLogsHistoryCommand(cli command) *cobra.Command {
	flags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the persisted log history of a service",
		Long: `Query persisted log entries, newest first.

Examples:
  servon logs history --service <id> --limit 100
  servon logs history --service <id> --level stderr --search "refused"
  servon logs history --service <id> --session 12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.LogsHistory(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "service id (required)")
	cmd.Flags().Int64Var(&flags.SessionID, "session", 0, "restrict to one log session")
	cmd.Flags().StringVar(&flags.Level, "level", "", "stdout or stderr")
	cmd.Flags().StringVar(&flags.Search, "search", "", "substring match on the line")
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "max entries")
	cmd.Flags().IntVar(&flags.Offset, "offset", 0, "entries to skip")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "service")
	return cmd
}

func createLogsStatsCommand(cli command) *cobra.Command {
	flags := &StatsFlags{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show log volume stats of a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.LogsStats(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "service id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "service")
	return cmd
}

func createLogsSessionsCommand(cli command) *cobra.Command {
	flags := &SessionsFlags{}
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the log sessions of a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.LogsSessions(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "service id (required)")
	cmd.Flags().IntVar(&flags.Limit, "limit", 0, "max sessions, newest first")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "service")
	return cmd
}

func createLogsSessionCommand(cli command) *cobra.Command {
	flags := &SessionFlags{}
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show or delete one log session",
		Long: `Show one log session with its entries, or delete it with --delete.

Examples:
  servon logs session --id 12
  servon logs session --id 12 --delete`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.LogsSession(*flags)
		},
	}
	cmd.Flags().Int64Var(&flags.ID, "id", 0, "session id (required)")
	cmd.Flags().BoolVar(&flags.Delete, "delete", false, "delete the session and its entries")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "id")
	return cmd
}

func createLogsClearCommand(cli command) *cobra.Command {
	flags := &ClearFlags{}
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all persisted logs of a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.LogsClear(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "service id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "service")
	return cmd
}

func createLogsPurgeCommand(cli command) *cobra.Command {
	flags := &PurgeFlags{}
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete log sessions older than a cutoff",
		Long: `Delete persisted sessions older than --days. Without --days the daemon
runs its configured retention sweep.

Examples:
  servon logs purge --days 7
  servon logs purge`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.LogsPurge(*flags)
		},
	}
	cmd.Flags().IntVar(&flags.Days, "days", 0, "age cutoff in days (0 = configured sweep)")
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func (c command) LogsTail(f TailFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	lines, err := cl.RingLogs(ctx, f.ServiceID, f.Lines)
	if err != nil {
		return err
	}
	c.printJSON(lines)
	return nil
}

func (c command) LogsHistory(f HistoryFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	entries, err := cl.LogHistory(ctx, f.ServiceID, client.LogQuery{
		SessionID: f.SessionID,
		Level:     f.Level,
		Search:    f.Search,
		Limit:     f.Limit,
		Offset:    f.Offset,
	})
	if err != nil {
		return err
	}
	c.printJSON(entries)
	return nil
}

func (c command) LogsStats(f StatsFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	stats, err := cl.LogStats(ctx, f.ServiceID)
	if err != nil {
		return err
	}
	c.printJSON(stats)
	return nil
}

func (c command) LogsSessions(f SessionsFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	sessions, err := cl.Sessions(ctx, f.ServiceID, f.Limit)
	if err != nil {
		return err
	}
	c.printJSON(sessions)
	return nil
}

func (c command) LogsSession(f SessionFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if f.Delete {
		return cl.DeleteSession(ctx, f.ID)
	}
	session, err := cl.Session(ctx, f.ID)
	if err != nil {
		return err
	}
	entries, err := cl.SessionLogs(ctx, f.ID, client.LogQuery{})
	if err != nil {
		return err
	}
	c.printJSON(struct {
		Session client.Session    `json:"session"`
		Entries []client.LogEntry `json:"entries"`
	}{session, entries})
	return nil
}

func (c command) LogsClear(f ClearFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	removed, err := cl.DeleteServiceLogs(ctx, f.ServiceID)
	if err != nil {
		return err
	}
	c.printJSON(map[string]int64{"removed": removed})
	return nil
}

func (c command) LogsPurge(f PurgeFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	removed, err := cl.PurgeLogs(ctx, f.Days)
	if err != nil {
		return err
	}
	c.printJSON(map[string]int64{"removed": removed})
	return nil
}
