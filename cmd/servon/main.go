package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	cli := command{out: os.Stdout}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createVersionCommand(),
		createWorkspaceCommand(cli),
		createServiceCommand(cli),
		createStartCommand(cli),
		createStopCommand(cli),
		createStatusCommand(cli),
		createChecksCommand(cli),
		createLogsCommand(cli),
		createEventsCommand(cli),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "servon",
		Short: "Dashboard daemon for local dev services",
		Long: `Servon supervises the long-running services of local development
workspaces: it spawns shell commands as child processes, tracks run state,
captures output into a queryable log store and coordinates health checks.

Examples:
  servon serve --config servon.toml
  servon workspace create --name acme --root /home/me/src/acme
  servon service create --workspace <id> --name web --command "npm run dev"
  servon start --service <id>
  servon logs tail --service <id> --lines 50
  servon status --api-url=http://remote:8899`,
		Version: version,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (used by serve)")

	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the servon version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("servon %s\n", version)
		},
	}
}
