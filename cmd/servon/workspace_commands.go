package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/servonhq/servon/pkg/client"
)

func createWorkspaceCommand(cli command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Workspace management commands",
		Long: `Manage the workspaces (project roots) services belong to.

Examples:
  servon workspace create --name acme --root /home/me/src/acme
  servon workspace list
  servon workspace start --id <workspace-id>`,
	}

	cmd.AddCommand(
		createWorkspaceCreateCommand(cli),
		createWorkspaceListCommand(cli),
		createWorkspaceGetCommand(cli),
		createWorkspaceDeleteCommand(cli),
		createWorkspaceStartCommand(cli),
		createWorkspaceStopCommand(cli),
	)

	return cmd
}

func createWorkspaceCreateCommand(cli command) *cobra.Command {
	flags := &WorkspaceCreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WorkspaceCreate(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "workspace name (required)")
	cmd.Flags().StringVar(&flags.RootPath, "root", "", "absolute path of the project root")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "name")
	return cmd
}

func createWorkspaceListCommand(cli command) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WorkspaceList(*flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createWorkspaceGetCommand(cli command) *cobra.Command {
	flags := &WorkspaceFlags{}
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show one workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WorkspaceGet(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "id", "", "workspace id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "id")
	return cmd
}

func createWorkspaceDeleteCommand(cli command) *cobra.Command {
	flags := &WorkspaceFlags{}
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a workspace and its services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WorkspaceDelete(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "id", "", "workspace id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "id")
	return cmd
}

func createWorkspaceStartCommand(cli command) *cobra.Command {
	flags := &WorkspaceFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start every service of a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WorkspaceStart(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "id", "", "workspace id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "id")
	return cmd
}

func createWorkspaceStopCommand(cli command) *cobra.Command {
	flags := &WorkspaceFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop every running service of a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.WorkspaceStop(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "id", "", "workspace id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "id")
	return cmd
}

func (c command) WorkspaceCreate(f WorkspaceCreateFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	ws, err := cl.CreateWorkspace(ctx, client.CreateWorkspaceRequest{Name: f.Name, RootPath: f.RootPath})
	if err != nil {
		return err
	}
	c.printJSON(ws)
	return nil
}

func (c command) WorkspaceList(f APIFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f)
	if err != nil {
		return err
	}
	list, err := cl.Workspaces(ctx)
	if err != nil {
		return err
	}
	c.printJSON(list)
	return nil
}

func (c command) WorkspaceGet(f WorkspaceFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	ws, err := cl.Workspace(ctx, f.ID)
	if err != nil {
		return err
	}
	c.printJSON(ws)
	return nil
}

func (c command) WorkspaceDelete(f WorkspaceFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	return cl.DeleteWorkspace(ctx, f.ID)
}

func (c command) WorkspaceStart(f WorkspaceFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if err := cl.StartWorkspace(ctx, f.ID); err != nil {
		return err
	}
	running, err := cl.Running(ctx, f.ID)
	if err != nil {
		return err
	}
	c.printJSON(running)
	return nil
}

func (c command) WorkspaceStop(f WorkspaceFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	return cl.StopWorkspace(ctx, f.ID)
}
