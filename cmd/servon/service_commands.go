package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/servonhq/servon/pkg/client"
	"github.com/servonhq/servon/pkg/template"
)

func createServiceCommand(cli command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Service definition commands",
		Long: `Manage the service definitions of a workspace.

Examples:
  servon service create --workspace <id> --name web --command "npm run dev" --port 3000
  servon service list --workspace <id>
  servon service update --id <id> --port 4000`,
	}

	cmd.AddCommand(
		createServiceCreateCommand(cli),
		createServiceListCommand(cli),
		createServiceGetCommand(cli),
		createServiceUpdateCommand(cli),
		createServiceDeleteCommand(cli),
		createServiceTemplateCommand(cli),
	)

	return cmd
}

func createServiceCreateCommand(cli command) *cobra.Command {
	flags := &ServiceCreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a service",
		Long: `Register a service definition inside a workspace. The command is run
through the shell when it contains metacharacters, so pipes and && work.

Examples:
  servon service create --workspace <id> --name web --command "npm run dev"
  servon service create --workspace <id> --name api --command "make serve" --env PORT=8081
  servon service create --workspace <id> --from-file templates/web-sample.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServiceCreate(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.WorkspaceID, "workspace", "", "workspace id (required)")
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name")
	cmd.Flags().StringVar(&flags.Command, "command", "", "shell command to run")
	cmd.Flags().StringVar(&flags.RepoPath, "repo", "", "working directory for the process")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "port the service is expected to listen on")
	cmd.Flags().StringSliceVar(&flags.Env, "env", nil, "KEY=VALUE pairs (repeatable)")
	cmd.Flags().StringVar(&flags.FromFile, "from-file", "", "JSON template to fill unset flags from")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "workspace")
	return cmd
}

func createServiceTemplateCommand(cli command) *cobra.Command {
	flags := &TemplateCreateFlags{}
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate a starter service definition",
		Long: `Write a starter service definition for a common dev stack. The JSON
matches the service create payload and can be edited before use.

Supported template types:
  web       - Node dev server
  api       - Python API with reload
  worker    - Background worker
  database  - Local PostgreSQL
  static    - Static file server
  simple    - Heartbeat loop

Examples:
  servon service template --type web --name storefront
  servon service template --type api --output ./orders.json
  servon service create --workspace <id> --from-file templates/storefront.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.TemplateCreate(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", "", "template type (required): web, api, worker, database, static, simple")
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (defaults to <type>-sample)")
	cmd.Flags().StringVar(&flags.Output, "output", "", "output file path (defaults to templates/<name>.json)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	mustRequire(cmd, "type")
	return cmd
}

func createServiceListCommand(cli command) *cobra.Command {
	flags := &ServiceListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServiceList(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.WorkspaceID, "workspace", "", "only services of this workspace")
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func createServiceGetCommand(cli command) *cobra.Command {
	flags := &ServiceFlags{}
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show one service definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServiceGet(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "id", "", "service id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "id")
	return cmd
}

func createServiceUpdateCommand(cli command) *cobra.Command {
	flags := &ServiceUpdateFlags{}
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update fields of a service",
		Long: `Patch a service definition. Only the flags given change; --env replaces
the whole environment map.

Examples:
  servon service update --id <id> --port 4000
  servon service update --id <id> --command "npm run dev -- --host"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := client.ServicePatch{}
			if cmd.Flags().Changed("name") {
				patch.Name = &flags.Name
			}
			if cmd.Flags().Changed("repo") {
				patch.RepoPath = &flags.RepoPath
			}
			if cmd.Flags().Changed("command") {
				patch.Command = &flags.Command
			}
			if cmd.Flags().Changed("port") {
				patch.Port = &flags.Port
			}
			if cmd.Flags().Changed("env") {
				m := parseEnvPairs(flags.Env)
				patch.EnvVars = &m
			}
			return cli.ServiceUpdate(flags.ID, flags.APIFlags, patch)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "id", "", "service id (required)")
	cmd.Flags().StringVar(&flags.Name, "name", "", "new service name")
	cmd.Flags().StringVar(&flags.RepoPath, "repo", "", "new working directory")
	cmd.Flags().StringVar(&flags.Command, "command", "", "new shell command")
	cmd.Flags().IntVar(&flags.Port, "port", 0, "new port")
	cmd.Flags().StringSliceVar(&flags.Env, "env", nil, "replacement KEY=VALUE pairs")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "id")
	return cmd
}

func createServiceDeleteCommand(cli command) *cobra.Command {
	flags := &ServiceFlags{}
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a service (stops it first when running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ServiceDelete(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "id", "", "service id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "id")
	return cmd
}

func createStartCommand(cli command) *cobra.Command {
	flags := &LifecycleFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a service",
		Long: `Spawn the configured command of a service and print the run snapshot.

Examples:
  servon start --service <id>
  servon start --service <id> --api-url=http://remote:8899`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Start(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "service id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "service")
	return cmd
}

func createStopCommand(cli command) *cobra.Command {
	flags := &LifecycleFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stop(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "service id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "service")
	return cmd
}

func createStatusCommand(cli command) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		Long: `Show the status of one service, or all running services.

Examples:
  servon status                      # every running service
  servon status --workspace <id>    # running services of one workspace
  servon status --service <id>      # one service, with process usage`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Status(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ServiceID, "service", "", "service id (optional)")
	cmd.Flags().StringVar(&flags.WorkspaceID, "workspace", "", "filter running services by workspace")
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func createChecksCommand(cli command) *cobra.Command {
	flags := &ServiceFlags{}
	cmd := &cobra.Command{
		Use:   "checks",
		Short: "Show health checks of a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Checks(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ID, "service", "", "service id (required)")
	addAPIFlags(cmd, &flags.APIFlags)
	mustRequire(cmd, "service")
	return cmd
}

// parseEnvPairs turns KEY=VALUE strings into a map, skipping malformed ones.
func parseEnvPairs(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func (c command) ServiceCreate(f ServiceCreateFlags) error {
	req := client.CreateServiceRequest{
		WorkspaceID: f.WorkspaceID,
		Name:        f.Name,
		RepoPath:    f.RepoPath,
		Command:     f.Command,
		Port:        f.Port,
		EnvVars:     parseEnvPairs(f.Env),
	}
	if f.FromFile != "" {
		if err := fillFromTemplate(&req, f.FromFile); err != nil {
			return err
		}
	}
	if req.Name == "" || req.Command == "" {
		return fmt.Errorf("--name and --command are required unless --from-file provides them")
	}

	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	svc, err := cl.CreateService(ctx, req)
	if err != nil {
		return err
	}
	c.printJSON(svc)
	return nil
}

// fillFromTemplate loads a service template and fills fields the flags left
// unset. Explicit flags win over template values.
func fillFromTemplate(req *client.CreateServiceRequest, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a user-supplied CLI argument
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	var tmpl template.ServiceTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return fmt.Errorf("parse template %s: %w", path, err)
	}
	if req.Name == "" {
		req.Name = tmpl.Name
	}
	if req.RepoPath == "" {
		req.RepoPath = tmpl.RepoPath
	}
	if req.Command == "" {
		req.Command = tmpl.Command
	}
	if req.Port == 0 {
		req.Port = tmpl.Port
	}
	if len(req.EnvVars) == 0 {
		req.EnvVars = tmpl.EnvVars
	}
	return nil
}

func (c command) TemplateCreate(f TemplateCreateFlags) error {
	name := f.Name
	if name == "" {
		name = f.Type + "-sample"
	}
	outputPath := f.Output
	if outputPath == "" {
		if err := os.MkdirAll("templates", 0o755); err != nil {
			return fmt.Errorf("create templates directory: %w", err)
		}
		outputPath = filepath.Join("templates", name+".json")
	}
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("template file %s already exists (use --force to overwrite)", outputPath)
	}

	data, err := template.NewGenerator().GenerateJSON(template.Type(f.Type), name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("write template file: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "Template %s created: %s\n", name, outputPath)
	_, _ = fmt.Fprintf(c.out, "Edit it and create the service with: servon service create --workspace <id> --from-file %s\n", outputPath)
	return nil
}

func (c command) ServiceList(f ServiceListFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	list, err := cl.Services(ctx, f.WorkspaceID)
	if err != nil {
		return err
	}
	c.printJSON(list)
	return nil
}

func (c command) ServiceGet(f ServiceFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	svc, err := cl.Service(ctx, f.ID)
	if err != nil {
		return err
	}
	c.printJSON(svc)
	return nil
}

func (c command) ServiceUpdate(id string, api APIFlags, patch client.ServicePatch) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, api)
	if err != nil {
		return err
	}
	svc, err := cl.UpdateService(ctx, id, patch)
	if err != nil {
		return err
	}
	c.printJSON(svc)
	return nil
}

func (c command) ServiceDelete(f ServiceFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	return cl.DeleteService(ctx, f.ID)
}

func (c command) Start(f LifecycleFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	snap, err := cl.StartService(ctx, f.ServiceID)
	if err != nil {
		return err
	}
	c.printJSON(snap)
	return nil
}

func (c command) Stop(f LifecycleFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if err := cl.StopService(ctx, f.ServiceID); err != nil {
		return err
	}
	status, err := cl.ServiceStatus(ctx, f.ServiceID)
	if err != nil {
		return err
	}
	c.printJSON(status)
	return nil
}

func (c command) Status(f StatusFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	if f.ServiceID != "" {
		status, err := cl.ServiceStatus(ctx, f.ServiceID)
		if err != nil {
			return err
		}
		c.printJSON(status)
		return nil
	}
	running, err := cl.Running(ctx, f.WorkspaceID)
	if err != nil {
		return err
	}
	c.printJSON(running)
	return nil
}

func (c command) Checks(f ServiceFlags) error {
	ctx := context.Background()
	cl, err := c.apiClient(ctx, f.APIFlags)
	if err != nil {
		return err
	}
	checks, err := cl.ServiceChecks(ctx, f.ID)
	if err != nil {
		return err
	}
	c.printJSON(checks)
	return nil
}
