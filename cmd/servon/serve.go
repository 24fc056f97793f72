package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/servonhq/servon/internal/audit"
	auditfactory "github.com/servonhq/servon/internal/audit/factory"
	"github.com/servonhq/servon/internal/config"
	"github.com/servonhq/servon/internal/health"
	"github.com/servonhq/servon/internal/logger"
	"github.com/servonhq/servon/internal/logstore"
	logfactory "github.com/servonhq/servon/internal/logstore/factory"
	"github.com/servonhq/servon/internal/manager"
	"github.com/servonhq/servon/internal/metrics"
	"github.com/servonhq/servon/internal/retention"
	"github.com/servonhq/servon/internal/server"
	"github.com/servonhq/servon/internal/store"
	storefactory "github.com/servonhq/servon/internal/store/factory"
	tlsutil "github.com/servonhq/servon/internal/tls"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the servon daemon",
		Long: `Run the daemon: open the configuration and log stores, sync the
config-declared workspaces and services into them, and serve the REST API
until interrupted.

Examples:
  servon serve --config servon.toml
  servon serve servon.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveFlags.ConfigPath == "" {
				serveFlags.ConfigPath = globalFlags.ConfigPath
			}
			return runServe(serveFlags, args)
		},
	}

	return cmd
}

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required: use --config servon.toml or pass it as an argument")
	}

	fc, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(logger.Config{Slog: fc.SlogConfig()}.NewSlogger())

	d, err := buildDaemon(fc)
	if err != nil {
		return err
	}

	tlsEnabled := fc.Server != nil && fc.Server.TLS != nil && fc.Server.TLS.Enabled
	slog.Info("servon daemon listening", "addr", fc.Listen(), "tls", tlsEnabled)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	d.Close()
	return nil
}

// daemon bundles everything runServe wires together so tests can build and
// tear one down without the signal loop.
type daemon struct {
	store   store.Store
	logs    logstore.Store
	mgr     *manager.Manager
	poller  *health.Poller
	sampler *metrics.Sampler
	sweeper *retention.Sweeper
	server  *http.Server
}

func buildDaemon(fc config.FileConfig) (*daemon, error) {
	ctx := context.Background()
	d := &daemon{}
	fail := func(err error) (*daemon, error) {
		d.Close()
		return nil, err
	}

	st, err := storefactory.NewFromDSN(fc.StoreDSN())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.store = st
	if err := st.EnsureSchema(ctx); err != nil {
		return fail(fmt.Errorf("store schema: %w", err))
	}

	logs, err := logfactory.NewFromDSN(fc.LogStoreDSN())
	if err != nil {
		return fail(fmt.Errorf("open logstore: %w", err))
	}
	d.logs = logs
	if err := logs.EnsureSchema(ctx); err != nil {
		return fail(fmt.Errorf("logstore schema: %w", err))
	}

	d.mgr = manager.New(st, logs)
	genv, err := fc.GlobalEnv()
	if err != nil {
		return fail(fmt.Errorf("global env: %w", err))
	}
	d.mgr.SetGlobalEnv(genv)
	d.mgr.SetCaptureMirrors(fc.CaptureConfig())
	if fc.KillWait > 0 {
		d.mgr.SetKillWait(fc.KillWait)
	}

	var sinks []audit.Sink
	if fc.Audit != nil {
		for _, dsn := range fc.Audit.DSNs {
			sink, err := auditfactory.NewSinkFromDSN(dsn)
			if err != nil {
				return fail(fmt.Errorf("audit sink %s: %w", dsn, err))
			}
			sinks = append(sinks, sink)
		}
		d.mgr.SetAuditSinks(sinks...)
	}

	idByName, err := syncDefinitions(d.mgr, fc)
	if err != nil {
		return fail(err)
	}

	checks, err := fc.HealthChecks(idByName)
	if err != nil {
		return fail(err)
	}
	if len(checks) > 0 {
		d.poller = health.NewPoller()
		for _, ck := range checks {
			if err := d.poller.AddCheck(ck); err != nil {
				return fail(fmt.Errorf("check %s: %w", ck.ID, err))
			}
		}
		d.mgr.SetHealthCoordinator(d.poller)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("metrics registration failed", "error", err)
	}
	if fc.Metrics != nil && fc.Metrics.Enabled {
		d.sampler = metrics.NewSampler(*fc.Metrics)
		if err := d.sampler.Register(prometheus.DefaultRegisterer); err != nil {
			slog.Warn("usage sampler registration failed", "error", err)
		}
		d.sampler.Start(ctx, d.mgr.RunningPIDs)
	}

	if fc.Retention != nil && fc.Retention.Enabled {
		rc := fc.Retention.Normalize()
		d.sweeper = retention.New(logs, rc.Days, rc.Schedule)
		d.sweeper.SetAuditSinks(sinks...)
		if err := d.sweeper.Start(); err != nil {
			return fail(fmt.Errorf("retention sweeper: %w", err))
		}
	}

	basePath, authToken := "", ""
	if fc.Server != nil {
		basePath = fc.Server.BasePath
		authToken = fc.Server.AuthToken
	}
	rt := server.NewRouter(d.mgr, logs, basePath)
	rt.SetAuthToken(authToken)
	if d.poller != nil {
		rt.SetHealthPoller(d.poller)
	}
	if d.sweeper != nil {
		rt.SetSweeper(d.sweeper)
	}

	if fc.Server != nil && fc.Server.TLS != nil && fc.Server.TLS.Enabled {
		conf, err := tlsutil.Setup(fc.Server.TLS)
		if err != nil {
			return fail(fmt.Errorf("tls setup: %w", err))
		}
		d.server, err = server.NewServerTLS(fc.Listen(), rt, conf)
		if err != nil {
			return fail(fmt.Errorf("https server: %w", err))
		}
	} else {
		d.server, err = server.NewServer(fc.Listen(), rt)
		if err != nil {
			return fail(fmt.Errorf("http server: %w", err))
		}
	}

	return d, nil
}

// Close tears the daemon down in reverse dependency order. Safe on a
// partially built daemon.
func (d *daemon) Close() {
	if d.server != nil {
		_ = d.server.Close()
	}
	if d.sweeper != nil {
		d.sweeper.Stop()
	}
	if d.mgr != nil {
		d.mgr.Shutdown()
	}
	if d.poller != nil {
		d.poller.Close()
	}
	if d.sampler != nil {
		d.sampler.Stop()
	}
	if d.logs != nil {
		_ = d.logs.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// syncDefinitions makes the store match the config-declared workspaces and
// services: missing ones are created, drifted service fields are patched.
// Returns service ids keyed by config name for health check resolution.
func syncDefinitions(mgr *manager.Manager, fc config.FileConfig) (map[string]string, error) {
	existing, err := mgr.Workspaces()
	if err != nil {
		return nil, err
	}
	wsByName := make(map[string]store.Workspace, len(existing))
	for _, ws := range existing {
		wsByName[ws.Name] = ws
	}
	for _, wc := range fc.Workspaces {
		if _, ok := wsByName[wc.Name]; ok {
			continue
		}
		ws, err := mgr.CreateWorkspace(wc.Name, wc.RootPath)
		if err != nil {
			return nil, fmt.Errorf("create workspace %s: %w", wc.Name, err)
		}
		wsByName[wc.Name] = ws
	}

	idByName := make(map[string]string, len(fc.Services))
	for _, sc := range fc.Services {
		// Workspace reference validated by config.Load.
		ws := wsByName[sc.Workspace]
		services, err := mgr.Services(ws.ID)
		if err != nil {
			return nil, err
		}
		var cur *store.ServiceConfig
		for i := range services {
			if services[i].Name == sc.Name {
				cur = &services[i]
				break
			}
		}
		if cur == nil {
			svc, err := mgr.CreateService(ws.ID, manager.ServiceInput{
				Name:     sc.Name,
				RepoPath: sc.RepoPath,
				Command:  sc.Command,
				Port:     sc.Port,
				EnvVars:  sc.Env,
			})
			if err != nil {
				return nil, fmt.Errorf("create service %s: %w", sc.Name, err)
			}
			idByName[sc.Name] = svc.ID
			continue
		}
		if patch := diffService(*cur, sc); !patch.Empty() {
			if _, err := mgr.UpdateService(cur.ID, patch); err != nil {
				return nil, fmt.Errorf("update service %s: %w", sc.Name, err)
			}
		}
		idByName[sc.Name] = cur.ID
	}
	return idByName, nil
}

// diffService builds the patch aligning a stored service with its config.
func diffService(cur store.ServiceConfig, sc config.ServiceConfig) store.ServicePatch {
	var patch store.ServicePatch
	if sc.RepoPath != cur.RepoPath {
		v := sc.RepoPath
		patch.RepoPath = &v
	}
	if sc.Command != cur.Command {
		v := sc.Command
		patch.Command = &v
	}
	if sc.Port != cur.Port {
		v := sc.Port
		patch.Port = &v
	}
	if !maps.Equal(sc.Env, cur.EnvVars) {
		v := sc.Env
		patch.EnvVars = &v
	}
	return patch
}
