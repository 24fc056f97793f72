package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/servonhq/servon/pkg/client"
)

// command binds the client subcommand logic to an output stream so tests
// can capture what gets printed.
type command struct {
	out io.Writer
}

func (c command) printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(c.out, string(b))
}

// apiClient builds a client from connection flags and verifies the daemon
// answers before the command runs against it.
func (c command) apiClient(ctx context.Context, f APIFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if f.URL != "" {
		cfg.BaseURL = f.URL
	}
	if f.Timeout > 0 {
		cfg.Timeout = f.Timeout
	}
	cfg.Token = f.Token
	cl := client.New(cfg)
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'servon serve'", cfg.BaseURL)
	}
	return cl, nil
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.URL, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8899)")
	cmd.Flags().DurationVar(&f.Timeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.Token, "token", "", "bearer token when the daemon requires auth")
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
}
