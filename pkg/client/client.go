package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running servon daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Token    string        // bearer token, empty when the daemon runs without auth
	Timeout  time.Duration // applies to plain requests, not event streams
	Logger   *slog.Logger  // optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig holds TLS configuration for the client.
type TLSClientConfig struct {
	Enabled    bool   // enable TLS
	CACert     string // CA certificate file path
	ClientCert string // client certificate file
	ClientKey  string // client private key file
	ServerName string // server name for verification
	SkipVerify bool   // skip certificate verification
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8899",
		Timeout: 10 * time.Second,
	}
}

// New creates a servon API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8899"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks whether the daemon answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// CreateWorkspace registers a new workspace.
func (c *Client) CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (Workspace, error) {
	var ws Workspace
	err := c.doJSON(ctx, "POST", "/api/workspaces", req, &ws)
	return ws, err
}

// Workspaces lists all workspaces.
func (c *Client) Workspaces(ctx context.Context) ([]Workspace, error) {
	var out []Workspace
	err := c.doJSON(ctx, "GET", "/api/workspaces", nil, &out)
	return out, err
}

// Workspace fetches one workspace by id.
func (c *Client) Workspace(ctx context.Context, id string) (Workspace, error) {
	var ws Workspace
	err := c.doJSON(ctx, "GET", "/api/workspaces/"+url.PathEscape(id), nil, &ws)
	return ws, err
}

// DeleteWorkspace removes a workspace and its services.
func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	return c.doJSON(ctx, "DELETE", "/api/workspaces/"+url.PathEscape(id), nil, nil)
}

// StartWorkspace starts every service of the workspace.
func (c *Client) StartWorkspace(ctx context.Context, id string) error {
	return c.doJSON(ctx, "POST", "/api/workspaces/"+url.PathEscape(id)+"/start", nil, nil)
}

// StopWorkspace stops every running service of the workspace.
func (c *Client) StopWorkspace(ctx context.Context, id string) error {
	return c.doJSON(ctx, "POST", "/api/workspaces/"+url.PathEscape(id)+"/stop", nil, nil)
}

// CreateService registers a new service definition.
func (c *Client) CreateService(ctx context.Context, req CreateServiceRequest) (Service, error) {
	var svc Service
	err := c.doJSON(ctx, "POST", "/api/services", req, &svc)
	return svc, err
}

// Services lists service definitions; an empty workspaceID lists all.
func (c *Client) Services(ctx context.Context, workspaceID string) ([]Service, error) {
	path := "/api/services"
	if workspaceID != "" {
		path += "?workspace=" + url.QueryEscape(workspaceID)
	}
	var out []Service
	err := c.doJSON(ctx, "GET", path, nil, &out)
	return out, err
}

// Service fetches one service definition.
func (c *Client) Service(ctx context.Context, id string) (Service, error) {
	var svc Service
	err := c.doJSON(ctx, "GET", "/api/services/"+url.PathEscape(id), nil, &svc)
	return svc, err
}

// UpdateService applies a partial update and returns the updated definition.
func (c *Client) UpdateService(ctx context.Context, id string, patch ServicePatch) (Service, error) {
	var svc Service
	err := c.doJSON(ctx, "PATCH", "/api/services/"+url.PathEscape(id), patch, &svc)
	return svc, err
}

// DeleteService stops the service when running and removes its definition.
func (c *Client) DeleteService(ctx context.Context, id string) error {
	return c.doJSON(ctx, "DELETE", "/api/services/"+url.PathEscape(id), nil, nil)
}

// StartService spawns the stored command and returns the initial snapshot.
func (c *Client) StartService(ctx context.Context, id string) (RunSnapshot, error) {
	var rs RunSnapshot
	err := c.doJSON(ctx, "POST", "/api/services/"+url.PathEscape(id)+"/start", nil, &rs)
	return rs, err
}

// StopService terminates the tracked process.
func (c *Client) StopService(ctx context.Context, id string) error {
	return c.doJSON(ctx, "POST", "/api/services/"+url.PathEscape(id)+"/stop", nil, nil)
}

// ServiceStatus reports the run-state snapshot with live resource usage.
func (c *Client) ServiceStatus(ctx context.Context, id string) (ServiceStatus, error) {
	var st ServiceStatus
	err := c.doJSON(ctx, "GET", "/api/services/"+url.PathEscape(id)+"/status", nil, &st)
	return st, err
}

// ServiceChecks reports health check definitions and latest probe results.
func (c *Client) ServiceChecks(ctx context.Context, id string) (ChecksResponse, error) {
	var out ChecksResponse
	err := c.doJSON(ctx, "GET", "/api/services/"+url.PathEscape(id)+"/checks", nil, &out)
	return out, err
}

// Running lists tracked run snapshots; an empty workspaceID lists all.
func (c *Client) Running(ctx context.Context, workspaceID string) ([]RunSnapshot, error) {
	path := "/api/running"
	if workspaceID != "" {
		path += "?workspace=" + url.QueryEscape(workspaceID)
	}
	var out []RunSnapshot
	err := c.doJSON(ctx, "GET", path, nil, &out)
	return out, err
}

// RingLogs tails the in-memory ring buffer of a tracked run.
func (c *Client) RingLogs(ctx context.Context, id string, lines int) ([]string, error) {
	path := "/api/services/" + url.PathEscape(id) + "/logs"
	if lines > 0 {
		path += "?lines=" + strconv.Itoa(lines)
	}
	var out struct {
		Lines []string `json:"lines"`
	}
	err := c.doJSON(ctx, "GET", path, nil, &out)
	return out.Lines, err
}

// LogHistory queries persisted logs of a service, most recent first.
func (c *Client) LogHistory(ctx context.Context, id string, q LogQuery) ([]LogEntry, error) {
	path := "/api/services/" + url.PathEscape(id) + "/logs/history" + q.encode()
	var out []LogEntry
	err := c.doJSON(ctx, "GET", path, nil, &out)
	return out, err
}

// LogStats reports persisted log totals for a service.
func (c *Client) LogStats(ctx context.Context, id string) (LogStats, error) {
	var out LogStats
	err := c.doJSON(ctx, "GET", "/api/services/"+url.PathEscape(id)+"/logs/stats", nil, &out)
	return out, err
}

// Sessions lists a service's run history, most recent first.
func (c *Client) Sessions(ctx context.Context, id string, limit int) ([]Session, error) {
	path := "/api/services/" + url.PathEscape(id) + "/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []Session
	err := c.doJSON(ctx, "GET", path, nil, &out)
	return out, err
}

// Session fetches one log session by id.
func (c *Client) Session(ctx context.Context, sessionID int64) (Session, error) {
	var s Session
	err := c.doJSON(ctx, "GET", "/api/logs/sessions/"+strconv.FormatInt(sessionID, 10), nil, &s)
	return s, err
}

// SessionLogs returns entries of one session in arrival order.
func (c *Client) SessionLogs(ctx context.Context, sessionID int64, q LogQuery) ([]LogEntry, error) {
	path := "/api/logs/sessions/" + strconv.FormatInt(sessionID, 10) + "/logs" + q.encode()
	var out []LogEntry
	err := c.doJSON(ctx, "GET", path, nil, &out)
	return out, err
}

// DeleteSession drops one session and its entries.
func (c *Client) DeleteSession(ctx context.Context, sessionID int64) error {
	return c.doJSON(ctx, "DELETE", "/api/logs/sessions/"+strconv.FormatInt(sessionID, 10), nil, nil)
}

// DeleteServiceLogs drops all persisted logs of a service and reports the
// number of removed rows.
func (c *Client) DeleteServiceLogs(ctx context.Context, id string) (int64, error) {
	var out struct {
		Removed int64 `json:"removed"`
	}
	err := c.doJSON(ctx, "DELETE", "/api/services/"+url.PathEscape(id)+"/logs", nil, &out)
	return out.Removed, err
}

// PurgeLogs removes sessions older than days. Zero days defers to the
// daemon's configured retention age.
func (c *Client) PurgeLogs(ctx context.Context, days int) (int64, error) {
	path := "/api/logs/purge"
	if days > 0 {
		path += "?days=" + strconv.Itoa(days)
	}
	var out struct {
		Removed int64 `json:"removed"`
	}
	err := c.doJSON(ctx, "POST", path, nil, &out)
	return out.Removed, err
}

// StreamEvents subscribes to the daemon's event stream and calls fn for each
// event until ctx is done, the stream ends, or fn returns an error. An empty
// serviceID subscribes to all services.
func (c *Client) StreamEvents(ctx context.Context, serviceID string, fn func(Event) error) error {
	path := c.baseURL + "/api/events"
	if serviceID != "" {
		path += "?service=" + url.QueryEscape(serviceID)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)

	// The stream outlives the regular request timeout.
	streamClient := &http.Client{Transport: c.client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.errorFromResponse(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			c.logger.Debug("skipping malformed event", "error", err)
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// setupClientTLS configures TLS settings for the HTTP client.
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads a CA certificate from file and adds it to the TLS config.
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

// doJSON performs a request with the optional JSON body and decodes the
// response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// errorFromResponse turns a non-2xx response into an error carrying the
// server's message when one is present.
func (c *Client) errorFromResponse(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", er.Error)
}

// encode renders the query string, empty when no field is set.
func (q LogQuery) encode() string {
	v := url.Values{}
	if q.SessionID > 0 {
		v.Set("session", strconv.FormatInt(q.SessionID, 10))
	}
	if q.Level != "" {
		v.Set("level", q.Level)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}
