package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/servonhq/servon/internal/env"
	"github.com/servonhq/servon/internal/health"
	"github.com/servonhq/servon/internal/logger"
	"github.com/servonhq/servon/internal/metrics"
)

// Defaults applied when the corresponding TOML knobs are unset.
const (
	DefaultListen        = ":8899"
	DefaultStoreDSN      = "servon.db"
	DefaultLogStoreDSN   = "servon_logs.db"
	DefaultRetainDays    = 30
	DefaultSweepSchedule = "0 3 * * *"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string      `toml:"env" mapstructure:"env"`
	EnvFiles []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	KillWait time.Duration `toml:"kill_wait" mapstructure:"kill_wait"`

	Server    *ServerConfig          `toml:"server" mapstructure:"server"`
	Log       *logger.SlogConfig     `toml:"log" mapstructure:"log"`
	Capture   *logger.FileConfig     `toml:"capture" mapstructure:"capture"`
	Store     *StoreConfig           `toml:"store" mapstructure:"store"`
	LogStore  *StoreConfig           `toml:"logstore" mapstructure:"logstore"`
	Audit     *AuditConfig           `toml:"audit" mapstructure:"audit"`
	Retention *RetentionConfig       `toml:"retention" mapstructure:"retention"`
	Metrics   *metrics.SamplerConfig `toml:"metrics" mapstructure:"metrics"`

	Workspaces []WorkspaceConfig `toml:"workspaces" mapstructure:"workspaces"`
	Services   []ServiceConfig   `toml:"services" mapstructure:"services"`
	Checks     []CheckConfig     `toml:"checks" mapstructure:"checks"`
}

type ServerConfig struct {
	Listen    string     `toml:"listen" mapstructure:"listen"`
	BasePath  string     `toml:"base_path" mapstructure:"base_path"`
	AuthToken string     `toml:"auth_token" mapstructure:"auth_token"`
	TLS       *TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig enables HTTPS serving. Either point cert_file/key_file at an
// existing pair, or set dir (plus auto_generate) to keep a self-signed pair
// there for local development.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string   `toml:"max_version" mapstructure:"max_version"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type AuditConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type RetentionConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Schedule string `toml:"schedule" mapstructure:"schedule"`
	Days     int    `toml:"days" mapstructure:"days"`
}

type WorkspaceConfig struct {
	Name     string `toml:"name" mapstructure:"name"`
	RootPath string `toml:"root_path" mapstructure:"root_path"`
}

type ServiceConfig struct {
	Workspace string            `toml:"workspace" mapstructure:"workspace"`
	Name      string            `toml:"name" mapstructure:"name"`
	RepoPath  string            `toml:"repo_path" mapstructure:"repo_path"`
	Command   string            `toml:"command" mapstructure:"command"`
	Port      int               `toml:"port" mapstructure:"port"`
	Env       map[string]string `toml:"env" mapstructure:"env"`
}

type CheckConfig struct {
	Service  string        `toml:"service" mapstructure:"service"`
	Type     string        `toml:"type" mapstructure:"type"`
	Target   string        `toml:"target" mapstructure:"target"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	Enabled  *bool         `toml:"enabled" mapstructure:"enabled"`
}

// Load parses and validates a TOML config file.
func Load(path string) (FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return FileConfig{}, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return FileConfig{}, err
	}
	if err := fc.validate(); err != nil {
		return FileConfig{}, err
	}
	return fc, nil
}

func (fc FileConfig) validate() error {
	wsNames := make(map[string]bool)
	for _, w := range fc.Workspaces {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return fmt.Errorf("workspace requires name")
		}
		if wsNames[name] {
			return fmt.Errorf("duplicate workspace %s", name)
		}
		wsNames[name] = true
	}
	svcKeys := make(map[string]bool)
	svcNames := make(map[string]bool)
	for _, s := range fc.Services {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("service requires name")
		}
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("service %s requires command", s.Name)
		}
		if s.Workspace == "" {
			return fmt.Errorf("service %s requires workspace", s.Name)
		}
		if !wsNames[s.Workspace] {
			return fmt.Errorf("service %s references unknown workspace %s", s.Name, s.Workspace)
		}
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("service %s port out of range: %d", s.Name, s.Port)
		}
		key := s.Workspace + "/" + s.Name
		if svcKeys[key] {
			return fmt.Errorf("duplicate service %s in workspace %s", s.Name, s.Workspace)
		}
		svcKeys[key] = true
		svcNames[s.Name] = true
	}
	if fc.Server != nil && fc.Server.TLS != nil && fc.Server.TLS.Enabled {
		tc := fc.Server.TLS
		if (tc.CertFile == "") != (tc.KeyFile == "") {
			return fmt.Errorf("server.tls requires both cert_file and key_file")
		}
		if tc.CertFile == "" && tc.Dir == "" {
			return fmt.Errorf("server.tls requires cert_file/key_file or dir")
		}
	}
	for _, c := range fc.Checks {
		if c.Service == "" {
			return fmt.Errorf("check requires service")
		}
		if !svcNames[c.Service] {
			return fmt.Errorf("check references unknown service %s", c.Service)
		}
		switch c.Type {
		case string(health.TypeHTTP), string(health.TypeTCP):
		default:
			return fmt.Errorf("unknown check type %q for service %s", c.Type, c.Service)
		}
		if c.Target == "" {
			return fmt.Errorf("check for service %s requires target", c.Service)
		}
	}
	return nil
}

// GlobalEnv merges env sources of the file: OS environment when use_os_env
// is set, env_files in order, then the top-level env list overrides last.
// Values are returned unexpanded; ${VAR} expansion happens at spawn time.
func (fc FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	scratch := env.New()
	for _, p := range fc.EnvFiles {
		if err := scratch.LoadFile(p); err != nil {
			return nil, err
		}
	}
	for k, v := range scratch.Var {
		m[k] = v
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadGlobalEnv reads only the env sections of a config file.
func LoadGlobalEnv(path string) ([]string, error) {
	fc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return fc.GlobalEnv()
}

// CaptureConfig returns the rotating capture mirror settings.
func (fc FileConfig) CaptureConfig() logger.Config {
	var c logger.Config
	if fc.Capture != nil {
		c.File = *fc.Capture
	}
	return c
}

// SlogConfig returns the daemon logger settings.
func (fc FileConfig) SlogConfig() logger.SlogConfig {
	if fc.Log != nil {
		return *fc.Log
	}
	return logger.SlogConfig{}
}

// HealthChecks resolves configured checks against created service ids,
// keyed by service name. Checks default to enabled.
func (fc FileConfig) HealthChecks(idByName map[string]string) ([]health.Check, error) {
	out := make([]health.Check, 0, len(fc.Checks))
	for i, cc := range fc.Checks {
		id, ok := idByName[cc.Service]
		if !ok {
			return nil, fmt.Errorf("check references unknown service %s", cc.Service)
		}
		enabled := true
		if cc.Enabled != nil {
			enabled = *cc.Enabled
		}
		out = append(out, health.Check{
			ID:        fmt.Sprintf("%s-%s-%d", cc.Service, cc.Type, i),
			ServiceID: id,
			Enabled:   enabled,
			Type:      health.CheckType(cc.Type),
			Target:    cc.Target,
			Interval:  cc.Interval,
		})
	}
	return out, nil
}

// Listen returns the configured server address or the default.
func (fc FileConfig) Listen() string {
	if fc.Server != nil && fc.Server.Listen != "" {
		return fc.Server.Listen
	}
	return DefaultListen
}

// StoreDSN returns the configuration store DSN or the sqlite default.
func (fc FileConfig) StoreDSN() string {
	if fc.Store != nil && fc.Store.DSN != "" {
		return fc.Store.DSN
	}
	return DefaultStoreDSN
}

// LogStoreDSN returns the log store DSN or the sqlite default.
func (fc FileConfig) LogStoreDSN() string {
	if fc.LogStore != nil && fc.LogStore.DSN != "" {
		return fc.LogStore.DSN
	}
	return DefaultLogStoreDSN
}

// Normalize fills unset retention knobs with defaults.
func (rc RetentionConfig) Normalize() RetentionConfig {
	if rc.Schedule == "" {
		rc.Schedule = DefaultSweepSchedule
	}
	if rc.Days <= 0 {
		rc.Days = DefaultRetainDays
	}
	return rc
}
