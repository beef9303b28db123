package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/DegrassiAaron/mcpcode/internal/redact"
)

const (
	DefaultLanguage    = "typescript"
	DefaultMaxTools    = 5
	DefaultTimeout     = 30 * time.Second
	DefaultCallTimeout = 30 * time.Second
	DefaultMaxUnits    = 2000
	DefaultToolsDir    = "tools"
	DefaultOutputRoot  = "generated"
)

// Network policy modes.
const (
	NetworkOff       = "off"
	NetworkAllowlist = "allowlist"
)

// NetworkPolicy bounds what the sandboxed code may reach. Mode off blocks
// egress entirely; allowlist mode admits only the listed hosts.
type NetworkPolicy struct {
	Mode  string   `mapstructure:"mode" json:"mode"`
	Hosts []string `mapstructure:"hosts" json:"hosts,omitempty"`
}

// Allows reports whether the policy admits a host.
func (p NetworkPolicy) Allows(host string) bool {
	if p.Mode != NetworkAllowlist {
		return false
	}
	for _, h := range p.Hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// Config holds resolved runtime configuration for the engine and CLI.
type Config struct {
	ToolsDir       string
	OutputRoot     string
	ServersFile    string
	AuditLog       string
	Language       string
	MaxTools       int
	Timeout        time.Duration
	CallTimeout    time.Duration
	MaxUnits       int
	IsolationLevel string
	EnvAllowlist   []string
	Network        NetworkPolicy
	Redact         redact.Config
	PlannerModel   string
	PlannerBaseURL string
	PersistRuns    bool
	JSON           bool
	Verbose        bool
}

type rawConfig struct {
	ToolsDir       string        `mapstructure:"tools_dir"`
	OutputRoot     string        `mapstructure:"output_root"`
	ServersFile    string        `mapstructure:"servers_file"`
	AuditLog       string        `mapstructure:"audit_log"`
	Language       string        `mapstructure:"language"`
	MaxTools       int           `mapstructure:"max_tools"`
	Timeout        string        `mapstructure:"timeout"`
	CallTimeout    string        `mapstructure:"call_timeout"`
	MaxUnits       int           `mapstructure:"max_units"`
	IsolationLevel string        `mapstructure:"isolation_level"`
	EnvAllowlist   []string      `mapstructure:"env_allowlist"`
	Network        NetworkPolicy `mapstructure:"network"`
	Redact         redact.Config `mapstructure:"redact"`
	PlannerModel   string        `mapstructure:"planner_model"`
	PlannerBaseURL string        `mapstructure:"planner_base_url"`
	PersistRuns    bool          `mapstructure:"persist_runs"`
	JSON           bool          `mapstructure:"json"`
	Verbose        bool          `mapstructure:"verbose"`
}

// Load resolves configuration from defaults, the config file, env, and flags.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MCPCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("tools_dir", DefaultToolsDir)
	v.SetDefault("output_root", DefaultOutputRoot)
	v.SetDefault("servers_file", "mcp-servers.json")
	v.SetDefault("audit_log", defaultAuditPath())
	v.SetDefault("language", DefaultLanguage)
	v.SetDefault("max_tools", DefaultMaxTools)
	v.SetDefault("timeout", DefaultTimeout.String())
	v.SetDefault("call_timeout", DefaultCallTimeout.String())
	v.SetDefault("max_units", DefaultMaxUnits)
	v.SetDefault("isolation_level", "")
	v.SetDefault("network.mode", NetworkOff)
	v.SetDefault("redact.enabled", true)
	v.SetDefault("redact.kinds", redact.DefaultConfig().Kinds)
	v.SetDefault("persist_runs", false)
	v.SetDefault("json", false)
	v.SetDefault("verbose", false)

	if cmd != nil {
		bindFlag := func(key, flag string) {
			if f := cmd.Flags().Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
		bindFlag("tools_dir", "tools-dir")
		bindFlag("output_root", "output-root")
		bindFlag("servers_file", "servers-file")
		bindFlag("language", "language")
		bindFlag("max_tools", "max-tools")
		bindFlag("timeout", "timeout")
		bindFlag("isolation_level", "isolation")
		bindFlag("persist_runs", "persist-runs")
		bindFlag("json", "json")
		bindFlag("verbose", "verbose")
	}

	if err := loadConfigFile(v); err != nil {
		return Config{}, err
	}

	var raw rawConfig
	decoder, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", Result: &raw})
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, err
	}

	timeout, err := parseTimeout(raw.Timeout, DefaultTimeout)
	if err != nil {
		return Config{}, err
	}
	callTimeout, err := parseTimeout(raw.CallTimeout, DefaultCallTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ToolsDir:       raw.ToolsDir,
		OutputRoot:     raw.OutputRoot,
		ServersFile:    raw.ServersFile,
		AuditLog:       raw.AuditLog,
		Language:       raw.Language,
		MaxTools:       raw.MaxTools,
		Timeout:        timeout,
		CallTimeout:    callTimeout,
		MaxUnits:       raw.MaxUnits,
		IsolationLevel: raw.IsolationLevel,
		EnvAllowlist:   raw.EnvAllowlist,
		Network:        raw.Network,
		Redact:         raw.Redact,
		PlannerModel:   raw.PlannerModel,
		PlannerBaseURL: raw.PlannerBaseURL,
		PersistRuns:    raw.PersistRuns,
		JSON:           raw.JSON,
		Verbose:        raw.Verbose,
	}

	if cfg.MaxTools <= 0 {
		cfg.MaxTools = DefaultMaxTools
	}
	if cfg.MaxUnits <= 0 {
		cfg.MaxUnits = DefaultMaxUnits
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Network.Mode == "" {
		cfg.Network.Mode = NetworkOff
	}
	return cfg, nil
}

func parseTimeout(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout duration: %w", err)
	}
	if parsed <= 0 {
		return fallback, nil
	}
	return parsed, nil
}

func defaultAuditPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mcpcode-audit.jsonl"
	}
	return filepath.Join(home, ".local", "share", "mcpcode", "audit.jsonl")
}

func loadConfigFile(v *viper.Viper) error {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	base := filepath.Join(configDir, "mcpcode")
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		path := filepath.Join(base, name)
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}
