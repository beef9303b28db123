package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DegrassiAaron/mcpcode/internal/audit"
	"github.com/DegrassiAaron/mcpcode/internal/catalog"
	"github.com/DegrassiAaron/mcpcode/internal/config"
	"github.com/DegrassiAaron/mcpcode/internal/engine"
	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
	"github.com/DegrassiAaron/mcpcode/internal/plan"
	"github.com/DegrassiAaron/mcpcode/internal/render"
	"github.com/DegrassiAaron/mcpcode/internal/rpc"
	"github.com/DegrassiAaron/mcpcode/internal/sandbox"
	"github.com/DegrassiAaron/mcpcode/internal/summarize"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errdefs.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mcpcode",
		Short:         "mcpcode - code-execution engine for MCP tool servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newExecuteCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newListCmd())
	return cmd
}

func newExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute [intent]",
		Short: "Plan, generate, validate, and run code against indexed tools",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent := strings.Join(args, " ")
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			index := catalog.NewIndex(logger)
			if err := index.Load(cfg.ToolsDir); err != nil {
				return err
			}

			servers, err := config.LoadServers(cfg.ServersFile)
			if err != nil {
				return err
			}
			pool := rpc.NewPool(servers.MCPServers, cfg.Network, logger, cfg.CallTimeout)

			trail, err := audit.NewTrail(cfg.AuditLog)
			if err != nil {
				return err
			}
			defer func() { _ = trail.Close() }()

			var renderer render.Renderer
			params := engine.Params{
				Index:   index,
				Planner: buildPlanner(cfg),
				Tools:   pool,
				Trail:   trail,
				Logger:  logger,
			}
			if !cfg.JSON {
				stdout := render.NewStdoutRenderer(os.Stdout, cfg.Verbose, false)
				renderer = stdout
				params.Events = stdout.Emit
			}
			eng := engine.New(params)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
			defer func() { _ = pool.DisconnectAll(context.Background()) }()

			opts := engine.Options{
				MaxTools:       cfg.MaxTools,
				IsolationLevel: cfg.IsolationLevel,
				Limits:         sandbox.ResourceLimits{WallClock: cfg.Timeout},
				Network:        cfg.Network,
				EnvAllowlist:   cfg.EnvAllowlist,
				Redact:         cfg.Redact,
				Summary:        summarize.Options{MaxUnits: cfg.MaxUnits},
				OutputRoot:     cfg.OutputRoot,
			}
			result, runErr := eng.Execute(ctx, intent, cfg.Language, opts)
			if renderer != nil {
				_ = renderer.Close()
			}
			if cfg.PersistRuns {
				persistRun(logger, result)
			}
			if cfg.JSON {
				payload, _ := json.MarshalIndent(result, "", "  ")
				fmt.Fprintln(os.Stdout, string(payload))
			}
			if runErr != nil {
				return runErr
			}
			if !result.Success {
				return errdefs.New(errdefs.Internal, "execution failed")
			}
			return nil
		},
	}

	cmd.Flags().String("language", config.DefaultLanguage, "Generated code language (typescript or python)")
	cmd.Flags().String("tools-dir", config.DefaultToolsDir, "Directory of tool metadata files")
	cmd.Flags().String("output-root", config.DefaultOutputRoot, "Directory generated wrappers are written to")
	cmd.Flags().String("servers-file", "mcp-servers.json", "Server registry file")
	cmd.Flags().Int("max-tools", config.DefaultMaxTools, "Maximum tools bound into one unit")
	cmd.Flags().String("timeout", config.DefaultTimeout.String(), "Overall execution timeout (e.g. 30s)")
	cmd.Flags().String("isolation", "", "Pin the isolation level (process, vm, container)")
	cmd.Flags().Bool("persist-runs", false, "Persist execution results under the state directory")
	cmd.Flags().Bool("json", false, "Output JSON only")
	cmd.Flags().Bool("verbose", false, "Enable verbose logging")
	return cmd
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Register an MCP server and index its tools",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			command, _ := cmd.Flags().GetString("command")
			cmdArgs, _ := cmd.Flags().GetStringSlice("args")
			envPairs, _ := cmd.Flags().GetStringSlice("env")
			url, _ := cmd.Flags().GetString("url")
			probe, _ := cmd.Flags().GetBool("probe")

			reader := bufio.NewReader(cmd.InOrStdin())
			if name == "" {
				name = prompt(reader, "Server name: ")
			}
			if name == "" {
				return errdefs.New(errdefs.ConfigError, "server name is required")
			}
			if command == "" && url == "" {
				command = prompt(reader, "Command (empty for HTTP): ")
				if command == "" {
					url = prompt(reader, "URL: ")
				}
			}
			if command == "" && url == "" {
				return errdefs.New(errdefs.ConfigError, "either a command or a URL is required")
			}

			spec := config.ServerSpec{Command: command, Args: cmdArgs, URL: url}
			if len(envPairs) > 0 {
				spec.Env = map[string]string{}
				for _, pair := range envPairs {
					key, value, ok := strings.Cut(pair, "=")
					if !ok {
						return errdefs.Newf(errdefs.ConfigError, "malformed env pair %q", pair)
					}
					spec.Env[key] = value
				}
			}

			servers, err := config.LoadServers(cfg.ServersFile)
			if err != nil {
				return err
			}
			if servers.MCPServers == nil {
				servers.MCPServers = map[string]config.ServerSpec{}
			}
			servers.MCPServers[name] = spec
			if err := config.SaveServers(cfg.ServersFile, servers); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "registered %s\n", name)

			if probe {
				if err := probeServer(cfg, logger, name, spec); err != nil {
					logger.Warn("probe failed", zap.String("server", name), zap.Error(err))
					fmt.Fprintf(os.Stderr, "warning: probe failed: %v\n", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().String("command", "", "Command that starts a stdio server")
	cmd.Flags().StringSlice("args", nil, "Arguments for the server command")
	cmd.Flags().StringSlice("env", nil, "Environment entries as KEY=VALUE")
	cmd.Flags().String("url", "", "Endpoint of an HTTP server")
	cmd.Flags().Bool("probe", true, "Connect and index the server's tools")
	cmd.Flags().String("servers-file", "mcp-servers.json", "Server registry file")
	cmd.Flags().String("tools-dir", config.DefaultToolsDir, "Directory of tool metadata files")
	cmd.Flags().Bool("verbose", false, "Enable verbose logging")
	return cmd
}

// probeServer connects once, fetches the tool list, and persists it as a
// metadata file so discovery works without re-contacting the server.
func probeServer(cfg config.Config, logger *zap.Logger, name string, spec config.ServerSpec) error {
	pool := rpc.NewPool(map[string]config.ServerSpec{name: spec}, cfg.Network, logger, cfg.CallTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	defer func() { _ = pool.DisconnectAll(context.Background()) }()

	transport, err := pool.AddServer(name, spec)
	if err != nil {
		return err
	}
	descriptors, err := transport.ListTools(ctx)
	if err != nil {
		return err
	}
	if len(descriptors) == 0 {
		fmt.Fprintf(os.Stdout, "%s exposes no tools\n", name)
		return nil
	}
	if err := os.MkdirAll(cfg.ToolsDir, 0o755); err != nil {
		return errdefs.Wrap(errdefs.IOError, "creating tools dir", err)
	}
	payload, err := json.MarshalIndent(descriptors, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.Internal, "encoding descriptors", err)
	}
	path := filepath.Join(cfg.ToolsDir, name+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return errdefs.Wrap(errdefs.IOError, "writing metadata file", err)
	}
	fmt.Fprintf(os.Stdout, "indexed %d tools from %s\n", len(descriptors), name)
	return nil
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [intent]",
		Short: "Print indexed tools, ranked when an intent is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			index := catalog.NewIndex(logger)
			if err := index.Load(cfg.ToolsDir); err != nil {
				return err
			}

			if len(args) == 1 {
				matches := index.Discover(args[0], cfg.MaxTools, 0)
				if cfg.JSON {
					payload, _ := json.MarshalIndent(matches, "", "  ")
					fmt.Fprintln(os.Stdout, string(payload))
					return nil
				}
				for _, m := range matches {
					fmt.Fprintf(os.Stdout, "%-40s %.2f  %s\n", m.Descriptor.FQN(), m.Score, m.Descriptor.Description)
				}
				return nil
			}

			all := index.All()
			if cfg.JSON {
				payload, _ := json.MarshalIndent(all, "", "  ")
				fmt.Fprintln(os.Stdout, string(payload))
				return nil
			}
			for _, d := range all {
				fmt.Fprintf(os.Stdout, "%-40s %s\n", d.FQN(), d.Description)
			}
			return nil
		},
	}

	cmd.Flags().String("tools-dir", config.DefaultToolsDir, "Directory of tool metadata files")
	cmd.Flags().Int("max-tools", config.DefaultMaxTools, "Maximum ranked tools to print")
	cmd.Flags().Bool("json", false, "Output JSON only")
	cmd.Flags().Bool("verbose", false, "Enable verbose logging")
	return cmd
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Fprint(os.Stdout, label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return strings.TrimSpace(line)
	}
	return strings.TrimSpace(line)
}

// buildPlanner picks the model-backed planner when a model and key are
// configured, the deterministic heuristic otherwise.
func buildPlanner(cfg config.Config) plan.Planner {
	apiKey := os.Getenv("MCPCODE_PLANNER_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.PlannerModel != "" && apiKey != "" {
		return plan.NewModelPlanner(apiKey, cfg.PlannerBaseURL, cfg.PlannerModel)
	}
	return plan.NewHeuristicPlanner()
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

func persistRun(logger *zap.Logger, result engine.Result) {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("failed to get home dir", zap.Error(err))
		return
	}
	path := filepath.Join(home, ".local", "share", "mcpcode", "runs")
	if err := os.MkdirAll(path, 0o755); err != nil {
		logger.Warn("failed to create run directory", zap.Error(err))
		return
	}
	file := filepath.Join(path, result.ExecutionID+".json")
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Warn("failed to marshal run log", zap.Error(err))
		return
	}
	if err := os.WriteFile(file, payload, 0o600); err != nil {
		logger.Warn("failed to write run log", zap.Error(err))
	}
}
