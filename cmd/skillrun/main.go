package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/config"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/dispatch"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/lifecycle"
	skillmcp "github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/mcp"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/registry"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/resilience"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/schema"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/telemetry"
)

const version = "dev"

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	Profile    string
	SkillsDir  string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(err)
	}
	if global.SkillsDir != "" {
		cfg.Skills.Dir = global.SkillsDir
	}

	switch args[0] {
	case "validate":
		ensureNoArgs(args[1:])
		runValidate(global, cfg)
	case "list":
		ensureNoArgs(args[1:])
		runList(global, cfg)
	case "check":
		runCheck(global, cfg, args[1:])
	case "serve":
		ensureNoArgs(args[1:])
		runServe(ctx, global, cfg)
	case "help":
		printUsage()
	case "version":
		fmt.Println(version)
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--profile" || arg == "--env":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			flags.Profile = args[i+1]
			i++
		case strings.HasPrefix(arg, "--profile="), strings.HasPrefix(arg, "--env="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
			_, value, _ := strings.Cut(arg, "=")
			flags.Profile = value
		case arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --set")
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--skills":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --skills")
			}
			flags.SkillsDir = args[i+1]
			i++
		case strings.HasPrefix(arg, "--skills="):
			flags.SkillsDir = strings.TrimPrefix(arg, "--skills=")
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

// buildRegistry loads every manifest under the skills dir into a fresh
// registry seeded with the configured retry defaults.
func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()

	policy := resilience.DefaultRetryPolicy().
		WithMaxAttempts(cfg.Retry.MaxAttempts).
		WithInitialDelay(time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond).
		WithMaxDelay(time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond)
	if cfg.Retry.Backoff == "fixed" {
		policy = policy.WithBackoff(resilience.BackoffFixed)
	} else {
		policy = policy.WithBackoff(resilience.BackoffExponential)
	}
	if err := reg.SetDefaultRetryPolicy(policy); err != nil {
		return nil, err
	}

	if err := registry.LoadIntoRegistry(cfg.Skills.Dir, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

type checkOutcome struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "error"
	Message string `json:"message,omitempty"`
}

func runValidate(flags globalFlags, cfg *config.Config) {
	results := []checkOutcome{}
	hasError := false

	defs, err := registry.LoadDir(cfg.Skills.Dir)
	if err != nil {
		results = append(results, checkOutcome{Name: "skills", Status: "error", Message: err.Error()})
		hasError = true
	}
	reg := registry.New()
	for _, def := range defs {
		result := checkOutcome{Name: def.ID, Status: "ok"}
		if err := reg.RegisterSkill(def); err != nil {
			result.Status = "error"
			result.Message = err.Error()
			hasError = true
		}
		results = append(results, result)
	}

	if flags.JSON {
		printJSON(results)
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SKILL\tSTATUS\tMESSAGE")
		for _, result := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\n", result.Name, result.Status, result.Message)
		}
		w.Flush()
	}
	if hasError {
		os.Exit(1)
	}
}

func runList(flags globalFlags, cfg *config.Config) {
	reg, err := buildRegistry(cfg)
	if err != nil {
		fatal(err)
	}
	skills := reg.Skills()

	if flags.JSON {
		printJSON(skills)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SKILL\tOPERATIONS\tDESCRIPTION")
	for _, skill := range skills {
		fmt.Fprintf(w, "%s\t%s\t%s\n", skill.ID, strings.Join(skill.Operations, ","), truncate(skill.Description, 60))
	}
	w.Flush()
}

// runCheck dry-runs a request against the registered schemas without
// executing any handler. The exit code mirrors dispatch: 0 for a valid
// request, 1 for anything the dispatcher would reject.
func runCheck(flags globalFlags, cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: skillrun check '<request-json>'"))
	}

	var req core.InvocationRequest
	if err := json.Unmarshal([]byte(args[0]), &req); err != nil {
		fatal(fmt.Errorf("invalid request JSON: %w", err))
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		fatal(err)
	}

	result := checkOutcome{Name: req.SkillID + "." + req.Operation, Status: "ok"}
	err = checkRequest(reg, req)
	if err != nil {
		result.Status = "error"
		result.Message = err.Error()
	}

	if flags.JSON {
		printJSON(result)
	} else if err != nil {
		fmt.Printf("invalid: %v\n", err)
	} else {
		fmt.Println("ok")
	}
	if err != nil {
		os.Exit(1)
	}
}

func checkRequest(reg *registry.Registry, req core.InvocationRequest) error {
	if err := req.ValidateShape(); err != nil {
		return err
	}
	desc, err := reg.Lookup(req.SkillID, req.Operation)
	if err != nil {
		return err
	}
	return schema.Validate(req.Params, desc.Params)
}

// runServe exposes the registered skills over MCP stdio. Handlers are
// bound by the embedding host; operations without one report failure
// at call time.
func runServe(ctx context.Context, global globalFlags, cfg *config.Config) {
	logger, level := telemetry.NewLogger(os.Stderr, cfg.Log)

	shutdown, err := telemetry.Init(version, cfg.Telemetry)
	if err != nil {
		fatal(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	reg, err := buildRegistry(cfg)
	if err != nil {
		fatal(err)
	}

	opts := []dispatch.Option{dispatch.WithLogger(logger)}

	if cfg.Audit.Enabled {
		sink, db, err := lifecycle.OpenSQLiteSink(cfg.Audit.Path)
		if err != nil {
			fatal(err)
		}
		defer db.Close()
		opts = append(opts, dispatch.WithEmitter(lifecycle.NewEmitter(sink, logger)))
	} else {
		opts = append(opts, dispatch.WithEmitter(lifecycle.NewEmitter(lifecycle.SlogSink{Logger: logger}, logger)))
	}

	if metrics, err := telemetry.NewInvocationMetrics(); err == nil {
		opts = append(opts, dispatch.WithMetrics(metrics))
	} else {
		logger.Warn("metrics disabled", "error", err)
	}

	// Hot reload: the dispatcher resolves operations per call, so a
	// replaced skill set takes effect without restarting the server.
	if global.ConfigPath != "" {
		watcher, _, err := config.WatchConfig(ctx, global.ConfigPath,
			config.WithWatchProfile(global.Profile),
			config.WithWatchLogger(logger))
		if err != nil {
			fatal(err)
		}
		defer watcher.Stop()
		watcher.OnChange(func(next *config.Config) {
			applyConfigChange(reg, level, logger, next)
		})
	}

	d := dispatch.New(reg, opts...)
	srv := skillmcp.NewServer("skillrun", version, d)
	srv.RegisterSkills(reg)

	logger.Info("serving skills over MCP stdio",
		"skills", len(reg.Skills()),
		"dir", cfg.Skills.Dir)

	done := make(chan error, 1)
	go func() { done <- srv.ServeStdio() }()

	select {
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			fatal(err)
		}
	}
}

// applyConfigChange carries a reloaded config into the running server:
// log verbosity immediately, the manifest set through Registry.Replace.
func applyConfigChange(reg *registry.Registry, level *slog.LevelVar, logger *slog.Logger, next *config.Config) {
	level.Set(telemetry.ParseLevel(next.Log.Level))

	defs, err := registry.LoadDir(next.Skills.Dir)
	if err != nil {
		logger.Error("skill reload failed, keeping current set", "error", err)
		return
	}
	if err := reg.Replace(defs); err != nil {
		logger.Error("skill reload rejected, keeping current set", "error", err)
		return
	}
	logger.Info("skills reloaded", "dir", next.Skills.Dir, "skills", len(defs))
}

func printJSON(value any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		fatal(err)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func printUsage() {
	fmt.Println(`skillrun - skill invocation runtime

Usage:
  skillrun [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml
  --profile <name>     Overlay config.<name>.yaml on top of the base config
  --set key=value      Override config (repeatable)
  --skills <dir>       Skill manifest directory (overrides config)
  --json               JSON output

Commands:
  validate                     Validate every skill manifest
  list                         List registered skills and operations
  check '<request-json>'       Dry-run a request against the schemas
  serve                        Serve skills over MCP stdio
  version
  help`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}
