package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Skills    SkillsConfig    `koanf:"skills"`
	Audit     AuditConfig     `koanf:"audit"`
	Retry     RetryConfig     `koanf:"retry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// SkillsConfig locates the manifest tree the registry loads at startup.
type SkillsConfig struct {
	Dir string `koanf:"dir"`
}

// AuditConfig controls the SQLite lifecycle event sink.
type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// RetryConfig carries the registry-wide retry defaults. Skills and
// operations override these in their manifests.
type RetryConfig struct {
	MaxAttempts    int    `koanf:"max_attempts"`
	Backoff        string `koanf:"backoff"` // fixed, exponential
	InitialDelayMS int    `koanf:"initial_delay_ms"`
	MaxDelayMS     int    `koanf:"max_delay_ms"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile loads the base config file, then overlays the
// profile-specific file (config.dev.yaml for profile "dev") when one
// exists next to the base file. ENV always wins over files.
func LoadWithProfile(path, profile string) (*Config, error) {
	k = koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "stdout")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.otlp_insecure", true)

	k.Set("skills.dir", "skills")

	k.Set("audit.enabled", false)
	k.Set("audit.path", "skillrun-audit.db")

	k.Set("retry.max_attempts", 3)
	k.Set("retry.backoff", "exponential")
	k.Set("retry.initial_delay_ms", 1000)
	k.Set("retry.max_delay_ms", 30000)

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Overlay the profile file when present
	if profilePath := profileConfigPath(path, profile); profilePath != "" {
		if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 3. Load from ENV (SKILLRUN_RETRY_BACKOFF -> retry.backoff)
	if err := k.Load(env.Provider("SKILLRUN_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "SKILLRUN_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithCLI loads configuration honoring --config, --profile (alias
// --env) and repeated --set key=value overrides. Overrides are applied
// last, after files and ENV.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadWithProfile(opts.configPath, opts.profile)
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return cfg, nil
	}

	for key, value := range overrides {
		k.Set(key, value)
	}
	var merged Config
	if err := k.Unmarshal("", &merged); err != nil {
		return nil, err
	}
	if err := merged.check(); err != nil {
		return nil, err
	}
	return &merged, nil
}

type cliOptions struct {
	configPath string
	profile    string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]string, error) {
	var opts cliOptions
	overrides := make(map[string]string)

	takeValue := func(flag string, i *int) (string, error) {
		arg := args[*i]
		if idx := strings.IndexByte(arg, '='); idx >= 0 {
			return arg[idx+1:], nil
		}
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("config: flag %s requires a value", flag)
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || strings.HasPrefix(arg, "--config="):
			value, err := takeValue("--config", &i)
			if err != nil {
				return opts, nil, err
			}
			opts.configPath = value
		case arg == "--profile" || strings.HasPrefix(arg, "--profile="),
			arg == "--env" || strings.HasPrefix(arg, "--env="):
			value, err := takeValue("--profile", &i)
			if err != nil {
				return opts, nil, err
			}
			opts.profile = value
		case arg == "--set" || strings.HasPrefix(arg, "--set="):
			value, err := takeValue("--set", &i)
			if err != nil {
				return opts, nil, err
			}
			key, val, ok := strings.Cut(value, "=")
			if !ok || key == "" {
				return opts, nil, fmt.Errorf("config: --set expects key=value, got %q", value)
			}
			overrides[key] = val
		}
	}
	return opts, overrides, nil
}

// profileConfigPath returns the profile variant of the base config path
// (config.yaml + "dev" -> config.dev.yaml) when that file exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	candidate := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

func (c *Config) check() error {
	switch c.Retry.Backoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("config: unknown backoff kind %q", c.Retry.Backoff)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelayMS < 0 || c.Retry.MaxDelayMS < 0 {
		return fmt.Errorf("config: retry delays must not be negative")
	}
	return nil
}
