// Package config loads specforge settings using Viper. Values come from defaults, then
// .specforge/config.yaml, then SPECFORGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/specforge/internal/assistant"
	"github.com/felixgeelhaar/specforge/internal/decompose"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/log"
	"github.com/felixgeelhaar/specforge/internal/review"
	"github.com/felixgeelhaar/specforge/internal/task"
	"github.com/felixgeelhaar/specforge/internal/telemetry"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

// EnvPrefix is prepended to every environment override, e.g. SPECFORGE_REVIEW_TIMEOUT
const EnvPrefix = "SPECFORGE"

// Config holds the application configuration.
type Config struct {
	Assistant AssistantConfig  `mapstructure:"assistant"`
	Review    ReviewConfig     `mapstructure:"review"`
	Decompose DecomposeConfig  `mapstructure:"decompose"`
	Sequence  SequenceConfig   `mapstructure:"sequence"`
	Log       LogConfig        `mapstructure:"log"`
	Server    ServerConfig     `mapstructure:"server"`
	Project   ProjectConfig    `mapstructure:"project"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// AssistantConfig describes the assistant CLI
type AssistantConfig struct {
	Command     string        `mapstructure:"command"`
	Args        []string      `mapstructure:"args"`
	SessionFlag string        `mapstructure:"session_flag"`
	ResumeFlag  string        `mapstructure:"resume_flag"`
	ModelFlag   string        `mapstructure:"model_flag"`
	Model       string        `mapstructure:"model"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// ReviewConfig bounds the spec review
type ReviewConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Parallelism int           `mapstructure:"parallelism"`
}

// DecomposeConfig tunes the decompose loop
type DecomposeConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// SequenceConfig selects the task id backend. An empty sqlite DSN means .specforge/sequence.db.
type SequenceConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures `specforge serve`
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ProjectConfig carries context passed to every review prompt
type ProjectConfig struct {
	Name    string `mapstructure:"name"`
	Context string `mapstructure:"context"`
}

// Default returns the built-in configuration
func Default() *Config {
	exec := assistant.DefaultExecConfig()
	return &Config{
		Assistant: AssistantConfig{
			Command:     exec.Command,
			Args:        exec.Args,
			SessionFlag: exec.SessionFlag,
			ResumeFlag:  exec.ResumeFlag,
			ModelFlag:   exec.ModelFlag,
			GracePeriod: exec.GracePeriod,
		},
		Review: ReviewConfig{
			Timeout:     review.DefaultTimeout,
			Parallelism: review.DefaultParallelism,
		},
		Decompose: DecomposeConfig{
			MaxAttempts: 3,
			CallTimeout: decompose.DefaultCallTimeout,
		},
		Sequence: SequenceConfig{Driver: "sqlite"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Address:         "127.0.0.1:7420",
			ShutdownTimeout: 30 * time.Second,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// setDefaults mirrors Default into v so env overrides apply to keys missing from the file
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("assistant.command", d.Assistant.Command)
	v.SetDefault("assistant.args", d.Assistant.Args)
	v.SetDefault("assistant.session_flag", d.Assistant.SessionFlag)
	v.SetDefault("assistant.resume_flag", d.Assistant.ResumeFlag)
	v.SetDefault("assistant.model_flag", d.Assistant.ModelFlag)
	v.SetDefault("assistant.model", d.Assistant.Model)
	v.SetDefault("assistant.grace_period", d.Assistant.GracePeriod)
	v.SetDefault("review.timeout", d.Review.Timeout)
	v.SetDefault("review.parallelism", d.Review.Parallelism)
	v.SetDefault("decompose.max_attempts", d.Decompose.MaxAttempts)
	v.SetDefault("decompose.call_timeout", d.Decompose.CallTimeout)
	v.SetDefault("sequence.driver", d.Sequence.Driver)
	v.SetDefault("sequence.dsn", d.Sequence.DSN)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("project.name", d.Project.Name)
	v.SetDefault("project.context", d.Project.Context)
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)
}

// Load reads configuration for the project rooted at root. A missing file is not an error.
func Load(root string) (*Config, error) {
	return LoadFile(filepath.Join(root, workspace.DirName, workspace.ConfigFile))
}

// LoadFile reads configuration from path, then applies environment overrides
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, errors.NewFileUnmarshalError(path, "YAML", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	switch c.Sequence.Driver {
	case "sqlite", "redis", "postgres":
	default:
		return errors.NewValidationError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown sequence driver %q", c.Sequence.Driver)).
			WithSuggestion("Use sqlite, redis, or postgres")
	}
	if c.Sequence.Driver != "sqlite" && c.Sequence.DSN == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidInput,
			fmt.Sprintf("sequence driver %s requires sequence.dsn", c.Sequence.Driver))
	}
	if c.Review.Parallelism < 0 || c.Decompose.MaxAttempts < 0 {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "review.parallelism and decompose.max_attempts must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "telemetry.sample_rate must be between 0 and 1")
	}
	if strings.TrimSpace(c.Assistant.Command) == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidInput, "assistant.command is empty")
	}
	return nil
}

// Save writes the configuration as YAML, creating the directory if needed
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIOError(errors.ErrCodeDirectoryFailed, "failed to create config directory", err)
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := workspace.WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// Marshal renders cfg as the YAML that Save writes
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg.document())
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeFileWriteFailed, "failed to encode config", err)
	}
	return data, nil
}

// document renders cfg with durations as strings, which yaml.v3 would otherwise encode as
// nanosecond integers
func (c *Config) document() map[string]any {
	return map[string]any{
		"assistant": map[string]any{
			"command":      c.Assistant.Command,
			"args":         c.Assistant.Args,
			"session_flag": c.Assistant.SessionFlag,
			"resume_flag":  c.Assistant.ResumeFlag,
			"model_flag":   c.Assistant.ModelFlag,
			"model":        c.Assistant.Model,
			"grace_period": c.Assistant.GracePeriod.String(),
		},
		"review": map[string]any{
			"timeout":     c.Review.Timeout.String(),
			"parallelism": c.Review.Parallelism,
		},
		"decompose": map[string]any{
			"max_attempts": c.Decompose.MaxAttempts,
			"call_timeout": c.Decompose.CallTimeout.String(),
		},
		"sequence": map[string]any{"driver": c.Sequence.Driver, "dsn": c.Sequence.DSN},
		"log":      map[string]any{"level": c.Log.Level, "format": c.Log.Format},
		"server": map[string]any{
			"address":          c.Server.Address,
			"shutdown_timeout": c.Server.ShutdownTimeout.String(),
		},
		"project": map[string]any{"name": c.Project.Name, "context": c.Project.Context},
		"telemetry": map[string]any{
			"enabled":     c.Telemetry.Enabled,
			"endpoint":    c.Telemetry.Endpoint,
			"insecure":    c.Telemetry.Insecure,
			"sample_rate": c.Telemetry.SampleRate,
		},
	}
}

// ExecConfig converts the assistant section for assistant.NewExecRunner
func (c *Config) ExecConfig() assistant.ExecConfig {
	return assistant.ExecConfig{
		Command:     c.Assistant.Command,
		Args:        c.Assistant.Args,
		SessionFlag: c.Assistant.SessionFlag,
		ResumeFlag:  c.Assistant.ResumeFlag,
		ModelFlag:   c.Assistant.ModelFlag,
		GracePeriod: c.Assistant.GracePeriod,
	}
}

// Backend resolves the sequence backend, defaulting the sqlite DSN into the workspace
func (c *Config) Backend(store *workspace.Store) task.Backend {
	dsn := c.Sequence.DSN
	if c.Sequence.Driver == "sqlite" && dsn == "" {
		dsn = store.SequencePath()
	}
	return task.Backend{Driver: c.Sequence.Driver, DSN: dsn}
}

// Logger converts the log section for log.New
func (c *Config) Logger() log.Config {
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(c.Log.Level)
	lc.Format = log.ParseFormat(c.Log.Format)
	return lc
}
