// Package config handles configuration loading and validation for hive.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/hive/pkg/models"
)

// Mode selects the swarm topology. Only the memory replication requirement
// differs between modes; the coordination loop is identical.
type Mode string

const (
	ModeCentralized  Mode = "centralized"
	ModeDistributed  Mode = "distributed"
	ModeHierarchical Mode = "hierarchical"
	ModeMesh         Mode = "mesh"
	ModeHybrid       Mode = "hybrid"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeCentralized, ModeDistributed, ModeHierarchical, ModeMesh, ModeHybrid:
		return true
	default:
		return false
	}
}

// AssignmentPolicy selects how ready tasks are matched to agents.
type AssignmentPolicy string

const (
	// AssignCapability picks the idle agent whose tags cover the task,
	// breaking ties by reliability, then load.
	AssignCapability AssignmentPolicy = "capability"
	// AssignPriority dispatches the highest-priority ready task first,
	// breaking ties FIFO by creation order.
	AssignPriority AssignmentPolicy = "priority"
	// AssignWorkStealing lets idle agents claim ready tasks queued for
	// busier compatible peers.
	AssignWorkStealing AssignmentPolicy = "work-stealing"
)

// Valid returns true if the policy is a known value.
func (p AssignmentPolicy) Valid() bool {
	switch p {
	case AssignCapability, AssignPriority, AssignWorkStealing:
		return true
	default:
		return false
	}
}

// FaultTolerance selects how an exhausted task affects its objective.
type FaultTolerance string

const (
	// FaultRetry tolerates exhausted tasks; the objective completes if the
	// completed ratio reaches the quality threshold.
	FaultRetry FaultTolerance = "retry"
	// FaultStrict fails the objective on the first exhausted task.
	FaultStrict FaultTolerance = "strict"
)

// Valid returns true if the policy is a known value.
func (f FaultTolerance) Valid() bool {
	switch f {
	case FaultRetry, FaultStrict:
		return true
	default:
		return false
	}
}

// Communication names the agent communication pattern. The engine always
// aggregates through its internal event channel; the pattern is validated
// and recorded for status reporting.
type Communication string

const (
	CommEventDriven Communication = "event-driven"
	CommDirect      Communication = "direct"
	CommBroadcast   Communication = "broadcast"
)

// Valid returns true if the pattern is a known value.
func (c Communication) Valid() bool {
	switch c {
	case CommEventDriven, CommDirect, CommBroadcast:
		return true
	default:
		return false
	}
}

// ConfigurationError reports an invalid configuration value. It is the only
// error class the engine surfaces synchronously from creation calls.
type ConfigurationError struct {
	// Field is the configuration key or parameter name.
	Field string
	// Value is the rejected value, if meaningful.
	Value string
	// Reason explains why the value was rejected.
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration: %s=%q: %s", e.Field, e.Value, e.Reason)
}

// MemoryConfig holds memory store settings.
type MemoryConfig struct {
	// Namespace is the base namespace objective results are written under.
	Namespace string `mapstructure:"namespace"`
	// Persistence enables SQLite write-through for memory entries.
	Persistence bool `mapstructure:"persistence"`
	// Path is the SQLite database path; empty uses the XDG data dir.
	Path string `mapstructure:"path"`
	// ReplicationURL enables asynchronous replication to a Redis instance.
	ReplicationURL string `mapstructure:"replication_url"`
	// Encryption seals persisted and exported values at rest.
	Encryption bool `mapstructure:"encryption"`
	// EncryptionKey is the passphrase encryption derives its key from.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// MonitorConfig holds metrics collector settings.
type MonitorConfig struct {
	// Interval is how often the collector samples the engine.
	Interval time.Duration `mapstructure:"interval"`
	// Path is the JSONL file samples are appended to; empty disables the collector.
	Path string `mapstructure:"path"`
}

// Config holds all engine configuration.
type Config struct {
	// Strategy is the default objective strategy.
	Strategy string `mapstructure:"strategy"`
	// Mode is the swarm topology.
	Mode Mode `mapstructure:"mode"`
	// MaxAgents caps how many agents may register per run.
	MaxAgents int `mapstructure:"max_agents"`
	// MaxTasks caps the task count per objective.
	MaxTasks int `mapstructure:"max_tasks"`
	// TickInterval is the scheduler polling interval.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// MaxDuration is the default objective wall-clock budget.
	MaxDuration time.Duration `mapstructure:"max_duration"`
	// TaskTimeout bounds a single task execution.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// MaxRetries is how many times a failed task is re-enqueued.
	MaxRetries int `mapstructure:"max_retries"`
	// QualityThreshold is the completed ratio a soft-fail run must reach.
	QualityThreshold float64 `mapstructure:"quality_threshold"`
	// AgentSelection is the assignment policy.
	AgentSelection AssignmentPolicy `mapstructure:"agent_selection"`
	// FaultTolerance selects hard-fail or soft-fail objective semantics.
	FaultTolerance FaultTolerance `mapstructure:"fault_tolerance"`
	// BreakerThreshold is the consecutive-failure count that suspends an agent.
	BreakerThreshold int `mapstructure:"breaker_threshold"`
	// BreakerCooldown is how long a suspended agent stays out of scheduling.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	// Communication is the agent communication pattern.
	Communication Communication `mapstructure:"communication"`
	// Memory holds memory store settings.
	Memory MemoryConfig `mapstructure:"memory"`
	// Monitor holds metrics collector settings.
	Monitor MonitorConfig `mapstructure:"monitor"`
	// DebugLog is the path of the coordinator debug log; empty disables it.
	DebugLog string `mapstructure:"debug_log"`
}

// Load loads configuration from XDG paths, project overrides, and environment
// variables. Precedence (highest to lowest):
// 1. Environment variables (HIVE_*)
// 2. Project config (.hive.yaml in current directory or parent)
// 3. User config (~/.config/hive/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("HIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("memory.encryption_key", "HIVE_MEMORY_KEY")
	v.BindEnv("memory.replication_url", "HIVE_REPLICATION_URL")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Memory.EncryptionKey = os.ExpandEnv(cfg.Memory.EncryptionKey)
	cfg.Memory.ReplicationURL = os.ExpandEnv(cfg.Memory.ReplicationURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Memory.EncryptionKey = os.ExpandEnv(cfg.Memory.EncryptionKey)
	cfg.Memory.ReplicationURL = os.ExpandEnv(cfg.Memory.ReplicationURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every enumerated and numeric field. It returns a
// *ConfigurationError describing the first invalid value.
func (c *Config) Validate() error {
	if s := models.Strategy(c.Strategy); !s.Valid() {
		return &ConfigurationError{Field: "strategy", Value: c.Strategy, Reason: "unknown strategy"}
	}
	if !c.Mode.Valid() {
		return &ConfigurationError{Field: "mode", Value: string(c.Mode), Reason: "unknown mode"}
	}
	if !c.AgentSelection.Valid() {
		return &ConfigurationError{Field: "agent_selection", Value: string(c.AgentSelection), Reason: "unknown assignment policy"}
	}
	if !c.FaultTolerance.Valid() {
		return &ConfigurationError{Field: "fault_tolerance", Value: string(c.FaultTolerance), Reason: "unknown fault tolerance policy"}
	}
	if !c.Communication.Valid() {
		return &ConfigurationError{Field: "communication", Value: string(c.Communication), Reason: "unknown communication pattern"}
	}
	if c.MaxAgents < 1 {
		return &ConfigurationError{Field: "max_agents", Value: fmt.Sprint(c.MaxAgents), Reason: "must be at least 1"}
	}
	if c.MaxTasks < 1 {
		return &ConfigurationError{Field: "max_tasks", Value: fmt.Sprint(c.MaxTasks), Reason: "must be at least 1"}
	}
	if c.TickInterval <= 0 {
		return &ConfigurationError{Field: "tick_interval", Value: c.TickInterval.String(), Reason: "must be positive"}
	}
	if c.MaxDuration <= 0 {
		return &ConfigurationError{Field: "max_duration", Value: c.MaxDuration.String(), Reason: "must be positive"}
	}
	if c.TaskTimeout <= 0 {
		return &ConfigurationError{Field: "task_timeout", Value: c.TaskTimeout.String(), Reason: "must be positive"}
	}
	if c.MaxRetries < 0 {
		return &ConfigurationError{Field: "max_retries", Value: fmt.Sprint(c.MaxRetries), Reason: "must not be negative"}
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return &ConfigurationError{Field: "quality_threshold", Value: fmt.Sprint(c.QualityThreshold), Reason: "must be in [0, 1]"}
	}
	if c.BreakerThreshold < 1 {
		return &ConfigurationError{Field: "breaker_threshold", Value: fmt.Sprint(c.BreakerThreshold), Reason: "must be at least 1"}
	}
	if c.BreakerCooldown < 0 {
		return &ConfigurationError{Field: "breaker_cooldown", Value: c.BreakerCooldown.String(), Reason: "must not be negative"}
	}
	if c.Mode == ModeDistributed && c.Memory.ReplicationURL == "" {
		return &ConfigurationError{Field: "memory.replication_url", Reason: "required in distributed mode"}
	}
	if c.Memory.Encryption && c.Memory.EncryptionKey == "" {
		return &ConfigurationError{Field: "memory.encryption_key", Reason: "required when encryption is enabled"}
	}
	return nil
}

// MemoryDBPath returns the memory persistence path, defaulting to the XDG
// data directory.
func (c *Config) MemoryDBPath() string {
	if c.Memory.Path != "" {
		return c.Memory.Path
	}
	return filepath.Join(getUserDataDir(), "hive.db")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("strategy", "auto")
	v.SetDefault("mode", "centralized")
	v.SetDefault("max_agents", 8)
	v.SetDefault("max_tasks", 64)
	v.SetDefault("tick_interval", "100ms")
	v.SetDefault("max_duration", "10m")
	v.SetDefault("task_timeout", "1m")
	v.SetDefault("max_retries", 3)
	v.SetDefault("quality_threshold", 0.8)
	v.SetDefault("agent_selection", "capability")
	v.SetDefault("fault_tolerance", "retry")
	v.SetDefault("breaker_threshold", 3)
	v.SetDefault("breaker_cooldown", "30s")
	v.SetDefault("communication", "event-driven")
	v.SetDefault("memory.namespace", "swarm")
	v.SetDefault("memory.persistence", false)
	v.SetDefault("memory.path", "")
	v.SetDefault("memory.replication_url", "")
	v.SetDefault("memory.encryption", false)
	v.SetDefault("memory.encryption_key", "")
	v.SetDefault("monitor.interval", "10s")
	v.SetDefault("monitor.path", "")
	v.SetDefault("debug_log", "")
}

// getUserConfigDir returns the XDG config directory for hive.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hive")
	}
	return filepath.Join(home, ".config", "hive")
}

// getUserDataDir returns the XDG data directory for hive.
func getUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "hive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "hive")
	}
	return filepath.Join(home, ".local", "share", "hive")
}

// findProjectConfig searches for .hive.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".hive.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Strategy:         "auto",
		Mode:             ModeCentralized,
		MaxAgents:        8,
		MaxTasks:         64,
		TickInterval:     100 * time.Millisecond,
		MaxDuration:      10 * time.Minute,
		TaskTimeout:      time.Minute,
		MaxRetries:       3,
		QualityThreshold: 0.8,
		AgentSelection:   AssignCapability,
		FaultTolerance:   FaultRetry,
		BreakerThreshold: 3,
		BreakerCooldown:  30 * time.Second,
		Communication:    CommEventDriven,
		Memory: MemoryConfig{
			Namespace: "swarm",
		},
		Monitor: MonitorConfig{
			Interval: 10 * time.Second,
		},
	}
}
