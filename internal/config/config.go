package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"mailsync/internal/mailbox"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   Server  `yaml:"server"`
	Engine   Engine  `yaml:"engine"`
	Source   Account `yaml:"source"`
	Target   Account `yaml:"target"`
	Sync     Sync    `yaml:"sync"`
	LogLevel string  `yaml:"log_level"`
}

// Server represents the HTTP entry point configuration
type Server struct {
	Listen          string `yaml:"listen"`
	Metrics         bool   `yaml:"metrics"`
	RateLimit       int    `yaml:"rate_limit"`
	RateWindowSec   int    `yaml:"rate_window_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// Engine represents the sync engine tuning
type Engine struct {
	MaxWorkers       int `yaml:"max_workers"`
	RetryAttempts    int `yaml:"retry_attempts"`
	RetryDelayMs     int `yaml:"retry_delay_ms"`
	PollIntervalMs   int `yaml:"poll_interval_ms"`
	PopWaitMs        int `yaml:"pop_wait_ms"`
	DialTimeoutMs    int `yaml:"dial_timeout_ms"`
	CommandTimeoutMs int `yaml:"command_timeout_ms"`
}

// Account represents one IMAP account
type Account struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	Secure             bool   `yaml:"secure"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Sync represents the job run by the run command
type Sync struct {
	JobID          string   `yaml:"job_id"`
	Concurrency    int      `yaml:"concurrency"`
	DryRun         bool     `yaml:"dry_run"`
	SinceDate      string   `yaml:"since_date"`
	ExcludeFolders []string `yaml:"exclude_folders"`
	ShowProgress   bool     `yaml:"show_progress"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: Server{
			Listen:          ":3000",
			Metrics:         true,
			RateLimit:       100,
			RateWindowSec:   15 * 60,
			ShutdownTimeout: 30,
		},
		Engine: Engine{
			MaxWorkers:       10,
			RetryAttempts:    3,
			RetryDelayMs:     2000,
			PollIntervalMs:   100,
			PopWaitMs:        1000,
			DialTimeoutMs:    30000,
			CommandTimeoutMs: 120000,
		},
		Source: Account{Port: mailbox.DefaultPort, Secure: true, InsecureSkipVerify: true},
		Target: Account{Port: mailbox.DefaultPort, Secure: true, InsecureSkipVerify: true},
		Sync: Sync{
			Concurrency:  1,
			ShowProgress: true,
		},
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("src-host") {
		cfg.Source.Host, _ = flags.GetString("src-host")
	}
	if flags.Changed("src-port") {
		cfg.Source.Port, _ = flags.GetInt("src-port")
	}
	if flags.Changed("src-user") {
		cfg.Source.Username, _ = flags.GetString("src-user")
	}
	if flags.Changed("src-pass") {
		cfg.Source.Password, _ = flags.GetString("src-pass")
	}
	if flags.Changed("src-secure") {
		cfg.Source.Secure, _ = flags.GetBool("src-secure")
	}
	if flags.Changed("src-insecure-skip-verify") {
		cfg.Source.InsecureSkipVerify, _ = flags.GetBool("src-insecure-skip-verify")
	}

	if flags.Changed("dst-host") {
		cfg.Target.Host, _ = flags.GetString("dst-host")
	}
	if flags.Changed("dst-port") {
		cfg.Target.Port, _ = flags.GetInt("dst-port")
	}
	if flags.Changed("dst-user") {
		cfg.Target.Username, _ = flags.GetString("dst-user")
	}
	if flags.Changed("dst-pass") {
		cfg.Target.Password, _ = flags.GetString("dst-pass")
	}
	if flags.Changed("dst-secure") {
		cfg.Target.Secure, _ = flags.GetBool("dst-secure")
	}
	if flags.Changed("dst-insecure-skip-verify") {
		cfg.Target.InsecureSkipVerify, _ = flags.GetBool("dst-insecure-skip-verify")
	}

	if flags.Changed("job-id") {
		cfg.Sync.JobID, _ = flags.GetString("job-id")
	}
	if flags.Changed("concurrency") {
		cfg.Sync.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("dry-run") {
		cfg.Sync.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("since-date") {
		cfg.Sync.SinceDate, _ = flags.GetString("since-date")
	}
	if flags.Changed("exclude-folders") {
		raw, _ := flags.GetString("exclude-folders")
		cfg.Sync.ExcludeFolders = splitList(raw)
	}
	if flags.Changed("show-progress") {
		cfg.Sync.ShowProgress, _ = flags.GetBool("show-progress")
	}

	if flags.Changed("listen") {
		cfg.Server.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("metrics") {
		cfg.Server.Metrics, _ = flags.GetBool("metrics")
	}
	if flags.Changed("rate-limit") {
		cfg.Server.RateLimit, _ = flags.GetInt("rate-limit")
	}

	if flags.Changed("max-workers") {
		cfg.Engine.MaxWorkers, _ = flags.GetInt("max-workers")
	}
	if flags.Changed("retries") {
		cfg.Engine.RetryAttempts, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-delay-ms") {
		cfg.Engine.RetryDelayMs, _ = flags.GetInt("retry-delay-ms")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	if c.Engine.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive")
	}
	if c.Engine.RetryAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	if c.Engine.RetryDelayMs < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}
	if c.Engine.PollIntervalMs <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Engine.PopWaitMs <= 0 {
		return fmt.Errorf("pop wait must be positive")
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	return nil
}

// ValidateRun checks the fields the run command needs
func (c *Config) ValidateRun() error {
	if err := c.SourceMailbox().Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if !c.Sync.DryRun {
		if err := c.TargetMailbox().Validate(); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	return nil
}

// SourceMailbox returns the source connection settings
func (c *Config) SourceMailbox() mailbox.Config {
	return c.mailboxConfig(c.Source)
}

// TargetMailbox returns the destination connection settings
func (c *Config) TargetMailbox() mailbox.Config {
	return c.mailboxConfig(c.Target)
}

// MailboxConfig applies the engine timeouts to an account
func (c *Config) MailboxConfig(host string, port int, username, password string, secure bool) mailbox.Config {
	return c.mailboxConfig(Account{
		Host:               host,
		Port:               port,
		Username:           username,
		Password:           password,
		Secure:             secure,
		InsecureSkipVerify: true,
	})
}

func (c *Config) mailboxConfig(a Account) mailbox.Config {
	port := a.Port
	if port == 0 {
		port = mailbox.DefaultPort
	}
	return mailbox.Config{
		Host:               a.Host,
		Port:               port,
		Username:           a.Username,
		Password:           a.Password,
		Secure:             a.Secure,
		InsecureSkipVerify: a.InsecureSkipVerify,
		DialTimeout:        time.Duration(c.Engine.DialTimeoutMs) * time.Millisecond,
		CommandTimeout:     time.Duration(c.Engine.CommandTimeoutMs) * time.Millisecond,
	}
}

// RetryDelay returns the fixed delay between retry attempts
func (e Engine) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelayMs) * time.Millisecond
}

// PollInterval returns the monitor loop interval
func (e Engine) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMs) * time.Millisecond
}

// PopWait returns how long a worker waits for a task before exiting
func (e Engine) PopWait() time.Duration {
	return time.Duration(e.PopWaitMs) * time.Millisecond
}
