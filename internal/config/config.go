package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// ServerConfig holds admin HTTP API settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
	MCP       bool
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// WorkerConfig holds worker loop pacing.
type WorkerConfig struct {
	ID            string
	PollInterval  time.Duration
	TaskDelay     time.Duration
	ErrorCooldown time.Duration
}

// ProviderConfig holds session provider connection settings.
type ProviderConfig struct {
	URL      string
	Company  string
	Username string
	Password string
	Timeout  time.Duration
	Headless bool
}

// BrowserConfig holds page session settings.
type BrowserConfig struct {
	EvidenceDir     string
	CaptureEvidence bool
	ActionDelay     time.Duration
}

// FilesConfig names optional YAML inputs.
type FilesConfig struct {
	Locators  string
	Tenants   string
	Schedules string
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Worker       WorkerConfig
	Provider     ProviderConfig
	Browser      BrowserConfig
	Files        FilesConfig

	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
}

const (
	envPrefix = "SHOPAGENT_"

	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultWorkerID      = "worker-01"
	defaultPollInterval  = 10 * time.Second
	defaultTaskDelay     = time.Second
	defaultErrorCooldown = 5 * time.Second
	defaultProviderURL   = "http://127.0.0.1:19888"
	defaultProviderWait  = 120 * time.Second
	defaultActionDelay   = time.Second
	defaultShutdownGrace = 5 * time.Second
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "yes" || lower == "on"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse reads configuration from os.Args.
func Parse() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds a Config from args.
// Priority: flags > environment variables > .env file > defaults
func Load(args []string) (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "shopagent", ".env"))
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set, so the first file wins.
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("HTTP_ADDR", ""),
			AuthToken: getEnvString("AUTH_TOKEN", ""),
			MCP:       getEnvBool("MCP", false),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("LOG_FORMAT", defaultLogFormat),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("BARK_URL", ""),
				Enabled: getEnvBool("BARK_ENABLED", false),
			},
		},
		Worker: WorkerConfig{
			ID:            getEnvString("WORKER_ID", defaultWorkerID),
			PollInterval:  getEnvDuration("POLL_INTERVAL", defaultPollInterval),
			TaskDelay:     getEnvDuration("TASK_DELAY", defaultTaskDelay),
			ErrorCooldown: getEnvDuration("ERROR_COOLDOWN", defaultErrorCooldown),
		},
		Provider: ProviderConfig{
			URL:      getEnvString("PROVIDER_URL", defaultProviderURL),
			Company:  getEnvString("PROVIDER_COMPANY", ""),
			Username: getEnvString("PROVIDER_USERNAME", ""),
			Password: getEnvString("PROVIDER_PASSWORD", ""),
			Timeout:  getEnvDuration("PROVIDER_TIMEOUT", defaultProviderWait),
			Headless: getEnvBool("HEADLESS", false),
		},
		Browser: BrowserConfig{
			EvidenceDir:     getEnvString("EVIDENCE_DIR", ""),
			CaptureEvidence: getEnvBool("CAPTURE_EVIDENCE", true),
			ActionDelay:     getEnvDuration("ACTION_DELAY", defaultActionDelay),
		},
		Files: FilesConfig{
			Locators:  getEnvString("LOCATORS_FILE", ""),
			Tenants:   getEnvString("TENANTS_FILE", ""),
			Schedules: getEnvString("SCHEDULES_FILE", ""),
		},
		StateDir:      getEnvString("STATE_DIR", ""),
		UseUTC:        getEnvBool("USE_UTC", false),
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	fs := pflag.NewFlagSet("shopagentd", pflag.ContinueOnError)
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Directory for the task database and evidence")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format (text, json)")
	fs.StringVar(&cfg.Worker.ID, "worker-id", cfg.Worker.ID, "Worker id recorded on runs")
	fs.DurationVar(&cfg.Worker.PollInterval, "poll-interval", cfg.Worker.PollInterval, "Sleep when the queue is empty")
	fs.DurationVar(&cfg.Worker.TaskDelay, "task-delay", cfg.Worker.TaskDelay, "Sleep after each processed task")
	fs.DurationVar(&cfg.Worker.ErrorCooldown, "error-cooldown", cfg.Worker.ErrorCooldown, "Sleep after a failed worker cycle")
	fs.StringVar(&cfg.Provider.URL, "provider-url", cfg.Provider.URL, "Session provider control URL")
	fs.DurationVar(&cfg.Provider.Timeout, "provider-timeout", cfg.Provider.Timeout, "Session provider request timeout")
	fs.BoolVar(&cfg.Provider.Headless, "headless", cfg.Provider.Headless, "Start provider sessions headless")
	fs.StringVar(&cfg.Browser.EvidenceDir, "evidence-dir", cfg.Browser.EvidenceDir, "Screenshot directory (default <state-dir>/evidence)")
	fs.BoolVar(&cfg.Browser.CaptureEvidence, "capture-evidence", cfg.Browser.CaptureEvidence, "Capture before/after/error screenshots")
	fs.DurationVar(&cfg.Browser.ActionDelay, "action-delay", cfg.Browser.ActionDelay, "Minimum spacing between mutating page calls")
	fs.StringVar(&cfg.Files.Locators, "locators-file", cfg.Files.Locators, "YAML locator overrides")
	fs.StringVar(&cfg.Files.Tenants, "tenants-file", cfg.Files.Tenants, "YAML tenant to provisioning id map")
	fs.StringVar(&cfg.Files.Schedules, "schedules-file", cfg.Files.Schedules, "YAML recurring enqueue schedules")
	fs.StringVar(&cfg.Server.Addr, "http-addr", cfg.Server.Addr, "Admin HTTP listen address (empty disables)")
	fs.BoolVar(&cfg.Server.MCP, "mcp", cfg.Server.MCP, "Serve MCP tools over stdio")
	fs.BoolVar(&cfg.UseUTC, "use-utc", cfg.UseUTC, "Evaluate schedules in UTC instead of local time")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.Browser.EvidenceDir == "" {
		cfg.Browser.EvidenceDir = filepath.Join(cfg.StateDir, "evidence")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Worker.TaskDelay < 0 || c.Worker.ErrorCooldown < 0 || c.Browser.ActionDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if strings.TrimSpace(c.Worker.ID) == "" {
		return fmt.Errorf("worker id is empty")
	}
	return nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "shopagent")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
