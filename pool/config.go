package pool

import (
	"time"
)

// Config configures the worker pool of one application.
type Config struct {
	// ProcessesPerApp defines how many worker processes serve the application.
	// Defaults to 1, requests are routed between them round-robin.
	ProcessesPerApp int `mapstructure:"processes_per_app"`
	// RapidFailsPerMinute is the number of start failures/crashes tolerated
	// within a one-minute window before new starts are refused. Defaults to 10.
	RapidFailsPerMinute int64 `mapstructure:"rapid_fails_per_minute"`
	// ProcessPath is the worker executable.
	ProcessPath string `mapstructure:"process_path"`
	// Arguments passed to the worker executable.
	Arguments []string `mapstructure:"arguments"`
	// StartupTimeout bounds the wait for a spawned worker to start accepting
	// connections. Defaults to 2m.
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	// ShutdownTimeout bounds the graceful stop before escalating to kill.
	// Defaults to 10s.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Auth modes the front end negotiated for the application, projected into
	// the worker environment.
	WindowsAuthEnabled   bool `mapstructure:"windows_auth_enabled"`
	BasicAuthEnabled     bool `mapstructure:"basic_auth_enabled"`
	AnonymousAuthEnabled bool `mapstructure:"anonymous_auth_enabled"`
	// Env is merged into the worker process environment.
	Env map[string]string `mapstructure:"env"`
	// StdoutLogEnabled redirects worker stdout into StdoutLogFile instead of
	// the null sink.
	StdoutLogEnabled bool   `mapstructure:"stdout_log_enabled"`
	StdoutLogFile    string `mapstructure:"stdout_log_file"`
	// ConsoleRedirectionEnabled keeps the null-sink redirection for workers
	// that would otherwise block on an inherited console buffer.
	ConsoleRedirectionEnabled bool `mapstructure:"console_redirection_enabled"`
	// Application paths, exposed to the worker environment.
	AppPhysicalPath string `mapstructure:"app_physical_path"`
	AppPath         string `mapstructure:"app_path"`
	AppVirtualPath  string `mapstructure:"app_virtual_path"`
	// Bindings is the ordered set of listen addresses workers may claim. The
	// first binding is used, ":0" ports are resolved per spawn.
	Bindings []string `mapstructure:"bindings"`
}

// InitDefaults enables default config values.
func (cfg *Config) InitDefaults() {
	if cfg.ProcessesPerApp <= 0 {
		cfg.ProcessesPerApp = 1
	}

	if cfg.RapidFailsPerMinute == 0 {
		cfg.RapidFailsPerMinute = 10
	}

	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = time.Minute * 2
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = time.Second * 10
	}

	if len(cfg.Bindings) == 0 {
		cfg.Bindings = []string{"127.0.0.1:0"}
	}

	if cfg.AppVirtualPath == "" {
		cfg.AppVirtualPath = "/"
	}
}
