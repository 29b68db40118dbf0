// Package cmd provides the CLI commands for helpdesk.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/appdir"
	"github.com/inercia/helpdesk/internal/client"
	"github.com/inercia/helpdesk/internal/config"
	"github.com/inercia/helpdesk/internal/logging"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/storage"
)

var (
	// Global flags
	configPath    string
	serverURL     string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration
	cfg *config.Config
	// cfgSource is the file the configuration was read from, empty for defaults.
	cfgSource string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "helpdesk",
	Short: "helpdesk - a terminal client for support tickets",
	Long: `helpdesk talks to a support server on behalf of a user.

It keeps one active ticket, polls for replies in the background, shows an
unread indicator when support answers, and plays the scripted assistant
messages the first time a conversation is opened. Every helpdesk process
started from the same data directory shares the ticket and the read marker,
so a reply read in one terminal is not announced again in another.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create helpdesk directory: %w", err)
		}
		if err := loadConfig(); err != nil {
			return err
		}
		return initLogging()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Clean up logging resources
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default: $HELPDESK_DIR/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Support server base URL (overrides server.base_url)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: warn)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to stderr)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'poller,sync'). Empty means all components.")
}

// loadConfig reads the configuration:
//  1. --config flag (explicit path, must exist)
//  2. $HELPDESK_DIR/config.yaml if it exists
//  3. built-in defaults
func loadConfig() error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
		}
		cfgSource = configPath
	} else {
		path, perr := appdir.ConfigPath()
		if perr != nil {
			return perr
		}
		cfg, err = config.LoadOrDefault(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfgSource = ""
		if _, err := os.Stat(path); err == nil {
			cfgSource = path
		}
	}

	if serverURL != "" {
		cfg.Server.BaseURL = strings.TrimRight(serverURL, "/")
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// initLogging applies the logging flags.
// Priority: --log-level flag > --debug flag > config file > default (warn).
func initLogging() error {
	level := "warn"
	switch {
	case logLevel != "":
		level = logLevel
	case debug:
		level = "debug"
	case cfg.Log.Level != "":
		level = cfg.Log.Level
	}

	var components []string
	for _, c := range strings.Split(logComponents, ",") {
		if c = strings.TrimSpace(c); c != "" {
			components = append(components, c)
		}
	}

	lc := logging.Config{
		Level:      level,
		JSON:       cfg.Log.JSON,
		Components: components,
	}
	path := logFile
	if path == "" {
		path = cfg.Log.File
	}
	if path != "" {
		fl := logging.DefaultFileLogConfig()
		fl.Path = path
		if cfg.Log.MaxSizeMB > 0 {
			fl.MaxSizeMB = cfg.Log.MaxSizeMB
		}
		if cfg.Log.MaxBackups > 0 {
			fl.MaxBackups = cfg.Log.MaxBackups
		}
		lc.FileLog = &fl
	}
	if err := logging.Initialize(lc); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// newClient builds an API client from the loaded configuration.
func newClient() *client.Client {
	opts := []client.Option{
		client.WithTimeout(cfg.Server.Timeout.Std()),
	}
	if cfg.Server.APIPrefix != "" {
		opts = append(opts, client.WithAPIPrefix(cfg.Server.APIPrefix))
	}
	if cfg.Server.RequestsPerSecond > 0 {
		opts = append(opts, client.WithRateLimit(cfg.Server.RequestsPerSecond, cfg.Server.Burst))
	}
	return client.New(cfg.Server.BaseURL, opts...)
}

// openStorage opens the durable state shared by every helpdesk process.
func openStorage() (*storage.FileStorage, error) {
	dir, err := appdir.StateDir()
	if err != nil {
		return nil, err
	}
	st, err := storage.OpenFile(dir, storage.WithLogger(logging.Store()))
	if err != nil {
		return nil, fmt.Errorf("failed to open session state: %w", err)
	}
	return st, nil
}

// withStore opens the session store, runs fn and closes the storage.
func withStore(fn func(*session.Store) error) error {
	st, err := openStorage()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(session.NewStore(st))
}
