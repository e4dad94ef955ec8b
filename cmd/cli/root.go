// Package cli implements the scanwatch command-line interface: the daemon
// entry point plus client commands that talk to a running daemon's API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scanwatch/scanwatch/internal/config"
	"github.com/scanwatch/scanwatch/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scanwatch",
	Short: "Live network scan sessions with streaming progress",
	Long: `Scanwatch runs nmap scans as supervised subprocesses and streams their
progress live over SSE and websocket, keeping a bounded in-memory session
registry and persisting finished results to PostgreSQL.`,
	Version: getVersion(),
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./scanwatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and environment variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("scanwatch")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SCANWATCH")

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig builds the daemon configuration: file (when present), then
// environment overrides for the settings that vary per deployment.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "scanwatch.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v := viper.GetString("API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := viper.GetInt("API_PORT"); v != 0 {
		cfg.API.Port = v
	}
	if v := viper.GetString("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := viper.GetInt("DB_PORT"); v != 0 {
		cfg.Database.Port = v
	}
	if v := viper.GetString("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := viper.GetString("DB_USER"); v != "" {
		cfg.Database.Username = v
	}
	if v := viper.GetString("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// setupLogging initializes the process-wide logger from config.
func setupLogging(cfg *config.Config) error {
	logger, err := logging.New(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Format: logging.LogFormat(cfg.Logging.Format),
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)
	return nil
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}
