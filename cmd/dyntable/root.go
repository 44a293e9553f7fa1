package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dynamic-table/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

var RootCmd = &cobra.Command{
	Use:   "dyntable",
	Short: "Sync CSV uploads into dynamically shaped Postgres tables",
	Long: `dyntable turns CSV uploads into Postgres tables. It infers column types,
creates or widens the target table and upserts rows by primary key, either
inline or through a RabbitMQ batch queue.`,
	SilenceUsage: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")
	RootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")

	_ = viper.BindPFlag("logging.level", RootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", RootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig reads the configuration with flags bound to the global viper
// taking precedence, and builds the process logger.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := config.NewLogger(cfg.Logging)
	if used := viper.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("using config file")
	}
	return cfg, log, nil
}
