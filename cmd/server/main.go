package main

import (
	"fmt"
	"os"

	"github.com/npezzotti/spaces-realtime/internal/config"
	"github.com/npezzotti/spaces-realtime/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const serviceName = "spaces-realtime"

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "spaces-realtime",
		Short:         "Realtime presence and messaging fanout for Spaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (default ./config.yaml)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment. bind, when set, maps
// command flags onto config keys before validation.
func loadConfig(bind func(v *viper.Viper) error) (*config.Config, zerolog.Logger, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if bind != nil {
		if err := bind(v); err != nil {
			return nil, zerolog.Nop(), fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: serviceName,
	})

	return cfg, logger, nil
}
