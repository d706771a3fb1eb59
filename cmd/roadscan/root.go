package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"roadscan/internal/config"
	"roadscan/internal/logging"
)

// env carries what every subcommand needs once flags and config are parsed.
type env struct {
	v   *viper.Viper
	cfg config.Config
	log *slog.Logger
}

func rootCommand() *cobra.Command {
	e := &env{v: config.NewViper()}
	var configFile string

	root := &cobra.Command{
		Use:           "roadscan",
		Short:         "Road damage detection service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				e.v.SetConfigFile(configFile)
				if err := e.v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", configFile, err)
				}
			}
			cfg, err := config.Load(e.v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			e.cfg = cfg
			e.log = logging.Init(cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Path to a config file (yaml, json or toml)")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
	flags.String("store", "", "Detection store: sqlite or postgres")
	bindFlags(e.v, flags.Lookup, map[string]string{
		"log_level":    "log-level",
		"log_format":   "log-format",
		"store_driver": "store",
	})

	root.AddCommand(serveCommand(e), migrateCommand(e), sweepCommand(e))
	return root
}
