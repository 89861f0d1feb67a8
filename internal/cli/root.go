// Package cli is the vulnorch command tree.
package cli

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/logger"
)

var Version = "0.1.0"

const defaultConfigPath = "config.yaml"

// app carries what every subcommand shares: the bound flags and the
// configuration resolved from them.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

// NewRootCmd builds a fresh command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "vulnorch",
		Short:         "Vulnerability scan orchestrator for Greenbone/OpenVAS",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() != "serve" {
				logger.SetOutput(cmd.ErrOrStderr())
			}
			return a.load()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", defaultConfigPath, "path to config file")
	pf.String("listen", "", "API listen address (overrides config)")
	pf.String("log-level", "", "log level: debug|info|warn|error (overrides config)")
	for _, name := range []string{"config", "listen", "log-level"} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}

	// VULNORCH_CONFIG, VULNORCH_LISTEN, VULNORCH_LOG_LEVEL
	a.v.SetEnvPrefix("VULNORCH")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newServeCmd(a),
		newScanCmd(a),
		newAssetsCmd(a),
		newTokenCmd(a),
		newHistoryCmd(a),
		newTestConnectionCmd(a),
	)
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// load reads .env, then the config file, then applies flag overrides.
// A missing default config file falls back to built-in defaults.
func (a *app) load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("failed to load .env: %v", err)
	}

	path := a.v.GetString("config")
	cfg, err := config.LoadConfig(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath:
		cfg = config.Default()
	case err != nil:
		return err
	}

	if v := a.v.GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v := a.v.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	a.cfg = cfg
	return nil
}
