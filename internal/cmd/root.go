package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"tarediiran-industries.com/transit-tracker/internal/common"
	"tarediiran-industries.com/transit-tracker/internal/gateway"
	"tarediiran-industries.com/transit-tracker/internal/querycache"
)

const defaultConfigPath = "config/transit-ctl.toml"

type ConfigFile struct {
	Server  string        `toml:"server"`
	Timeout time.Duration `toml:"timeout"`
}

type envConfig struct {
	Server  string        `env:"TRANSIT_SERVER"`
	Timeout time.Duration `env:"TRANSIT_TIMEOUT"`
}

// TransitCtlApp is shared by every command. The gateway and cache are built
// once the flags are parsed and live for a single invocation.
type TransitCtlApp struct {
	ConfigPath string
	Server     string
	Timeout    time.Duration
	JSON       bool

	gateway *gateway.Gateway
	cache   *querycache.Cache
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &TransitCtlApp{}
	defer app.Close()

	rootCmd := NewRootCmd(app)
	return rootCmd.ExecuteContext(ctx)
}

func NewRootCmd(app *TransitCtlApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "transit-ctl",
		Short:         "CLI tool used to inspect and control a transit dashboard",
		Version:       fmt.Sprintf("%s (%s)", common.Version, common.GitCommit),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	cmd.PersistentFlags().StringVar(
		&app.ConfigPath,
		"toml",
		defaultConfigPath,
		"Path to configuration file",
	)
	cmd.PersistentFlags().StringVar(
		&app.Server,
		"server",
		"http://localhost:8080",
		"Base URL of the dashboard (env TRANSIT_SERVER)",
	)
	cmd.PersistentFlags().DurationVar(
		&app.Timeout,
		"timeout",
		10*time.Second,
		"Upper bound for each command (env TRANSIT_TIMEOUT)",
	)
	cmd.PersistentFlags().BoolVar(&app.JSON, "json", false, "Print responses as JSON")

	cmd.AddCommand(NewBusesCmd(app))
	cmd.AddCommand(NewAlertsCmd(app))
	cmd.AddCommand(NewDismissCmd(app))
	cmd.AddCommand(NewRefreshCmd(app))
	cmd.AddCommand(NewHealthCmd(app))

	return cmd
}

func LoadConfigFromToml(path string) (ConfigFile, toml.MetaData, error) {
	var cfg ConfigFile
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return ConfigFile{}, meta, err
	}

	return cfg, meta, nil
}

// setup layers the configuration: the config file fills in whatever was not
// given as a flag, and the environment overrides both.
func (app *TransitCtlApp) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()

	tomlCfg, meta, err := LoadConfigFromToml(app.ConfigPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !flags.Changed("toml"):
		// The default config file is optional.
	case err != nil:
		return fmt.Errorf("LoadConfigFromToml: %w", err)
	default:
		if meta.IsDefined("server") && !flags.Changed("server") {
			app.Server = tomlCfg.Server
		}
		if meta.IsDefined("timeout") && !flags.Changed("timeout") {
			app.Timeout = tomlCfg.Timeout
		}
	}

	overrides := envConfig{Server: app.Server, Timeout: app.Timeout}
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	app.Server, app.Timeout = overrides.Server, overrides.Timeout

	if app.Server == "" {
		return errors.New("Missing required argument: server")
	}

	gw, err := gateway.New(gateway.WithBaseURL(app.Server))
	if err != nil {
		return err
	}
	app.gateway = gw

	opts := querycache.DefaultOptions()
	opts.QueryFunc = querycache.DefaultQueryFunc(gw, querycache.Throw)
	app.cache = querycache.New(opts)
	return nil
}

func (app *TransitCtlApp) Close() {
	if app.cache != nil {
		app.cache.Close()
		app.cache = nil
	}
}

func (app *TransitCtlApp) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if app.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, app.Timeout)
}

func (app *TransitCtlApp) printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
