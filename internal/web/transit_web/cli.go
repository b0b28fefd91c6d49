package transit_web

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"tarediiran-industries.com/transit-tracker/internal/common"
	"tarediiran-industries.com/transit-tracker/internal/querycache"
)

const (
	SourceMock   = "mock"
	SourceFeed   = "feed"
	SourceRemote = "remote"
)

type FeedFile struct {
	VehiclePositions string `toml:"vehicle_positions"`
	TripUpdates      string `toml:"trip_updates"`
	Alerts           string `toml:"alerts"`
}

type CacheFile struct {
	StaleTime       time.Duration `toml:"stale_time"`
	RefetchInterval time.Duration `toml:"refetch_interval"`
	RefetchOnFocus  bool          `toml:"refetch_on_focus"`
	Retry           uint          `toml:"retry"`
}

type ConfigFile struct {
	ListenAddress    string    `toml:"listen"`
	TelemetryAddress string    `toml:"telemetry"`
	Source           string    `toml:"source"`
	FleetPath        string    `toml:"fleet"`
	Seed             uint64    `toml:"seed"`
	Upstream         string    `toml:"upstream"`
	Feed             FeedFile  `toml:"feed"`
	Cache            CacheFile `toml:"cache"`
}

// Config is assembled from flag defaults, then the TOML file, then TRANSIT_*
// environment variables, each layer overriding the previous one.
type Config struct {
	Version        bool
	TomlConfigPath string

	ListenAddress    string `env:"TRANSIT_LISTEN" validate:"required,hostname_port"`
	TelemetryAddress string `env:"TRANSIT_TELEMETRY" validate:"omitempty,hostname_port"`

	Source    string `env:"TRANSIT_SOURCE" validate:"oneof=mock feed remote"`
	FleetPath string `env:"TRANSIT_FLEET"`
	Seed      uint64 `env:"TRANSIT_SEED"`
	Upstream  string `env:"TRANSIT_UPSTREAM" validate:"omitempty,url"`

	VehiclePositionsURL string `env:"TRANSIT_FEED_VEHICLE_POSITIONS" validate:"omitempty,url"`
	TripUpdatesURL      string `env:"TRANSIT_FEED_TRIP_UPDATES" validate:"omitempty,url"`
	AlertsURL           string `env:"TRANSIT_FEED_ALERTS" validate:"omitempty,url"`

	StaleTime       time.Duration `env:"TRANSIT_STALE_TIME"`
	RefetchInterval time.Duration `env:"TRANSIT_REFETCH_INTERVAL" validate:"gte=0"`
	RefetchOnFocus  bool          `env:"TRANSIT_REFETCH_ON_FOCUS"`
	Retry           uint          `env:"TRANSIT_RETRY" validate:"lte=10"`
}

func DefaultConfig() Config {
	defaults := querycache.DefaultOptions()
	return Config{
		ListenAddress:   "localhost:8080",
		Source:          SourceMock,
		StaleTime:       defaults.StaleTime,
		RefetchInterval: defaults.RefetchInterval,
		RefetchOnFocus:  defaults.RefetchOnFocus,
		Retry:           defaults.Retry,
	}
}

func LoadConfigFromToml(path string) (ConfigFile, toml.MetaData, error) {
	var cfg ConfigFile
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return ConfigFile{}, meta, err
	}

	return cfg, meta, nil
}

// applyFile copies the keys present in the file, so a missing key keeps the
// flag value instead of resetting it to zero.
func (cfg *Config) applyFile(file ConfigFile, meta toml.MetaData) {
	if meta.IsDefined("listen") {
		cfg.ListenAddress = file.ListenAddress
	}
	if meta.IsDefined("telemetry") {
		cfg.TelemetryAddress = file.TelemetryAddress
	}
	if meta.IsDefined("source") {
		cfg.Source = file.Source
	}
	if meta.IsDefined("fleet") {
		cfg.FleetPath = file.FleetPath
	}
	if meta.IsDefined("seed") {
		cfg.Seed = file.Seed
	}
	if meta.IsDefined("upstream") {
		cfg.Upstream = file.Upstream
	}
	if meta.IsDefined("feed", "vehicle_positions") {
		cfg.VehiclePositionsURL = file.Feed.VehiclePositions
	}
	if meta.IsDefined("feed", "trip_updates") {
		cfg.TripUpdatesURL = file.Feed.TripUpdates
	}
	if meta.IsDefined("feed", "alerts") {
		cfg.AlertsURL = file.Feed.Alerts
	}
	if meta.IsDefined("cache", "stale_time") {
		cfg.StaleTime = file.Cache.StaleTime
	}
	if meta.IsDefined("cache", "refetch_interval") {
		cfg.RefetchInterval = file.Cache.RefetchInterval
	}
	if meta.IsDefined("cache", "refetch_on_focus") {
		cfg.RefetchOnFocus = file.Cache.RefetchOnFocus
	}
	if meta.IsDefined("cache", "retry") {
		cfg.Retry = file.Cache.Retry
	}
}

func ParseArgs(programName string, args []string, errOut io.Writer) (Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errOut)

	fs.Usage = func() {
		fmt.Fprintf(errOut, "Usage: %s [options]\n\n", programName)
		fmt.Fprintln(errOut, "Options")
		fs.PrintDefaults()
		fmt.Fprintln(errOut, "\nEvery option can also be set with a TRANSIT_* environment variable.")
	}

	fs.BoolVar(&cfg.Version, "version", false, "Prints CLI version")
	fs.StringVar(&cfg.TomlConfigPath, "toml", "", "Configuration file")
	fs.StringVar(&cfg.ListenAddress, "listen", cfg.ListenAddress, "Dashboard listen address")
	fs.StringVar(&cfg.TelemetryAddress, "telemetry", "", "Metrics and pprof listen address (disabled when empty)")
	fs.StringVar(&cfg.Source, "source", cfg.Source, "Data source: mock, feed or remote")
	fs.StringVar(&cfg.FleetPath, "fleet", "", "YAML fleet fixture for the mock source (built-in fleet when empty)")
	fs.Uint64Var(&cfg.Seed, "seed", 0, "Seed for the mock source (random when 0)")
	fs.StringVar(&cfg.Upstream, "upstream", "", "Base URL of another dashboard, for the remote source")
	fs.StringVar(&cfg.VehiclePositionsURL, "feed-vehicle-positions", "", "GTFS-RT vehicle positions feed URL")
	fs.StringVar(&cfg.TripUpdatesURL, "feed-trip-updates", "", "GTFS-RT trip updates feed URL")
	fs.StringVar(&cfg.AlertsURL, "feed-alerts", "", "GTFS-RT service alerts feed URL")
	fs.DurationVar(&cfg.StaleTime, "stale-time", cfg.StaleTime, "How long a snapshot stays fresh (negative means until invalidated)")
	fs.DurationVar(&cfg.RefetchInterval, "refetch-interval", cfg.RefetchInterval, "Refetch observed snapshots on this interval (0 disables)")
	fs.BoolVar(&cfg.RefetchOnFocus, "refetch-on-focus", cfg.RefetchOnFocus, "Refetch observed snapshots when a client regains focus")
	fs.UintVar(&cfg.Retry, "retry", cfg.Retry, "Retries for a failed snapshot fetch")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Version {
		fmt.Fprintf(errOut, "%s: version %s (%s)\n", programName, common.Version, common.GitCommit)
		return cfg, flag.ErrHelp
	}

	if cfg.TomlConfigPath != "" {
		tomlCfg, meta, err := LoadConfigFromToml(cfg.TomlConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("LoadConfigFromToml: %w", err)
		}
		cfg.applyFile(tomlCfg, meta)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (cfg Config) Validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	switch cfg.Source {
	case SourceFeed:
		if cfg.VehiclePositionsURL == "" {
			return errors.New("Missing required argument: feed-vehicle-positions")
		}
	case SourceRemote:
		if cfg.Upstream == "" {
			return errors.New("Missing required argument: upstream")
		}
	}
	return nil
}

// CacheOptions turns the cache settings into query cache options.
func (cfg Config) CacheOptions() querycache.Options {
	opts := querycache.DefaultOptions()
	opts.StaleTime = cfg.StaleTime
	if opts.StaleTime < 0 {
		opts.StaleTime = querycache.Forever
	}
	opts.RefetchInterval = cfg.RefetchInterval
	opts.RefetchOnFocus = cfg.RefetchOnFocus
	opts.Retry = cfg.Retry
	return opts
}

func Main(programName string, args []string, out, errOut io.Writer) int {
	cfg, err := ParseArgs(programName, args, errOut)
	if err != nil {
		if flag.ErrHelp == err {
			return 0
		}
		fmt.Fprintln(errOut, "Error:", err)
		return -1
	}

	return Run(cfg)
}
