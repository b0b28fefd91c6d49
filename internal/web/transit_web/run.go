package transit_web

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tarediiran-industries.com/transit-tracker/internal/common"
	"tarediiran-industries.com/transit-tracker/internal/gateway"
	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

func Run(cfg Config) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	common.InitLogging()

	var metrics *common.Metrics
	if cfg.TelemetryAddress != "" {
		telemetry := common.NewTelemetryServer(cfg.TelemetryAddress)
		metrics = common.NewMetrics(telemetry.GetRegistry())
		if err := telemetry.Start(); err != nil {
			log.Printf("telemetry server: %v", err)
			return -1
		}
		defer telemetry.Stop()
	}

	source, err := NewDataSource(cfg, metrics)
	if err != nil {
		log.Printf("data source: %v", err)
		return -1
	}
	log.Printf("serving %s data", cfg.Source)

	opts := cfg.CacheOptions()
	opts.Metrics = metrics
	cache := querycache.New(opts)
	defer cache.Close()

	server, err := NewTransitWebServer(cfg.ListenAddress, source, cache)
	if err != nil {
		log.Printf("web server: %v", err)
		return -1
	}

	server.Serve(ctx)
	return 0
}

// NewDataSource builds the source selected by cfg.Source. Feed and remote
// sources reach the network through one gateway.
func NewDataSource(cfg Config, metrics *common.Metrics) (transit.DataSource, error) {
	gatewayOptions := []gateway.Option{gateway.WithMetrics(metrics)}
	if cfg.Source == SourceRemote {
		gatewayOptions = append(gatewayOptions, gateway.WithBaseURL(cfg.Upstream))
	}
	gw, err := gateway.New(gatewayOptions...)
	if err != nil {
		return nil, err
	}

	switch cfg.Source {
	case SourceFeed:
		source, err := transit.NewFeedSource(gw, transit.FeedURLs{
			VehiclePositions: cfg.VehiclePositionsURL,
			TripUpdates:      cfg.TripUpdatesURL,
			Alerts:           cfg.AlertsURL,
		})
		if err != nil {
			return nil, err
		}
		return source, nil

	case SourceRemote:
		return transit.NewRemoteSource(gw), nil

	case SourceMock:
		fleet, err := transit.DefaultFleet()
		if cfg.FleetPath != "" {
			fleet, err = transit.LoadFleet(cfg.FleetPath)
		}
		if err != nil {
			return nil, err
		}
		mockOptions := []transit.MockOption{}
		if cfg.Seed != 0 {
			mockOptions = append(mockOptions, transit.WithSeed(cfg.Seed))
		}
		return transit.NewMockSource(fleet, mockOptions...), nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}
