// Package probe implements transit-probe, which samples one GTFS-Realtime
// feed and shows what the dashboard would make of it.
package probe

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"tarediiran-industries.com/transit-tracker/internal/common"
	"tarediiran-industries.com/transit-tracker/internal/gateway"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

const NycMtaUrl = "https://api-endpoint.mta.info/Dataservice/mtagtfsfeeds/nyct%2Fgtfs-ace"

type Config struct {
	Version bool
	URL     string
	JSON    bool
	Limit   int
}

func ParseArgs(programName string, args []string, errOut io.Writer) (Config, error) {
	var cfg Config

	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(errOut)

	fs.Usage = func() {
		fmt.Fprintf(errOut, "Usage: %s [options]\n\n", programName)
		fmt.Fprintln(errOut, "Options")
		fs.PrintDefaults()
	}

	fs.BoolVar(&cfg.Version, "version", false, "Prints CLI version")
	fs.StringVar(&cfg.URL, "url", NycMtaUrl, "GTFS-RT feed to sample")
	fs.BoolVar(&cfg.JSON, "json", false, "Dump feed entities as JSON")
	fs.IntVar(&cfg.Limit, "limit", 0, "Dump at most this many entities (0 for all)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Version {
		fmt.Fprintf(errOut, "%s: version %s (%s)\n", programName, common.Version, common.GitCommit)
		return cfg, flag.ErrHelp
	}

	if cfg.URL == "" {
		return Config{}, fmt.Errorf("Missing required argument: url")
	}
	if cfg.Limit < 0 {
		return Config{}, fmt.Errorf("limit must not be negative")
	}

	return cfg, nil
}

func printProtobuf(out io.Writer, message proto.Message) error {
	options := protojson.MarshalOptions{Multiline: true}
	jsonBytes, err := options.Marshal(message)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(jsonBytes))
	return err
}

func Probe(ctx context.Context, cfg Config, out io.Writer) error {
	gw, err := gateway.New()
	if err != nil {
		return err
	}
	source, err := transit.NewFeedSource(gw, transit.FeedURLs{VehiclePositions: cfg.URL})
	if err != nil {
		return err
	}

	benchmarker := common.NewBenchmarker("probe")
	feed, err := source.SampleEndpoint(ctx, cfg.URL)
	if err != nil {
		return fmt.Errorf("sample %s: %w", cfg.URL, err)
	}
	elapsed := benchmarker.Elapsed()

	if cfg.JSON {
		for i, entity := range feed.GetEntity() {
			if cfg.Limit > 0 && i >= cfg.Limit {
				break
			}
			if err := printProtobuf(out, entity); err != nil {
				return err
			}
		}
	}

	snapshot := transit.BuildSnapshot(time.Now(), feed)
	fmt.Fprintf(out, "%d entities in %s: %d buses, %d alerts (feed time %s)\n",
		len(feed.GetEntity()), elapsed.Round(time.Millisecond), len(snapshot.Buses), len(snapshot.Alerts),
		snapshot.GeneratedAt.Local().Format(time.RFC3339))

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tROUTE\tCURRENT STOP\tNEXT STOP\tSTATUS\tOCCUPANCY")
	for _, bus := range snapshot.Buses {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			bus.ID, bus.RouteNumber, bus.CurrentStop, bus.NextStop, bus.Status, bus.Occupancy)
	}
	for _, alert := range snapshot.Alerts {
		fmt.Fprintf(writer, "alert %s\t%s\t%s\t\t%s\t\n", alert.ID, alert.Route, alert.Title, alert.Type)
	}
	return writer.Flush()
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Probe(ctx, cfg, out); err != nil {
		fmt.Fprintln(errOut, "Error:", err)
		return -1
	}
	return 0
}
