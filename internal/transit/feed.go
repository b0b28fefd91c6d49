package transit

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"tarediiran-industries.com/transit-tracker/internal/common"
	"tarediiran-industries.com/transit-tracker/internal/gateway"
)

// Trips running later than this are reported as delayed.
const delayedThreshold = 5 * time.Minute

type FeedURLs struct {
	VehiclePositions string
	TripUpdates      string
	Alerts           string
}

func (urls FeedURLs) distinct() []string {
	out := []string{}
	for _, url := range []string{urls.VehiclePositions, urls.TripUpdates, urls.Alerts} {
		if url != "" && !slices.Contains(out, url) {
			out = append(out, url)
		}
	}
	return out
}

// FeedSource builds snapshots from GTFS-Realtime protobuf feeds. A single
// combined feed URL may be used for all three kinds of entity.
type FeedSource struct {
	gateway *gateway.Gateway
	urls    FeedURLs
	now     func() time.Time
}

func NewFeedSource(gw *gateway.Gateway, urls FeedURLs) (*FeedSource, error) {
	if urls.VehiclePositions == "" {
		return nil, fmt.Errorf("feed source needs a vehicle positions url")
	}
	return &FeedSource{gateway: gw, urls: urls, now: time.Now}, nil
}

func (source *FeedSource) Snapshot(ctx context.Context) (Snapshot, error) {
	benchmarker := common.NewBenchmarker("sample-feeds")
	defer benchmarker.Close()

	feeds := []*gtfs.FeedMessage{}
	for _, url := range source.urls.distinct() {
		feedMessage, err := source.SampleEndpoint(ctx, url)
		if err != nil {
			return Snapshot{}, fmt.Errorf("sample GTFS-RT feed %s: %w", url, err)
		}
		feeds = append(feeds, feedMessage)
	}
	return BuildSnapshot(source.now(), feeds...), nil
}

func (source *FeedSource) SampleEndpoint(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	resp, err := source.gateway.Request(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return DecodeFeed(body)
}

func DecodeFeed(body []byte) (*gtfs.FeedMessage, error) {
	feedMessage := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, feedMessage); err != nil {
		return nil, fmt.Errorf("decode feed message: %w", err)
	}
	return feedMessage, nil
}

type tripProgress struct {
	cancelled   bool
	delay       time.Duration
	stops       []string
	arrivals    map[string]time.Time
	destination string
}

// BuildSnapshot folds the entities of every feed into one snapshot. Trip
// updates enrich the vehicle positions that reference the same trip.
func BuildSnapshot(now time.Time, feeds ...*gtfs.FeedMessage) Snapshot {
	trips := map[string]*tripProgress{}
	vehicles := []*gtfs.FeedEntity{}
	alerts := []Alert{}
	generatedAt := time.Time{}

	for _, feedMessage := range feeds {
		if ts := feedMessage.GetHeader().GetTimestamp(); ts > 0 {
			if headerTime := time.Unix(int64(ts), 0); headerTime.After(generatedAt) {
				generatedAt = headerTime
			}
		}
		for _, entity := range feedMessage.GetEntity() {
			if entity.GetIsDeleted() {
				continue
			}
			if tripUpdate := entity.GetTripUpdate(); tripUpdate != nil {
				if tripID := tripUpdate.GetTrip().GetTripId(); tripID != "" {
					trips[tripID] = readTripUpdate(tripUpdate)
				}
			}
			if entity.GetVehicle() != nil {
				vehicles = append(vehicles, entity)
			}
			if alert := entity.GetAlert(); alert != nil {
				alerts = append(alerts, alertFromFeed(entity.GetId(), alert, feedMessage.GetHeader().GetTimestamp()))
			}
		}
	}
	if generatedAt.IsZero() {
		generatedAt = now
	}

	buses := make([]Bus, 0, len(vehicles))
	for _, entity := range vehicles {
		buses = append(buses, busFromFeed(entity, trips, generatedAt))
	}
	slices.SortFunc(buses, func(a, b Bus) int {
		return cmp.Or(cmp.Compare(a.RouteNumber, b.RouteNumber), cmp.Compare(a.ID, b.ID))
	})

	return Snapshot{Buses: buses, Alerts: alerts, GeneratedAt: generatedAt}
}

func readTripUpdate(tripUpdate *gtfs.TripUpdate) *tripProgress {
	progress := &tripProgress{
		cancelled: tripUpdate.GetTrip().GetScheduleRelationship() == gtfs.TripDescriptor_CANCELED,
		delay:     time.Duration(tripUpdate.GetDelay()) * time.Second,
		arrivals:  map[string]time.Time{},
	}

	for _, stopTimeUpdate := range tripUpdate.GetStopTimeUpdate() {
		stopID := stopTimeUpdate.GetStopId()
		if stopID == "" {
			continue
		}
		progress.stops = append(progress.stops, stopID)
		if arrival := stopTimeUpdate.GetArrival(); arrival != nil {
			if arrival.GetTime() > 0 {
				progress.arrivals[stopID] = time.Unix(arrival.GetTime(), 0)
			}
			if progress.delay == 0 && arrival.GetDelay() != 0 {
				progress.delay = time.Duration(arrival.GetDelay()) * time.Second
			}
		}
	}
	if len(progress.stops) > 0 {
		progress.destination = progress.stops[len(progress.stops)-1]
	}
	return progress
}

func busFromFeed(entity *gtfs.FeedEntity, trips map[string]*tripProgress, fallback time.Time) Bus {
	vehicle := entity.GetVehicle()
	trip := vehicle.GetTrip()

	bus := Bus{
		ID:          vehicle.GetVehicle().GetId(),
		RouteNumber: trip.GetRouteId(),
		CurrentStop: vehicle.GetStopId(),
		Lat:         float64(vehicle.GetPosition().GetLatitude()),
		Lng:         float64(vehicle.GetPosition().GetLongitude()),
		Status:      StatusOnTime,
		Occupancy:   occupancyFromFeed(vehicle),
		UpdatedAt:   fallback,
	}
	if bus.ID == "" {
		bus.ID = entity.GetId()
	}
	if ts := vehicle.GetTimestamp(); ts > 0 {
		bus.UpdatedAt = time.Unix(int64(ts), 0)
	}

	progress, ok := trips[trip.GetTripId()]
	cancelled := trip.GetScheduleRelationship() == gtfs.TripDescriptor_CANCELED
	if ok {
		cancelled = cancelled || progress.cancelled
		bus.Destination = progress.destination
		bus.NextStop = nextStop(progress.stops, bus.CurrentStop)
		bus.ArrivalTime = progress.arrivals[bus.NextStop]
		if progress.delay > delayedThreshold {
			bus.Status = StatusDelayed
			bus.DelayMinutes = int(progress.delay / time.Minute)
		}
	}
	if cancelled {
		bus.Status = StatusCancelled
		bus.DelayMinutes = 0
	}
	return bus
}

func nextStop(stops []string, current string) string {
	if len(stops) == 0 {
		return ""
	}
	if current == "" {
		return stops[0]
	}
	for i, stop := range stops {
		if stop == current && i+1 < len(stops) {
			return stops[i+1]
		}
	}
	if !slices.Contains(stops, current) {
		return stops[0]
	}
	return ""
}

func occupancyFromFeed(vehicle *gtfs.VehiclePosition) Occupancy {
	if vehicle.OccupancyStatus == nil {
		return OccupancyLow
	}
	switch vehicle.GetOccupancyStatus() {
	case gtfs.VehiclePosition_EMPTY, gtfs.VehiclePosition_MANY_SEATS_AVAILABLE:
		return OccupancyLow
	case gtfs.VehiclePosition_FEW_SEATS_AVAILABLE, gtfs.VehiclePosition_STANDING_ROOM_ONLY:
		return OccupancyMedium
	}
	return OccupancyHigh
}

func alertFromFeed(id string, alert *gtfs.Alert, headerTimestamp uint64) Alert {
	out := Alert{
		ID:      id,
		Type:    alertTypeFromFeed(alert),
		Title:   translatedText(alert.GetHeaderText()),
		Message: translatedText(alert.GetDescriptionText()),
	}
	for _, informed := range alert.GetInformedEntity() {
		if routeID := informed.GetRouteId(); routeID != "" {
			out.Route = routeID
			break
		}
	}

	start := headerTimestamp
	if periods := alert.GetActivePeriod(); len(periods) > 0 && periods[0].GetStart() > 0 {
		start = periods[0].GetStart()
	}
	if start > 0 {
		out.Timestamp = time.Unix(int64(start), 0)
	}
	return out
}

func alertTypeFromFeed(alert *gtfs.Alert) AlertType {
	if alert.SeverityLevel != nil {
		switch alert.GetSeverityLevel() {
		case gtfs.Alert_SEVERE:
			return AlertError
		case gtfs.Alert_WARNING:
			return AlertWarning
		case gtfs.Alert_INFO:
			return AlertInfo
		}
	}
	switch alert.GetEffect() {
	case gtfs.Alert_NO_SERVICE:
		return AlertError
	case gtfs.Alert_REDUCED_SERVICE, gtfs.Alert_SIGNIFICANT_DELAYS, gtfs.Alert_DETOUR:
		return AlertWarning
	}
	return AlertInfo
}

// translatedText prefers English and falls back to the first translation.
func translatedText(text *gtfs.TranslatedString) string {
	translations := text.GetTranslation()
	for _, translation := range translations {
		if lang := translation.GetLanguage(); lang == "en" || lang == "" {
			return translation.GetText()
		}
	}
	if len(translations) > 0 {
		return translations[0].GetText()
	}
	return ""
}
