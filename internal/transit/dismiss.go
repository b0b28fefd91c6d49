package transit

import (
	"context"
	"sync"
)

// WithDismissals gives source the ability to hide alerts. Sources that
// already track dismissals are returned unchanged; the rest get an in-memory
// set of hidden alert ids that is applied to every snapshot.
func WithDismissals(source DataSource) DismissableSource {
	if dismissable, ok := source.(DismissableSource); ok {
		return dismissable
	}
	return &dismissals{source: source, hidden: map[string]struct{}{}}
}

type dismissals struct {
	source DataSource

	mu     sync.Mutex
	hidden map[string]struct{}
}

func (d *dismissals) Snapshot(ctx context.Context) (Snapshot, error) {
	snapshot, err := d.source.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	alerts := make([]Alert, 0, len(snapshot.Alerts))
	for _, alert := range snapshot.Alerts {
		if _, ok := d.hidden[alert.ID]; !ok {
			alerts = append(alerts, alert)
		}
	}
	snapshot.Alerts = alerts
	return snapshot, nil
}

func (d *dismissals) DismissAlert(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hidden[id] = struct{}{}
	return nil
}
