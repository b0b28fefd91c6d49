package transit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"tarediiran-industries.com/transit-tracker/internal/gateway"
)

// API paths served by the dashboard and consumed by RemoteSource and the ctl.
const (
	SnapshotPath = "/api/snapshot"
	BusesPath    = "/api/buses"
	AlertsPath   = "/api/alerts"
	RefreshPath  = "/api/refresh"
	FocusPath    = "/api/focus"
	HealthPath   = "/api/health"
)

func DismissPath(id string) string {
	return AlertsPath + "/" + url.PathEscape(id) + "/dismiss"
}

// RemoteSource reads snapshots from another dashboard's JSON API.
type RemoteSource struct {
	gateway *gateway.Gateway
}

func NewRemoteSource(gw *gateway.Gateway) *RemoteSource {
	return &RemoteSource{gateway: gw}
}

func (source *RemoteSource) Snapshot(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	if err := source.gateway.GetJSON(ctx, SnapshotPath, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("remote snapshot: %w", err)
	}
	return snapshot, nil
}

func (source *RemoteSource) DismissAlert(ctx context.Context, id string) error {
	resp, err := source.gateway.Request(ctx, http.MethodPost, DismissPath(id), nil)
	if err != nil {
		return fmt.Errorf("remote dismiss %s: %w", id, err)
	}
	return resp.Body.Close()
}
