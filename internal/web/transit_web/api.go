package transit_web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"tarediiran-industries.com/transit-tracker/internal/common"
	"tarediiran-industries.com/transit-tracker/internal/gateway"
	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

// errorStatus maps an error to the status the dashboard answers with. Upstream
// HTTP failures keep their status; anything else that went wrong fetching is
// a bad gateway.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, transit.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, querycache.ErrClosed):
		return http.StatusServiceUnavailable
	}
	if status := gateway.StatusOf(err); status != 0 {
		return status
	}
	return http.StatusBadGateway
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		log.Printf("write json response: %v", err)
	}
}

func writeError(writer http.ResponseWriter, err error) {
	writeJSON(writer, errorStatus(err), transit.ErrorResponse{Error: err.Error()})
}

func (server *TransitWebServer) handleSnapshotAPI(writer http.ResponseWriter, request *http.Request) {
	snapshot, err := server.snapshot(request.Context())
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, snapshot)
}

func (server *TransitWebServer) handleBusesAPI(writer http.ResponseWriter, request *http.Request) {
	query := ParseDashboardQuery(request.URL.Query())

	snapshot, err := server.snapshot(request.Context())
	if err != nil {
		writeError(writer, err)
		return
	}

	writeJSON(writer, http.StatusOK, transit.BusesResponse{
		Buses:       query.Filter().Apply(snapshot.Buses),
		Summary:     transit.Summarize(snapshot.Buses),
		Routes:      transit.Routes(snapshot.Buses),
		GeneratedAt: snapshot.GeneratedAt,
	})
}

func (server *TransitWebServer) handleAlertsAPI(writer http.ResponseWriter, request *http.Request) {
	snapshot, err := server.snapshot(request.Context())
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, transit.AlertsResponse{Alerts: snapshot.Alerts})
}

func (server *TransitWebServer) handleDismissAPI(writer http.ResponseWriter, request *http.Request) {
	id, err := alertID(request)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, transit.ErrorResponse{Error: err.Error()})
		return
	}
	if err := server.dismiss(request.Context(), id); err != nil {
		writeError(writer, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (server *TransitWebServer) handleRefreshAPI(writer http.ResponseWriter, request *http.Request) {
	server.refresh()
	writer.WriteHeader(http.StatusNoContent)
}

func (server *TransitWebServer) handleFocusAPI(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, transit.FocusResponse{Refetched: server.cache.Focus(request.Context())})
}

func (server *TransitWebServer) handleHealthAPI(writer http.ResponseWriter, request *http.Request) {
	state, _ := server.cache.Peek(SnapshotKey)

	health := transit.Health{
		Status:    "ok",
		Version:   common.Version,
		GitCommit: common.GitCommit,
		Snapshot:  state.Status.String(),
		UpdatedAt: state.UpdatedAt,
	}
	if state.Err != nil {
		health.Error = state.Err.Error()
	}
	writeJSON(writer, http.StatusOK, health)
}
