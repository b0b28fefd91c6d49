package transit_web

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"tarediiran-industries.com/transit-tracker/internal/querycache"
)

// Slow clients skip states once this many are queued.
const eventBuffer = 16

// handleEvents streams every state of the snapshot entry as server-sent
// events named after the status. The subscription ends with the request.
func (server *TransitWebServer) handleEvents(writer http.ResponseWriter, request *http.Request) {
	controller := http.NewResponseController(writer)

	writer.Header().Set("Content-Type", "text/event-stream")
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("Connection", "keep-alive")
	writer.WriteHeader(http.StatusOK)
	if err := controller.Flush(); err != nil {
		log.Printf("event stream: %v", err)
		return
	}

	states := make(chan querycache.State, eventBuffer)
	subscription, err := server.cache.Observe(request.Context(), SnapshotKey, server.loadSnapshot, func(state querycache.State) {
		select {
		case states <- state:
		default:
		}
	})
	if err != nil {
		writeEvent(writer, "error", SnapshotEventVM{Status: "error", Error: err.Error()})
		return
	}
	defer subscription.Close()

	for {
		select {
		case <-request.Context().Done():
			return
		case <-server.shutdown:
			return
		case state := <-states:
			if err := writeEvent(writer, state.Status.String(), BuildSnapshotEventVM(state)); err != nil {
				log.Printf("event stream: %v", err)
				return
			}
			if err := controller.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(writer io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", name, data)
	return err
}
