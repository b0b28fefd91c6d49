package transit_web

import (
	"log"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

func (server *TransitWebServer) render(writer http.ResponseWriter, name string, viewmodel any) {
	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := server.renderer.Render(writer, name, viewmodel); err != nil {
		http.Error(writer, err.Error(), http.StatusInternalServerError)
	}
}

func (server *TransitWebServer) handleDashboardPage(writer http.ResponseWriter, request *http.Request) {
	query := ParseDashboardQuery(request.URL.Query())

	snapshot, err := server.snapshot(request.Context())
	if err != nil {
		http.Error(writer, err.Error(), errorStatus(err))
		return
	}

	viewmodel := BuildDashboardPageVM(snapshot, query, server.now(), server.cache.Options().RefetchOnFocus)
	server.render(writer, "layout.html", viewmodel)
}

func (server *TransitWebServer) handleBusesPartial(writer http.ResponseWriter, request *http.Request) {
	query := ParseDashboardQuery(request.URL.Query())

	snapshot, err := server.snapshot(request.Context())
	if err != nil {
		http.Error(writer, err.Error(), errorStatus(err))
		return
	}

	buses := query.Filter().Apply(snapshot.Buses)
	server.render(writer, "buses_table.html", BuildBusesTableVM(buses, snapshot.GeneratedAt, server.now()))
}

func (server *TransitWebServer) handleMapPartial(writer http.ResponseWriter, request *http.Request) {
	query := ParseDashboardQuery(request.URL.Query())

	snapshot, err := server.snapshot(request.Context())
	if err != nil {
		http.Error(writer, err.Error(), errorStatus(err))
		return
	}

	server.render(writer, "map.html", BuildBusMapVM(query.Filter().Apply(snapshot.Buses)))
}

func (server *TransitWebServer) handleAlertsPartial(writer http.ResponseWriter, request *http.Request) {
	query := ParseDashboardQuery(request.URL.Query())

	snapshot, err := server.snapshot(request.Context())
	if err != nil {
		http.Error(writer, err.Error(), errorStatus(err))
		return
	}

	server.render(writer, "alerts.html", BuildAlertsVM(snapshot.Alerts, query, server.now()))
}

func (server *TransitWebServer) handleRefreshForm(writer http.ResponseWriter, request *http.Request) {
	marked := server.refresh()
	log.Printf("refresh requested, %d entries invalidated", marked)
	server.redirectToDashboard(writer, request)
}

func (server *TransitWebServer) handleDismissForm(writer http.ResponseWriter, request *http.Request) {
	id, err := alertID(request)
	if err != nil {
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}
	if err := server.dismiss(request.Context(), id); err != nil {
		http.Error(writer, err.Error(), errorStatus(err))
		return
	}
	server.redirectToDashboard(writer, request)
}

// redirectToDashboard sends a form post back to the page it came from,
// keeping the filters that were active.
func (server *TransitWebServer) redirectToDashboard(writer http.ResponseWriter, request *http.Request) {
	query := ParseDashboardQuery(request.URL.Query())
	http.Redirect(writer, request, withQuery("/dashboard", query), http.StatusSeeOther)
}

// alertID reads the {id} segment. chi matches on the raw path only when the
// request carried escapes that decoding would lose, such as %2F.
func alertID(request *http.Request) (string, error) {
	id := chi.URLParam(request, "id")
	if request.URL.RawPath == "" {
		return id, nil
	}
	return url.PathUnescape(id)
}
