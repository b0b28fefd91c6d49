package transit_web

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tarediiran-industries.com/transit-tracker/internal/common"
	"tarediiran-industries.com/transit-tracker/internal/querycache"
	"tarediiran-industries.com/transit-tracker/internal/transit"
)

// SnapshotKey is the cache entry holding the current snapshot. Refreshing and
// dismissing invalidate it.
var SnapshotKey = querycache.Key{transit.SnapshotPath}

type TransitWebServer struct {
	source   transit.DismissableSource
	cache    *querycache.Cache
	server   *http.Server
	renderer *Renderer
	now      func() time.Time

	// shutdown is closed when the server stops so open event streams end.
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func NewTransitWebServer(listenAddr string, source transit.DataSource, cache *querycache.Cache) (*TransitWebServer, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	server := &TransitWebServer{
		source:   transit.WithDismissals(source),
		cache:    cache,
		server:   httpServer,
		renderer: renderer,
		now:      time.Now,
		shutdown: make(chan struct{}),
	}
	httpServer.RegisterOnShutdown(server.closeStreams)

	router.Get("/", func(writer http.ResponseWriter, request *http.Request) {
		http.Redirect(writer, request, "/dashboard", http.StatusFound)
	})
	router.Get("/dashboard", server.handleDashboardPage)
	router.Get("/dashboard/buses", server.handleBusesPartial)
	router.Get("/dashboard/map", server.handleMapPartial)
	router.Get("/dashboard/alerts", server.handleAlertsPartial)
	router.Get("/dashboard/events", server.handleEvents)
	router.Post("/dashboard/refresh", server.handleRefreshForm)
	router.Post("/dashboard/alerts/{id}/dismiss", server.handleDismissForm)

	router.Get(transit.SnapshotPath, server.handleSnapshotAPI)
	router.Get(transit.BusesPath, server.handleBusesAPI)
	router.Get(transit.AlertsPath, server.handleAlertsAPI)
	router.Post(transit.AlertsPath+"/{id}/dismiss", server.handleDismissAPI)
	router.Post(transit.RefreshPath, server.handleRefreshAPI)
	router.Post(transit.FocusPath, server.handleFocusAPI)
	router.Get(transit.HealthPath, server.handleHealthAPI)

	return server, nil
}

func (server *TransitWebServer) Handler() http.Handler {
	return server.server.Handler
}

// snapshot reads the current snapshot through the cache, so concurrent page
// loads share one fetch and later ones reuse the result until invalidated.
func (server *TransitWebServer) snapshot(ctx context.Context) (transit.Snapshot, error) {
	return querycache.FetchAs[transit.Snapshot](ctx, server.cache, SnapshotKey, server.loadSnapshot)
}

func (server *TransitWebServer) loadSnapshot(ctx context.Context, key querycache.Key) (any, error) {
	return common.RuntimeBenchmark("load-snapshot", func() (transit.Snapshot, error) {
		return server.source.Snapshot(ctx)
	})
}

func (server *TransitWebServer) refresh() int {
	return server.cache.Invalidate(SnapshotKey)
}

func (server *TransitWebServer) dismiss(ctx context.Context, id string) error {
	_, err := server.cache.Mutate(ctx, func(ctx context.Context) (any, error) {
		return nil, server.source.DismissAlert(ctx, id)
	}, SnapshotKey)
	return err
}

func (server *TransitWebServer) closeStreams() {
	server.shutdownOnce.Do(func() {
		close(server.shutdown)
	})
}

func (server *TransitWebServer) startHosting() {
	err := server.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func (server *TransitWebServer) Serve(ctx context.Context) {
	log.Printf("listening on http://%s", server.server.Addr)

	go server.startHosting()
	<-ctx.Done()

	log.Println("Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.server.Shutdown(shutdownCtx)
}
