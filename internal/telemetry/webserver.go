package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rjboer/meaviz/internal/logging"
	"github.com/rjboer/meaviz/internal/mea"
)

// WebServer exposes frames, lag history and live updates over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// Handler builds the HTTP routes served by the hub.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/frame", h.handleFrame)
	mux.HandleFunc("GET /api/channels/{id}", h.handleChannel)
	mux.HandleFunc("GET /api/layout", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, mea.Layout())
	})
	mux.HandleFunc("GET /api/lag", h.handleLag)
	mux.HandleFunc("GET /api/config", h.handleGetConfig)
	mux.HandleFunc("/api/config/update", h.handleSetConfig)
	mux.HandleFunc("POST /api/config/yrange/{dir}", h.handleYRange)
	mux.HandleFunc("GET /api/live", h.handleLive)
	mux.HandleFunc("GET /api/ws", h.handleWS)
	return mux
}

// NewWebServer builds an HTTP server for the hub's API.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebServer{
		hub:    hub,
		srv:    &http.Server{Addr: addr, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second},
		logger: logger.With(logging.Field{Key: "subsystem", Value: "web"}),
	}
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.Field{Key: "err", Value: err})
		}
	}()

	w.logger.Info("web telemetry listening", logging.Field{Key: "addr", Value: w.srv.Addr})
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.Field{Key: "err", Value: err})
		return err
	}
	return nil
}
