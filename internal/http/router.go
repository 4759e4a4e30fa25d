package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"ai-voice-bridge-service/internal/app"
	"ai-voice-bridge-service/internal/observability/logging"
	"ai-voice-bridge-service/internal/service/bridge"
	"ai-voice-bridge-service/internal/service/session"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status        string  `json:"status"`
	Sessions      int     `json:"sessions"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// sessionsResponse is the body of GET /sessions.
type sessionsResponse struct {
	Count    int            `json:"count"`
	Sessions []session.Info `json:"sessions"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers and native clients connect from arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, deps bridge.Deps) http.Handler {
	if deps.Store == nil {
		deps.Store = application.Store
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status:        "ok",
			Sessions:      deps.Store.Len(),
			UptimeSeconds: math.Round(application.Uptime().Seconds()),
		})
	})

	if application.Cfg.Observability.SessionsDebug {
		r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
			infos := deps.Store.Snapshot()
			writeJSON(w, http.StatusOK, sessionsResponse{Count: len(infos), Sessions: infos})
		})
	}

	r.Get("/ws", serveWS(application, deps))

	return r
}

// serveWS upgrades the request and runs a bridge controller until the
// connection ends.
func serveWS(application *app.Application, deps bridge.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.WithRequest(middleware.GetReqID(r.Context()), r.RemoteAddr)

		if !application.Ready() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			logger.Warn().Err(err).Msg("Websocket upgrade failed")
			return
		}

		ctrl := bridge.New(conn, deps)
		err = ctrl.Serve(r.Context())
		if err != nil && !errors.Is(err, bridge.ErrEndOfStream) {
			logger.Info().Err(err).Str("sessionId", ctrl.SessionID()).Msg("Connection ended")
			return
		}
		logger.Debug().Str("sessionId", ctrl.SessionID()).Msg("Connection ended")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
