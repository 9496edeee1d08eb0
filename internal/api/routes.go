// Package api настраивает HTTP маршруты приложения
package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradepilot/internal/api/handlers"
	"tradepilot/internal/api/middleware"
	"tradepilot/internal/service"
	"tradepilot/internal/websocket"
	"tradepilot/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	SessionService *service.SessionService
	Hub            *websocket.Hub
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	└── /sessions/
//	    ├── POST / - создать сессию
//	    ├── GET / - список сессий (?owner= для истории владельца)
//	    ├── GET /{id} - статус сессии
//	    ├── POST /{id}/stop - остановить сессию (?force=true)
//	    └── PATCH /{id}/position - ручное изменение позиции
//
// /ws/stream - WebSocket для real-time обновлений
// /metrics - Prometheus метрики
// /health - health check
// /debug/pprof/* - профилирование (за DebugAuth)
//
// Middleware применяется в порядке: Recovery, Logging, CORS.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	var sessionHandler *handlers.SessionHandler
	if deps != nil && deps.SessionService != nil {
		log := deps.Logger
		if log == nil {
			log = utils.L()
		}
		sessionHandler = handlers.NewSessionHandler(deps.SessionService, log)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	if sessionHandler != nil {
		api.HandleFunc("/sessions", sessionHandler.CreateSession).Methods("POST")
		api.HandleFunc("/sessions", sessionHandler.GetSessions).Methods("GET")
		api.HandleFunc("/sessions/{id}", sessionHandler.GetSession).Methods("GET")
		api.HandleFunc("/sessions/{id}/stop", sessionHandler.StopSession).Methods("POST")
		api.HandleFunc("/sessions/{id}/position", sessionHandler.UpdatePosition).Methods("PATCH")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Профилирование за Basic Auth
	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(middleware.DebugAuth)
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").Handler(http.HandlerFunc(pprof.Index))

	return router
}
