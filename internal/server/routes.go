// Package server wires HTTP handlers into a router for the relay.
package server

import (
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"

	"github.com/Tyrowin/sofarelay/internal/metrics"
)

// SetupRoutes returns the relay's router: the map page, icons, the WebSocket
// endpoint, health, and metrics, all behind the logging and recovery chain.
func (s *Server) SetupRoutes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/", s.IndexHandler).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/ws", s.WebSocketHandler)
	router.HandleFunc("/health", HealthHandler)
	router.Handle("/metrics", metrics.Handler(s.registry)).Methods(http.MethodGet)

	icons := http.StripPrefix("/icons/", http.FileServer(http.Dir(filepath.Join(s.cfg.StaticDir, "icons"))))
	router.PathPrefix("/icons/").Handler(icons).Methods(http.MethodGet, http.MethodHead)

	chain := alice.New(recoverMiddleware(s.logger), requestLogMiddleware(s.logger))
	return chain.Then(router)
}
