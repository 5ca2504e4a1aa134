package console

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hostline/console-server/internal/auth"
	"github.com/hostline/console-server/internal/config"
	"github.com/hostline/console-server/internal/session"
	"github.com/hostline/console-server/internal/storage"
	"github.com/hostline/console-server/internal/upstream"
)

// Service represents the console API service.
// It exposes the session broker endpoint together with the WebSocket relay endpoint.
type Service struct {
	server *http.Server

	Config *config.Config

	Storage  storage.Driver
	Sessions session.Storage
	Verifier auth.Verifier
	Upstream upstream.Client
}

// Startup starts up the console API
func (service *Service) Startup() error {
	server := &http.Server{
		Addr:    service.Config.ListenAddress,
		Handler: service.router(),
	}
	service.server = server

	if service.Config.TLSEnabled {
		return server.ListenAndServeTLS(service.Config.TLSCertFile, service.Config.TLSKeyFile)
	}
	return server.ListenAndServe()
}

// Shutdown shuts down the console API
func (service *Service) Shutdown() {
	if service.server != nil {
		service.server.Close()
		service.server = nil
	}
}

func (service *Service) router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RedirectSlashes)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{service.Config.AllowedOrigin},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))
	router.NotFound(func(writer http.ResponseWriter, _ *http.Request) {
		service.error(writer, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed(func(writer http.ResponseWriter, _ *http.Request) {
		service.error(writer, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.Post("/api/request/session/id", service.EndpointMintSession)
	router.Get("/ws", service.EndpointConsoleTunnel)

	return router
}
