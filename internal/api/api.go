package api

import (
	"errors"
	"net/http"

	"github.com/hostline/console-server/internal/api/console"
	"github.com/hostline/console-server/internal/auth"
	"github.com/hostline/console-server/internal/config"
	"github.com/hostline/console-server/internal/session"
	"github.com/hostline/console-server/internal/storage"
	"github.com/hostline/console-server/internal/upstream"
)

// Service represents the console API service
type Service struct {
	Config   *config.Config
	Storage  storage.Driver
	Sessions session.Storage
	Verifier auth.Verifier
	Upstream upstream.Client

	console *console.Service
}

// Startup starts up the console API
func (service *Service) Startup(errs chan<- error) {
	consoleService := &console.Service{
		Config:   service.Config,
		Storage:  service.Storage,
		Sessions: service.Sessions,
		Verifier: service.Verifier,
		Upstream: service.Upstream,
	}
	service.console = consoleService
	go func() {
		if err := consoleService.Startup(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
}

// Shutdown shuts down the console API
func (service *Service) Shutdown() {
	if service.console != nil {
		service.console.Shutdown()
		service.console = nil
	}
}
