package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/hostline/console-server/internal/api"
	"github.com/hostline/console-server/internal/auth"
	"github.com/hostline/console-server/internal/config"
	"github.com/hostline/console-server/internal/session/storage/inmem"
	"github.com/hostline/console-server/internal/storage/postgres"
	"github.com/hostline/console-server/internal/task"
	"github.com/hostline/console-server/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Set up zerolog to use pretty printing
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out: os.Stderr,
	})
	log.Info().Msg("starting up...")

	// Load the application configuration
	log.Info().Msg("loading configuration...")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load the configuration")
	}
	if cfg.IsEnvProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Debug().Str("config", fmt.Sprintf("%+v", cfg)).Msg("")

	// Initialize the directory database connection
	log.Info().Msg("initializing directory database connection...")
	driver := postgres.New(cfg.DirectoryDSN)
	if err := driver.Initialize(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("could not initialize the directory database connection")
	}
	defer driver.Close()

	// Create the session store and discard everything a previous process may have left behind
	sessions, err := inmem.New(cfg.SessionMaxAge)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create the session store")
	}
	if err := sessions.Clear(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("could not wipe the session store")
	}
	log.Info().Msg("session store wiped")

	// Create the identity token verifier
	log.Info().Str("provider", cfg.OIDCProviderURL).Msg("initializing identity token verifier...")
	verifier, err := auth.NewOIDCVerifier(context.Background(), cfg.OIDCProviderURL, cfg.OIDCClientID)
	if err != nil {
		log.Fatal().Err(err).Msg("could not initialize the identity token verifier")
	}

	// Create the upstream ticket client
	tickets := upstream.NewProxmoxClient(cfg.UpstreamHost, cfg.UpstreamUsername, cfg.UpstreamPassword, cfg.UpstreamRealm, cfg.UpstreamInsecureTLS)

	// Schedule a task that sweeps out expired, never-redeemed sessions
	sweepingTask := task.NewRepeating(func() {
		n, err := sessions.DeleteExpired(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("could not sweep out expired sessions")
		} else if n > 0 {
			log.Info().Int("amount", n).Msg("swept out expired sessions")
		}
	}, cfg.SessionSweepInterval)
	sweepingTask.Start()
	defer sweepingTask.Stop(false)

	// Start up the console API
	log.Info().Str("console_api", cfg.ListenAddress).Msg("starting up the console API...")
	apis := &api.Service{
		Config:   cfg,
		Storage:  driver,
		Sessions: sessions,
		Verifier: verifier,
		Upstream: tickets,
	}
	apiErrs := make(chan error, 1)
	apis.Startup(apiErrs)
	go func() {
		err := <-apiErrs
		log.Fatal().Err(err).Msg("the console API raised an unexpected error")
	}()
	defer func() {
		log.Info().Msg("shutting down the console API...")
		apis.Shutdown()
	}()

	log.Info().Msg("done!")
	defer log.Info().Msg("shutting down...")

	// Wait for the application to be terminated
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt)
	<-shutdown
}
