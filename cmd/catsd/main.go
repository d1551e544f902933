// Command catsd runs a standalone CATS server: it loads a TOML config,
// wires logging, metrics, the handler router, and the optional handshake,
// then serves connections until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cifrazia/cats/internal/catsapp"
	"github.com/cifrazia/cats/internal/catshandshake"
	"github.com/cifrazia/cats/internal/catsrouter"
	"github.com/cifrazia/cats/internal/catsserver"
	"github.com/cifrazia/cats/internal/config"
	"github.com/cifrazia/cats/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the CATS server TOML config (defaults built in if omitted)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := config.DefaultServerConfig()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "catsd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	router := catsrouter.NewRouter()
	registerExampleHandlers(router)

	app, err := catsapp.New(router)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}
	app.InputTimeoutSeconds = cfg.InputTimeoutSeconds
	app.InputLimit = cfg.InputLimit
	app.MaxPlainDataSizeBytes = cfg.MaxPlainDataSizeBytes

	var handshake catshandshake.Handshake
	if cfg.Handshake.Secret != "" {
		hs, err := catshandshake.NewSHA256TimeHandshake(
			[]byte(cfg.Handshake.Secret),
			cfg.Handshake.ValidWindow,
			time.Duration(cfg.Handshake.TimeoutSeconds)*time.Second,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid handshake config")
		}
		handshake = hs
	}

	srv, err := catsserver.New(catsserver.Config{
		ListenAddr:  cfg.ListenAddr,
		IdleTimeout: time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		Handshake:   handshake,
	}, app)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", cfg.ListenAddr).Msg("catsd listening")
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
