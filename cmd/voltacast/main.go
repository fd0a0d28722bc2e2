package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voltalabs/voltacast/internal/adapters/httpapi"
	"github.com/voltalabs/voltacast/internal/bridge"
	"github.com/voltalabs/voltacast/internal/config"
	"github.com/voltalabs/voltacast/internal/encoder"
	"github.com/voltalabs/voltacast/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	sessions := session.New(session.Options{
		TokenEndpoint:  cfg.TokenEndpoint,
		SignalURL:      cfg.SignalURL,
		DiagnosticsURL: cfg.DiagnosticsURL,
		DiagInterval:   cfg.DiagInterval,
		AudioMaxKbps:   cfg.AudioMaxKbps,
	})
	enc := encoder.New(cfg.FFmpegPath, cfg.GstPath, cfg.StopGrace)
	brd := bridge.NewController(bridge.Options{})

	r := httpapi.SetupRouter(cfg, httpapi.Deps{
		Session: sessions,
		Encoder: enc,
		Bridge:  brd,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("voltacast control server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	enc.Stop()
	brd.Disconnect()
	sessions.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
