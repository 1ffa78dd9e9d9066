package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	handler "github.com/examwatch/examwatch/internal/adapter/driving/http"
	"github.com/examwatch/examwatch/internal/config"
)

func main() {
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()

	cfg := config.Load()

	relay := handler.NewRelay(l)
	h := handler.NewHandler(relay)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("addr", cfg.ListenAddr).Msg("Starting signaling relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start relay")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Relay forced to shutdown")
	}
	l.Info().Msg("Relay exited")
}
