package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"imageeditor/api"
	"imageeditor/archive"
	"imageeditor/caption"
	"imageeditor/config"
	"imageeditor/editor"
	"imageeditor/middleware"
)

func main() {
	cfg, err := config.LoadConfig("conf.json")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogging(cfg.Server)

	opts := editor.Options{}
	timeout := time.Duration(cfg.Caption.TimeoutSeconds) * time.Second
	if p := caption.NewRESTPredictor(cfg.Caption.PredictURL, timeout); p != nil {
		opts.Predictor = p
	}
	if cfg.Settings.SaveLocalCopy {
		store, err := archive.New(cfg.Settings.ImageDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not create image archive")
		}
		opts.Archive = store
	}

	service := editor.New(cfg, opts)
	router := api.NewRouter(service, cfg)

	handler := middleware.Chain(router,
		middleware.Logging(log.Logger),
		middleware.Recover,
		middleware.CORS(cfg.CORS.AllowedOrigins),
		middleware.APIKeyAuth(cfg.Server.APIKey),
	)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Starting Image Editor AI Service...")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Could not start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// setupLogging applies the configured level and output format to the global
// logger.
func setupLogging(cfg config.Server) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
