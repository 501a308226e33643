package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fotobudka/internal/devserver"
	"fotobudka/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	backend, err := devserver.New(devserver.Options{
		JWTSecret:          cfg.DevJWTSecret,
		PollsBeforeDone:    cfg.DevPollsBeforeDone,
		RateLimitPerSecond: cfg.DevRateLimitPerSecond,
		Catalog:            cfg.Catalog,
		Logger:             &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("devbackend: invalid configuration")
	}

	server := infra.NewHTTPServer(":"+cfg.DevPort, backend.Router())

	go func() {
		logger.Info().Msgf("devbackend listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("devbackend: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("devbackend: failed to shutdown server")
	}
	logger.Info().Msg("devbackend stopped")
}
