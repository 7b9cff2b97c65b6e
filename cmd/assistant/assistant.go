package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"github.com/aveoearth/marketplace/assistant"
	"github.com/aveoearth/marketplace/config"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting assistant gateway")
	defer logger.Info("shutdown complete")

	const prefix = "MARKET_AI"
	var cfg config.Assistant
	if _, err := conf.Parse(prefix, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	store := assistant.NewMemoryStore(cfg.Session.TTL, cfg.Session.MaxMessages)

	svc := &assistant.Service{
		LLM:   assistant.NewGemini(cfg.Gemini),
		Tools: assistant.NewToolClient(cfg.Backend),
		Store: store,
		Log:   logger,
	}

	mux := assistant.Mux(assistant.MuxConfig{
		CorsOrigin: cfg.Cors.Origin,
		Log:        logger,
		Service:    svc,
		Store:      store,
		BackendURL: cfg.Backend.URL,
	})

	gw := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting assistant router at %s", gw.Addr)
		serverErrors <- gw.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := gw.Shutdown(ctx); err != nil {
			gw.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}
