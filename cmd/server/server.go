package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/ardanlabs/conf/v3"
	"github.com/aveoearth/marketplace/api"
	"github.com/aveoearth/marketplace/api/background"
	"github.com/aveoearth/marketplace/config"
	"github.com/aveoearth/marketplace/core/auth"
	"github.com/aveoearth/marketplace/core/cart"
	"github.com/aveoearth/marketplace/core/product"
	"github.com/aveoearth/marketplace/core/user"
	"github.com/aveoearth/marketplace/database"
	"github.com/aveoearth/marketplace/rate"
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
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "MARKET"
	var cfg config.Config
	if _, err := conf.Parse(prefix, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate db schema: %w", err)
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.Cart.Expiry

	verifier := auth.NewJWKSVerifier(context.Background(), cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
	provider := auth.NewSupabase(context.Background(), cfg.Auth.ProviderURL, cfg.Auth.ServiceKey)

	resolver := &user.Resolver{
		DB:       db,
		Provider: provider,
		Log:      logger,
	}

	limiter := rate.NewLimiter(cfg.Rate.Burst, cfg.Rate.Expiry, cfg.Rate.LimitRPS)

	bg := background.New(logger)
	bg.RunEvery(cfg.Cart.SweepInterval, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		n, err := cart.DeleteExpired(ctx, db)
		if err != nil {
			logger.Errorf("sweeping expired carts: %v", err)
			return
		}
		if n > 0 {
			logger.Infof("swept %d expired carts", n)
		}
	})

	mux := api.APIMux(api.APIConfig{
		CorsOrigin: cfg.Cors.Origin,
		Log:        logger,
		DB:         db,
		Session:    sessionManager,
		Verifier:   verifier,
		Resolver:   resolver,
		Inventory:  &product.Stock{DB: db},
		Limiter:    limiter,
		CartExpiry: cfg.Cart.Expiry,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
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

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}
