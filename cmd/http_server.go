package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/spotpay-billing/internal/auth"
	"github.com/frahmantamala/spotpay-billing/internal/ledger"
	"github.com/frahmantamala/spotpay-billing/internal/payment"
	"github.com/frahmantamala/spotpay-billing/internal/transport"
	"github.com/frahmantamala/spotpay-billing/internal/transport/rest"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server for payment initiation, provider callbacks, status polling and wallets`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	ctx := context.Background()
	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	lg := deps.Logger

	router := chi.NewRouter()
	if err := setupRoutes(ctx, router, deps); err != nil {
		lg.Error("failed to set up routes", "error", err)
		deps.Close()
		os.Exit(1)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		deps.Selector.Watch(watchCtx, deps.Config.Payment.ProviderRefresh)
	}()

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	lg.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		lg.Info("Received signal, shutting down...", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			lg.Error("Server failed to start", "error", err)
			deps.Close()
			os.Exit(1)
		}
	}

	stopWatch()
	<-watchDone
	deps.Close()
	lg.Info("Server stopped")
}

func setupRoutes(ctx context.Context, router *chi.Mux, deps *Dependencies) error {
	cfg := deps.Config
	lg := deps.Logger

	routes := rest.Routes{
		Payments:       payment.NewHandler(deps.Payments, lg),
		Webhooks:       payment.NewWebhookHandler(transport.NewBaseHandler(lg), deps.Payments, lg),
		Wallets:        ledger.NewHandler(deps.Wallets, lg),
		Health:         rest.NewHealthHandler(healthChecks(deps)),
		AllowedOrigins: cfg.Server.Origins(),
		Logger:         lg,
	}
	if cfg.Security.JWTSecret != "" {
		tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenTTL)
		routes.Auth = auth.NewMiddleware(tokens, lg)
	}
	if cfg.Observability.Metrics.Enabled {
		routes.MetricsPath = cfg.Observability.Metrics.Path
	}
	if cfg.Server.OpenAPIPath != "" {
		doc, err := rest.LoadOpenAPI(ctx, cfg.Server.OpenAPIPath)
		if err != nil {
			return err
		}
		lg.Info("api description loaded", "version", doc.Version(), "operations", len(doc.Operations()))
		routes.OpenAPI = doc
	}

	rest.RegisterAllRoutes(router, routes)
	return nil
}

func healthChecks(deps *Dependencies) map[string]rest.Check {
	checks := map[string]rest.Check{
		"database": deps.SQL.PingContext,
	}
	if deps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}
	}
	if deps.NATS != nil {
		checks["nats"] = func(context.Context) error {
			if !deps.NATS.IsConnected() {
				return fmt.Errorf("nats status %s", deps.NATS.Status())
			}
			return nil
		}
	}
	return checks
}
