package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-orders-api/config"
	"restaurant-orders-api/feed"
	"restaurant-orders-api/handlers"
	"restaurant-orders-api/lifecycle"
	"restaurant-orders-api/metrics"
	"restaurant-orders-api/middleware"
	"restaurant-orders-api/notify"
	"restaurant-orders-api/routes"
	"restaurant-orders-api/statemachine"
	"restaurant-orders-api/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	db, err := config.OpenDB(cfg)
	if err != nil {
		log.Error("failed to open database", "error", err, "driver", cfg.DBDriver)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	orders := store.New(db, store.WithReadTxOptions(config.ReadTxOptions(cfg.DBDriver)))

	var (
		dispatcher notify.Dispatcher = notify.Nop{}
		queue      *notify.Queue
	)
	if cfg.FulfillmentBackendURL != "" {
		var webhook notify.Dispatcher = notify.NewWebhook(cfg.FulfillmentBackendURL, cfg.WebhookTimeout,
			notify.WithSecret(cfg.WebhookSecret),
			notify.WithLogger(log),
		)
		dispatcher = webhook
		if cfg.AsyncNotifications {
			queue = notify.NewQueue(webhook, cfg.NotifyWorkers, cfg.NotifyQueueSize, log)
			dispatcher = queue
		}
	} else {
		log.Warn("no fulfillment backend configured, status notifications disabled")
	}

	machine := statemachine.Machine{Permissive: cfg.LegacyTransitions}
	engine := lifecycle.NewEngine(orders, machine, dispatcher, log)
	gateway := feed.NewGateway(orders)

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Metrics(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)
	routes.SetupRoutes(r, routes.Deps{
		Orders:   handlers.NewOrderHandler(orders, engine, gateway, cfg.ExternalOriginMarker, log),
		Machine:  machine,
		DB:       db,
		Gatherer: reg,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The queue outlives the server so that requests finishing during
	// shutdown can still enqueue.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"port", cfg.Port,
			"db_driver", cfg.DBDriver,
			"legacy_transitions", cfg.LegacyTransitions,
			"async_notifications", queue != nil,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		defer stopQueue()
		return server.Shutdown(shutdownCtx)
	})
	if queue != nil {
		g.Go(func() error {
			return queue.Run(queueCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server shutdown complete")
}
