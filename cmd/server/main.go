package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-lifecycle-service/internal/app"
	"order-lifecycle-service/internal/config"
	"order-lifecycle-service/internal/controller"
	"order-lifecycle-service/internal/logger"
	"order-lifecycle-service/internal/middleware"
	"order-lifecycle-service/internal/rabbit"
	"order-lifecycle-service/internal/webhook"
	"order-lifecycle-service/internal/worker"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn("close resources", zap.Error(err))
		}
	}()

	// Conexión a RabbitMQ
	ch, err := a.ConnectRabbit()
	if err != nil {
		return err
	}
	if err := rabbit.SetupConsumers(ctx, ch, a.Intake, log); err != nil {
		return err
	}

	// Handlers
	webhooks := controller.NewWebhookController(webhook.FromConfig(cfg), a.Payments, a.Tracking, log)
	admin := controller.NewAdminController(a.Orchestrator, a.Admin, a.Refunds, log)

	// Router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.RequestLogger(log), middleware.Recovery(log))
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	// Rutas admin protegidas por token y permiso
	controller.RegisterRoutes(r, webhooks, admin,
		middleware.AuthMiddleware(a.Auth, log), middleware.AdminOnly())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runner := worker.NewRunner(cfg.WorkerInterval, log,
		worker.ShipmentRetryJob(a.ShipmentRetry),
		worker.RefundJob(a.RefundRunner),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("order lifecycle service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
