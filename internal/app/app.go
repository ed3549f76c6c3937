// Package app wires configuration, storage, upstream clients and services
// into one object shared by the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"order-lifecycle-service/internal/carrier"
	"order-lifecycle-service/internal/config"
	"order-lifecycle-service/internal/events"
	"order-lifecycle-service/internal/gateway"
	"order-lifecycle-service/internal/rabbit"
	"order-lifecycle-service/internal/repository"
	"order-lifecycle-service/internal/service"
	"order-lifecycle-service/internal/worker"

	"github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

type App struct {
	Config *config.Config
	Logger *zap.Logger
	Mongo  *mongo.Client
	Bus    *events.Bus

	Intake       *service.OrderIntake
	Payments     *service.PaymentReconciler
	Tracking     *service.ShipmentReconciler
	Orchestrator *service.ShipmentOrchestrator
	Refunds      *service.RefundService
	Admin        *service.AdminService
	Auth         *service.AuthService

	ShipmentRetry *worker.ShipmentRetryWorker
	RefundRunner  *worker.RefundWorker

	amqpConn *amqp091.Connection
}

// New connects to MongoDB, makes sure the indexes exist and builds every
// service. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Conexión a MongoDB
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(cfg.MongoDBName)
	if err := repository.EnsureIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Mongo: client, Bus: events.NewBus(logger)}

	// Repositorios
	payments := repository.NewMongoPaymentRepository(db)
	orders := repository.NewMongoOrderRepository(db)
	shipments := repository.NewMongoShipmentRepository(db)
	refunds := repository.NewMongoRefundRequestRepository(db)
	products := repository.NewMongoProductRepository(db)
	ledger := repository.NewMongoEventLedger(db)

	// Clientes externos
	carrierClient := carrier.NewClient(carrier.Options{
		BaseURL:        cfg.Shiprocket.BaseURL,
		Email:          cfg.Shiprocket.Email,
		Password:       cfg.Shiprocket.Password,
		PickupLocation: cfg.Shiprocket.PickupLocation,
		Timeout:        cfg.UpstreamTimeout,
		TokenTTL:       cfg.Shiprocket.TokenTTL,
	})
	gateways := gateway.Registry{
		"phonepe":  gateway.NewPhonePeClient(cfg.PhonePe.BaseURL, cfg.PhonePe.MerchantID, cfg.PhonePe.SaltKey, cfg.PhonePe.SaltIndex, cfg.UpstreamTimeout),
		"razorpay": gateway.NewRazorpayClient(cfg.Razorpay.BaseURL, cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.UpstreamTimeout),
	}

	// Servicios
	guard := service.NewIdempotencyGuard(ledger, logger)
	stock := service.NewStockGuard(orders, products, logger)
	a.Orchestrator = service.NewShipmentOrchestrator(shipments, orders, carrierClient,
		service.OrchestratorOptions{Timeout: cfg.UpstreamTimeout, AutoAWB: cfg.Shiprocket.AutoAWB}, logger)
	a.Intake = service.NewOrderIntake(orders, payments, a.Bus, logger)
	a.Payments = service.NewPaymentReconciler(payments, orders, guard, stock, a.Orchestrator, a.Bus, logger)
	a.Tracking = service.NewShipmentReconciler(shipments, orders, guard, a.Bus, logger)
	a.Refunds = service.NewRefundService(refunds, payments, gateways, a.Bus,
		service.RefundOptions{GracePeriod: cfg.RefundGracePeriod, Timeout: cfg.UpstreamTimeout}, logger)
	a.Admin = service.NewAdminService(orders, shipments, carrierClient, a.Bus, cfg.UpstreamTimeout, logger)
	a.Auth = service.NewAuthService(cfg.AuthURL, cfg.UpstreamTimeout, cfg.AuthCacheTTL)

	// Workers
	a.ShipmentRetry = worker.NewShipmentRetryWorker(shipments, a.Orchestrator, cfg.WorkerBatch, logger)
	a.RefundRunner = worker.NewRefundWorker(a.Refunds, cfg.WorkerBatch, logger)

	return a, nil
}

// ConnectRabbit dials the broker and attaches the notifier to the event bus.
// The returned channel is also what the consumers read from.
func (a *App) ConnectRabbit() (*amqp091.Channel, error) {
	conn, err := amqp091.Dial(a.Config.RabbitURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	// The notifier publishes on its own channel so consumer flow control
	// never blocks event delivery.
	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	notifier, err := rabbit.NewNotifier(pubCh, a.Config.UpstreamTimeout, a.Logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	notifier.Register(a.Bus)
	a.amqpConn = conn
	return ch, nil
}

func (a *App) Close(ctx context.Context) error {
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil {
			a.Logger.Warn("close rabbitmq", zap.Error(err))
		}
	}
	return a.Mongo.Disconnect(ctx)
}
