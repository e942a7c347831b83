package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/billing/internal/adapter/handler"
	"github.com/rl1809/billing/internal/adapter/storage"
	"github.com/rl1809/billing/internal/config"
	"github.com/rl1809/billing/internal/core/service"
	"github.com/rl1809/billing/internal/logging"
	"github.com/rl1809/billing/internal/metrics"
	"github.com/rl1809/billing/internal/port"
)

// catalogStore is a storage adapter that can also be seeded.
type catalogStore interface {
	port.Store
	storage.Seeder
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New("billing", logging.Options{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		Development: cfg.Development,
	})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server_failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedDemoData {
		seeded, err := storage.SeedDemoData(ctx, store)
		if err != nil {
			return err
		}
		logger.Info("demo_data", zap.Bool("seeded", seeded))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	deps := service.StoreDependencies(store)
	deps.Logger = logger.Named("billing")
	deps.Metrics = m
	deps.Idempotency = storage.NewMemoryIdempotency()

	if cfg.StockDriver == config.StockRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected_to_redis", zap.String("addr", cfg.RedisAddr))

		redisAdapter := storage.NewRedisAdapter(rdb)
		if err := syncStock(ctx, store, redisAdapter, logger); err != nil {
			return err
		}
		deps.Stock = redisAdapter
		deps.Idempotency = redisAdapter
	}

	billing := service.NewBillingService(deps)

	// gRPC
	grpcHandler := handler.NewGRPCHandler(billing, logger.Named("grpc"), m)
	grpcServer := grpc.NewServer(
		grpc.ForceServerCodec(handler.JSONCodec{}),
		grpc.UnaryInterceptor(grpcHandler.UnaryInterceptor),
	)
	handler.RegisterBillingServer(grpcServer, grpcHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		logger.Info("grpc_server_listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc_server_error", zap.Error(err))
		}
	}()

	// HTTP
	router := handler.NewHTTPHandler(billing, logger.Named("http"), m).Router()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", handler.IdempotencyKeyHeader, "X-Request-ID"},
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http_server_listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	logger.Info("http_server_stopped")

	grpcServer.GracefulStop()
	logger.Info("grpc_server_stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (catalogStore, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Info("using_memory_store")
		return storage.NewMemoryAdapter(), func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}
	logger.Info("connected_to_mysql")

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return adapter, func() { db.Close() }, nil
}

// syncStock loads catalog stock into Redis for every product that has no
// counter there yet. Existing counters are authoritative and left alone.
func syncStock(ctx context.Context, catalog port.ProductCatalog, redisAdapter *storage.RedisAdapter, logger *zap.Logger) error {
	products, err := catalog.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	for _, p := range products {
		created, err := redisAdapter.InitStock(ctx, p.ID, p.Quantity)
		if err != nil {
			return err
		}
		if created {
			logger.Info("stock_loaded", zap.String("product_id", p.ID), zap.Int("stock", p.Quantity))
		}
	}
	return nil
}
