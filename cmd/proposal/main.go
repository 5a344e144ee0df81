// ProposalEngine 主程序
// 功能：接收交易信号与持仓脉冲，生成符合交易所规则的合约订单并原子化执行
// 架构：DDD 分层 + Gin HTTP + gRPC 健康检查 + Kafka 接入
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/proposalengine/internal/proposal/application"
	"github.com/wyfcoding/proposalengine/internal/proposal/domain"
	"github.com/wyfcoding/proposalengine/internal/proposal/infrastructure/exchange"
	"github.com/wyfcoding/proposalengine/internal/proposal/infrastructure/lock"
	"github.com/wyfcoding/proposalengine/internal/proposal/infrastructure/messaging"
	"github.com/wyfcoding/proposalengine/internal/proposal/infrastructure/persistence/memory"
	"github.com/wyfcoding/proposalengine/internal/proposal/infrastructure/persistence/mysql"
	"github.com/wyfcoding/proposalengine/internal/proposal/interfaces/consumer"
	grpchandler "github.com/wyfcoding/proposalengine/internal/proposal/interfaces/grpc"
	httphandler "github.com/wyfcoding/proposalengine/internal/proposal/interfaces/http"
	"github.com/wyfcoding/proposalengine/pkg/cache"
	"github.com/wyfcoding/proposalengine/pkg/config"
	"github.com/wyfcoding/proposalengine/pkg/db"
	"github.com/wyfcoding/proposalengine/pkg/logger"
	"github.com/wyfcoding/proposalengine/pkg/metrics"
	"github.com/wyfcoding/proposalengine/pkg/middleware"
	"github.com/wyfcoding/proposalengine/pkg/mq"
	"github.com/wyfcoding/proposalengine/pkg/ratelimit"
	"github.com/wyfcoding/proposalengine/pkg/utils"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "configs/proposal/config.toml", "path to the TOML config file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	loggerCfg := logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}
	if err := logger.Init(loggerCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info(ctx, "Starting ProposalEngine",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
		"testnet", cfg.Exchange.Testnet,
	)

	// 3. 初始化指标
	metricsInstance := metrics.New(cfg.ServiceName)
	if err := metricsInstance.Register(nil); err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 4. 初始化仓储
	ids, err := utils.NewIDGenerator(cfg.Proposal.NodeID, "PROP-")
	if err != nil {
		logger.Fatal(ctx, "Failed to create id generator", "error", err)
	}
	repo, closeRepo := newRepository(ctx, cfg, ids)
	defer closeRepo()

	// 5. 初始化 Redis（可选）：分布式租约与交易规则缓存
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize Redis", "error", err)
		}
		defer redisCache.Close()
	}

	// 6. 初始化交易所网关
	var gateway domain.ExchangeGateway = exchange.NewBinanceFuturesGateway(exchange.Config{
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		Testnet:           cfg.Exchange.Testnet,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.Burst,
		CallTimeout:       cfg.Exchange.CallTimeout,
		BreakerFailures:   cfg.Exchange.BreakerFailures,
		BreakerTimeout:    cfg.Exchange.BreakerTimeout,
	}, metricsInstance)

	var locker domain.SymbolLocker = lock.NewLocalLocker()
	if redisCache != nil {
		gateway = exchange.NewCachedFilterGateway(gateway, redisCache, cfg.Proposal.FilterCacheTTL)
		locker = lock.NewRedisSymbolLocker(redisCache, cfg.Proposal.LockTTL)
	}

	// 7. 初始化 Kafka（可选）：事件发布与死信队列
	var (
		publisher domain.EventPublisher
		producer  *mq.KafkaProducer
	)
	kafkaCfg := mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	if cfg.Kafka.Enabled {
		producer = mq.NewProducer(kafkaCfg)
		defer producer.Close()
		publisher = messaging.NewKafkaEventPublisher(producer, cfg.Kafka.EventTopic)
	}

	// 8. 初始化应用服务
	builder := application.NewProposalBuilder(application.BuilderConfig{
		RiskPercentage:  decimal.NewFromFloat(cfg.Proposal.RiskPercentage),
		DefaultLeverage: cfg.Proposal.DefaultLeverage,
		MaxLeverage:     cfg.Proposal.MaxLeverage,
		PricePolicy:     application.ParsePricePolicy(cfg.Proposal.PricePolicy),
		EnforceExpiry:   cfg.Proposal.EnforceExpiry,
		Cascade:         decimal.NewFromFloat(cfg.Proposal.TakeProfitCascade),
	}, repo)
	orchestrator := application.NewExecutionOrchestrator(gateway, repo, locker, publisher, metricsInstance, cfg.Proposal.ExecutionTimeout).
		WithCleanupTimeout(cfg.Proposal.CleanupTimeout)
	svc := application.NewProposalService(application.ServiceConfig{
		QuoteAsset:   cfg.Proposal.QuoteAsset,
		PingAttempts: cfg.Proposal.PingAttempts,
		PingDelay:    cfg.Proposal.PingDelay,
	}, gateway, repo, builder, orchestrator, metricsInstance)

	// 9. 创建 HTTP 与 gRPC 服务器
	httpServer := createHTTPServer(cfg, svc, redisCache, metricsInstance)
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.GRPCLoggingInterceptor(),
			middleware.GRPCRecoveryInterceptor(),
		),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentStreams)),
	)
	healthServer := grpchandler.NewHealthServer(svc)
	healthServer.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)

	// 10. 启动 HTTP 服务器
	g.Go(func() error {
		logger.Info(gctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 11. 启动 gRPC 服务器
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on gRPC address: %w", err)
		}
		logger.Info(gctx, "Starting gRPC server", "addr", addr)
		return grpcServer.Serve(listener)
	})
	g.Go(func() error {
		return healthServer.Run(gctx, cfg.Proposal.HealthInterval)
	})

	// 12. 启动 Kafka 消费者
	if cfg.Kafka.Enabled {
		ingest := consumer.NewIngestHandler(svc)
		dlq := mq.NewDeadLetterQueue(producer, cfg.Kafka.DeadLetterTopic)
		signalConsumer := mq.NewConsumer(kafkaCfg, cfg.Kafka.SignalTopic)
		pulseConsumer := mq.NewConsumer(kafkaCfg, cfg.Kafka.PulseTopic)
		g.Go(func() error {
			return consumer.Run(gctx, signalConsumer, ingest.HandleSignal, dlq)
		})
		g.Go(func() error {
			return consumer.Run(gctx, pulseConsumer, ingest.HandlePulse, dlq)
		})
	}

	// 13. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "Shutting down ProposalEngine")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "HTTP server shutdown error", "error", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error(ctx, "Metrics server shutdown error", "error", err)
			}
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "ProposalEngine exited with error", "error", err)
	}
	logger.Info(ctx, "ProposalEngine stopped")
}

// newRepository 按 database.driver 选择仓储实现
func newRepository(ctx context.Context, cfg *config.Config, ids *utils.IDGenerator) (domain.ProposalRepository, func()) {
	if cfg.Database.Driver == "memory" {
		logger.Warn(ctx, "Using in-memory proposal store, proposals are lost on restart")
		return memory.NewProposalRepository(ids), func() {}
	}

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}
	if cfg.Database.AutoMigrate {
		if err := mysql.AutoMigrate(database); err != nil {
			logger.Fatal(ctx, "Failed to migrate database", "error", err)
		}
	}
	return mysql.NewProposalRepository(database, ids), func() {
		if err := database.Close(); err != nil {
			logger.Error(ctx, "Failed to close database", "error", err)
		}
	}
}

// createHTTPServer 创建 HTTP 服务器
// redisCache 非空时限流配额在实例间共享
func createHTTPServer(cfg *config.Config, svc *application.ProposalService, redisCache *cache.RedisCache, m *metrics.Metrics) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 添加中间件
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinMetricsMiddleware(m))
	if cfg.RateLimit.Enabled {
		var limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter()
		if redisCache != nil {
			limiter = ratelimit.NewRedisRateLimiter(redisCache.Client())
		}
		router.Use(middleware.RateLimitMiddleware(limiter, cfg.RateLimit))
	}

	// 注册路由
	httphandler.NewProposalHandler(svc).RegisterRoutes(router)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if !svc.Ready() {
			status = "degraded"
		}
		if redisCache != nil {
			if err := redisCache.Ping(c.Request.Context()); err != nil {
				logger.Warn(c.Request.Context(), "Redis health check failed", "error", err)
				status = "degraded"
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}
