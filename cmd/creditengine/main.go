package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	approvalapp "github.com/consigfacil/creditengine/internal/approval/application"
	approvalmysql "github.com/consigfacil/creditengine/internal/approval/infrastructure/persistence/mysql"
	approvalhttp "github.com/consigfacil/creditengine/internal/approval/interfaces/http"
	calcapp "github.com/consigfacil/creditengine/internal/calculation/application"
	calcmysql "github.com/consigfacil/creditengine/internal/calculation/infrastructure/persistence/mysql"
	calchttp "github.com/consigfacil/creditengine/internal/calculation/interfaces/http"
	proposalapp "github.com/consigfacil/creditengine/internal/proposal/application"
	proposaldomain "github.com/consigfacil/creditengine/internal/proposal/domain"
	"github.com/consigfacil/creditengine/internal/proposal/infrastructure/lock"
	"github.com/consigfacil/creditengine/internal/proposal/infrastructure/messaging"
	proposalmysql "github.com/consigfacil/creditengine/internal/proposal/infrastructure/persistence/mysql"
	proposalhttp "github.com/consigfacil/creditengine/internal/proposal/interfaces/http"
	scoringapp "github.com/consigfacil/creditengine/internal/scoring/application"
	scoringclient "github.com/consigfacil/creditengine/internal/scoring/infrastructure/client"
	scoringmysql "github.com/consigfacil/creditengine/internal/scoring/infrastructure/persistence/mysql"
	scoringhttp "github.com/consigfacil/creditengine/internal/scoring/interfaces/http"
	"github.com/consigfacil/creditengine/pkg/cache"
	"github.com/consigfacil/creditengine/pkg/config"
	"github.com/consigfacil/creditengine/pkg/db"
	"github.com/consigfacil/creditengine/pkg/logger"
	"github.com/consigfacil/creditengine/pkg/metrics"
	"github.com/consigfacil/creditengine/pkg/middleware"
	"github.com/consigfacil/creditengine/pkg/mq"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config file")
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Logger
	if err := logger.Init(cfg.Logger); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	slogger := logger.Get()

	// 3. Database
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
		log.Fatalf("failed to init database: %v", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&proposalmysql.ProposalModel{},
		&proposalmysql.InstallmentModel{},
		&proposalmysql.AuditLogModel{},
		&messaging.OutboxMessage{},
		&scoringmysql.FraudScoreModel{},
		&scoringmysql.ClientLearningModel{},
		&approvalmysql.ApprovalRequestModel{},
		&calcmysql.ConvenioModel{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// 4. Metrics
	m, registry := metrics.New(cfg.ServiceName)

	// 5. Proposal lock: redis when available, in-process otherwise.
	var locker proposaldomain.ProposalLocker
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(cache.Config{
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
			log.Fatalf("failed to init redis: %v", err)
		}
		defer redisCache.Close()
		locker = lock.NewRedisLocker(redisCache, 30*time.Second)
	} else {
		locker = lock.NewMemoryLocker()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Outbox relay
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			log.Fatalf("failed to init kafka producer: %v", err)
		}
		defer producer.Close()

		relay := messaging.NewRelay(database.DB, producer, cfg.Kafka.ProposalTopic, cfg.Kafka.AuditTopic, time.Second, m)
		go relay.Run(ctx)
	}

	// 7. Layers
	convenios := calcmysql.NewConvenioRepo(database.DB)
	calcService := calcapp.NewCalculationService(convenios, m, slogger)

	scoringService := scoringapp.NewScoringService(
		scoringmysql.NewScoreRepo(database.DB),
		scoringmysql.NewHistoryRepo(database.DB),
		scoringmysql.NewLearningRepo(database.DB),
		scoringclient.NewBureauClient(cfg.Engine.BureauURL),
		scoringclient.NewRegistryClient(cfg.Engine.RegistryURL),
		scoringclient.NewBankClient(cfg.Engine.BankURL),
		time.Duration(cfg.Engine.VerificationTimeout)*time.Second,
		m,
		slogger,
	)

	approvalService := approvalapp.NewApprovalService(
		approvalmysql.NewApprovalRepo(database.DB),
		cfg.Engine.SensitiveRules,
		m,
		slogger,
	)

	highValue, err := decimal.NewFromString(cfg.Engine.HighValueThreshold)
	if err != nil {
		log.Fatalf("invalid high_value_threshold %q: %v", cfg.Engine.HighValueThreshold, err)
	}

	proposalService := proposalapp.NewProposalService(proposalapp.ProposalServiceDeps{
		Repo:               proposalmysql.NewProposalRepo(database.DB),
		Tx:                 proposalmysql.NewTxManager(database),
		Locker:             locker,
		Calc:               calcService,
		Scoring:            scoringService,
		Approval:           approvalService,
		AutoApproveFloor:   cfg.Engine.AutoApproveMinOps,
		HighValueThreshold: highValue,
		Metrics:            m,
		Logger:             slogger,
	})

	// 8. HTTP server
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.AccessLog(), middleware.Recovery(), middleware.Observe(m))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, metrics.Handler(registry))
	}

	api := router.Group("/api/v1")
	proposalhttp.NewHandler(proposalService).RegisterRoutes(api)
	scoringhttp.NewHandler(scoringService).RegisterRoutes(api)
	calchttp.NewHandler(calcService).RegisterRoutes(api)
	approvalhttp.NewHandler(approvalService).RegisterRoutes(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		slogger.Info("server started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to serve: %v", err)
		}
	}()

	// 9. Graceful shutdown
	<-ctx.Done()
	slogger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	slogger.Info("server stopped")
}
