// Command alertengine runs the full alert pipeline: the HTTP
// ingestion/rule-authoring surface, the rule evaluator, and the
// notification dispatcher, wired together behind a redis-backed
// orchestrator.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/spendmonitor/alertengine/internal/config"
	"github.com/spendmonitor/alertengine/internal/database"
	"github.com/spendmonitor/alertengine/internal/httpapi"
	"github.com/spendmonitor/alertengine/internal/notifyadapter"
	"github.com/spendmonitor/alertengine/pkg/ai/llm"
	"github.com/spendmonitor/alertengine/pkg/datastorage/repository"
	"github.com/spendmonitor/alertengine/pkg/domain"
	"github.com/spendmonitor/alertengine/pkg/evaluator"
	"github.com/spendmonitor/alertengine/pkg/notification/delivery"
	"github.com/spendmonitor/alertengine/pkg/orchestration/adaptive"
	"github.com/spendmonitor/alertengine/pkg/orchestration/dependency"
	"github.com/spendmonitor/alertengine/pkg/rulecompiler"
	"github.com/spendmonitor/alertengine/pkg/storage/vector"
	"github.com/spendmonitor/alertengine/pkg/telemetry"
)

func main() {
	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := newLogrus(cfg.Logging)

	shutdownTelemetry := telemetry.Init()
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.WithError(err).Warn("failed to shut down tracing")
		}
	}()
	zapLog, err := zap.NewProduction()
	if err != nil {
		log.WithError(err).Fatal("failed to build structured logger")
	}
	defer zapLog.Sync() //nolint:errcheck

	dbConfig := database.DefaultConfig()
	dbConfig.LoadFromEnv()
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(context.Background(), db); err != nil {
		log.WithError(err).Fatal("failed to apply database migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	transactions := repository.NewTransactionRepository(db, zapLog)
	users := repository.NewUserRepository(db, zapLog)
	rules := repository.NewRuleRepository(db, zapLog)
	notifications := repository.NewAlertNotificationRepository(db, zapLog)
	sqlExecutor := repository.NewSQLExecutor(db, zapLog)

	vectorFactory := vector.NewVectorDatabaseFactory(&cfg.VectorDB, db, log)
	vectorDB, err := vectorFactory.CreateVectorDatabase()
	if err != nil {
		log.WithError(err).Fatal("failed to initialize vector database")
	}
	embeddingService, err := vectorFactory.CreateEmbeddingService()
	if err != nil {
		log.WithError(err).Fatal("failed to initialize embedding service")
	}

	llmClient, err := llm.NewClient(cfg.LLM, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize LLM client")
	}

	grounder := rulecompiler.NewDefaultGrounder(nil, embeddingService, users)
	compiler := rulecompiler.NewCompiler(
		llmClient,
		grounder,
		notifyadapter.NewCompilerSQLRunner(sqlExecutor),
		vectorDB,
		embeddingService,
		rules,
		thresholdsFromConfig(cfg.Compiler),
		log,
	)

	cfgWatcher, err := config.NewWatcher(cfgPath, log, func(reloaded *config.Config) {
		compiler.SetThresholds(thresholdsFromConfig(reloaded.Compiler))
	})
	if err != nil {
		log.WithError(err).Warn("config hot-reload disabled")
	}

	ruleEvaluator := evaluator.New(
		transactions,
		users,
		rules,
		notifications,
		notifyadapter.NewEvaluatorSQLRunner(sqlExecutor),
		nil,
		"USD",
		log,
	)

	channels := buildChannels(cfg, db, users, log)
	breakers := buildBreakers(channels)

	evalQueue := adaptive.NewFairQueue(redisClient, "eval", cfg.Orchestration.EvalQueueMax)
	dispatchQueue := adaptive.NewFairQueue(redisClient, "dispatch", 0)

	orchestrator := adaptive.New(
		adaptive.Config{
			EvalWorkers:     cfg.Orchestration.EvalWorkers,
			DispatchWorkers: cfg.Orchestration.DispatchWorkers,
			EvalQueueMax:    cfg.Orchestration.EvalQueueMax,
			DrainTimeout:    cfg.Orchestration.DrainTimeout,
		},
		transactions,
		ruleEvaluator,
		notifications,
		channels,
		breakers,
		evalQueue, dispatchQueue,
		log,
	)

	handlers := httpapi.NewHandlers(orchestrator, compiler, rules, users, log).
		WithNotificationHistory(notifications)
	router := httpapi.NewRouter(handlers, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	orchestratorCtx, cancelOrchestrator := context.WithCancel(context.Background())
	go orchestrator.Run(orchestratorCtx)

	if cfgWatcher != nil {
		go cfgWatcher.Run(orchestratorCtx)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.WithField("addr", srv.Addr).Info("alert engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-done
	log.Info("shutdown signal received")

	cancelOrchestrator()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Orchestration.DrainTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful http shutdown failed")
	} else {
		log.Info("alert engine stopped gracefully")
	}
}

// buildChannels wires a delivery.Service for every channel this
// deployment has credentials for; channels without configuration
// (e.g. no SMTP host) are simply absent from the map, and the
// orchestrator marks their notifications FAILED rather than blocking
// dispatch on a channel that isn't set up.
func buildChannels(cfg *config.Config, db *sql.DB, users *repository.UserRepository, log *logrus.Logger) map[domain.Channel]delivery.Service {
	channels := make(map[domain.Channel]delivery.Service)

	if cfg.SMTP.Host != "" {
		recipients := notifyadapter.NewUserContactLookup(users)
		channels[domain.ChannelEmail] = delivery.NewEmailDeliveryService(
			delivery.SMTPConfig{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
				From:     cfg.SMTP.From,
			},
			recipients,
		)
	}

	destinations := notifyadapter.NewWebhookDestinationTable(db)
	channels[domain.ChannelWebhook] = delivery.NewWebhookDeliveryService(destinations)
	channels[domain.ChannelSlack] = delivery.NewSlackDeliveryService(destinations)

	return channels
}

// buildBreakers wraps every configured channel's delivery with an
// independent circuit breaker, so a failing downstream only degrades
// its own channel.
func buildBreakers(channels map[domain.Channel]delivery.Service) map[domain.Channel]*dependency.CircuitBreaker {
	breakers := make(map[domain.Channel]*dependency.CircuitBreaker, len(channels))
	for ch := range channels {
		breakers[ch] = dependency.NewCircuitBreaker(string(ch), 0.5, 30*time.Second)
	}
	return breakers
}

// thresholdsFromConfig maps the config file's compiler section onto the
// rulecompiler.Thresholds the compiler actually consumes, falling back
// to the documented defaults for a zero-value section (e.g. a config
// file predating the compiler block).
func thresholdsFromConfig(cfg config.CompilerConfig) rulecompiler.Thresholds {
	t := rulecompiler.DefaultThresholds
	if cfg.MinConfidence > 0 {
		t.MinConfidence = cfg.MinConfidence
	}
	if cfg.DupSimilarityThreshold > 0 {
		t.DuplicateSimilarity = cfg.DupSimilarityThreshold
	}
	return t
}

func newLogrus(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()

	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return log
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
