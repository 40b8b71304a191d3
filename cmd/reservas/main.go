package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reservas/internal/api"
	"reservas/internal/clock"
	"reservas/internal/config"
	"reservas/internal/database"
	"reservas/internal/events"
	"reservas/internal/health"
	"reservas/internal/metrics"
	"reservas/internal/mq"
	"reservas/internal/notify"
	"reservas/internal/payment"
	"reservas/internal/reconcile"
	"reservas/internal/repository"
	"reservas/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	exportPath := flag.String("export-reconciliation", "", "write orphaned and unknown payments to this XLSX file and exit")
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	_ = godotenv.Load(".env")

	cfg, err := config.Load(os.Getenv("RESERVAS_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *exportPath != "" {
		n, err := reconcile.ExportAttempts(ctx, db, *exportPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("reconciliation export failed")
		}
		logger.Info().Int("rows", n).Str("path", *exportPath).Msg("Reconciliation export written")
		return
	}

	if err := db.SyncCourts(ctx, cfg.CourtModels()); err != nil {
		logger.Fatal().Err(err).Msg("court catalog sync failed")
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	var limiter repository.RateLimiter = repository.NewMemoryRateLimiter()
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		limiter = repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(rdb), limiter, &logger)
	}

	gateway, err := newGateway(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment gateway setup failed")
	}

	bus := events.NewEventBus(&logger)
	startSubscribers(ctx, cfg, bus, &logger)

	clk := clock.System{}
	locks := service.NewLockService(db, limiter, clk, bus, service.LockConfig{
		DefaultTTL:    cfg.LockTTL(),
		MaxTTL:        cfg.MaxLockTTL(),
		AcquireLimit:  cfg.AcquireLimit(),
		AcquireWindow: cfg.AcquireWindow(),
	}, &logger)
	codes := service.NewCodeService(db, clk, &logger)
	orchestrator := service.NewOrchestrator(db, gateway, clk, bus, service.OrchestratorConfig{
		Currency:          cfg.Payment.Currency,
		PaymentTimeout:    cfg.PaymentTimeout(),
		SafetyMargin:      cfg.PaymentSafetyMargin(),
		CodePolicy:        cfg.Payment.CodePolicy,
		ReconcileAttempts: cfg.ReconcileAttempts(),
		ReconcileBackoff:  time.Second,
	}, &logger)

	backup := database.NewBackupService(db, database.BackupConfig{
		Enabled:       cfg.Backup.Enabled,
		Interval:      cfg.BackupInterval(),
		StoragePath:   cfg.Backup.Path,
		RetentionDays: cfg.Backup.RetentionDays,
	}, &logger)
	go backup.Start(ctx)

	go reconcile.NewWorker(locks, orchestrator, cfg.SweepInterval(), &logger).Run(ctx)

	checks := []health.Check{{Name: "sqlite", Required: true, Probe: db.PingContext}}
	if rdb != nil {
		checks = append(checks, health.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	monitor := health.NewMonitor(&logger, checks...)
	go monitor.Run(ctx, 15*time.Second)
	go func() {
		if err := monitor.Serve(ctx, fmt.Sprintf(":%d", cfg.Monitoring.GRPCHealthPort)); err != nil {
			logger.Error().Err(err).Msg("gRPC health server error")
		}
	}()

	if cfg.API.APIKey == "" {
		logger.Warn().Msg("api.api_key is empty; every API request will be rejected")
	}
	server := api.NewHTTPServer(api.Config{
		Address:        cfg.API.Address,
		APIKey:         cfg.API.APIKey,
		MetricsEnabled: cfg.Monitoring.PrometheusEnabled,
	}, locks, codes, orchestrator, monitor.Ready, &logger)
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("provider", cfg.Payment.Provider).Str("code_policy", cfg.Payment.CodePolicy).Msg("Reservation engine started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("HTTP server error")
	}
}

func newGateway(cfg *config.Config) (payment.Gateway, error) {
	var gw payment.Gateway
	switch cfg.Payment.Provider {
	case "omise":
		client, err := payment.NewOmise(cfg.Payment.PublicKey, cfg.Payment.SecretKey)
		if err != nil {
			return nil, err
		}
		gw = client
	default:
		gw = payment.NewSandbox()
	}
	return payment.NewLimited(gw, cfg.Payment.RatePerSecond, cfg.Payment.Burst), nil
}

// startSubscribers attaches the optional Telegram and AMQP event sinks.
func startSubscribers(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.ManagerChatIDs) > 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Error().Err(err).Msg("Telegram bot unavailable, manager notifications disabled")
		} else {
			n := notify.NewNotifier(bot, cfg.Telegram.ManagerChatIDs, notify.DefaultRetryConfig(), logger)
			n.Subscribe(bus)
			go n.Run(ctx)
		}
	}

	if cfg.AMQP.URL != "" {
		pub, err := mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			logger.Error().Err(err).Msg("RabbitMQ unavailable, event publishing disabled")
			return
		}
		pub.Subscribe(bus)
		go func() {
			pub.Run(ctx)
			_ = pub.Close()
		}()
	}
}
