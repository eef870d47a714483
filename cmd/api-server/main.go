package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/clock"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/meeting"
	"github.com/hackgods/clinic-booking/internal/memstore"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/observability/metrics"
	"github.com/hackgods/clinic-booking/internal/outbox"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/reminder"
	"github.com/hackgods/clinic-booking/internal/tz"
)

// storage groups the backends of one storage driver.
type storage struct {
	appointments appointment.Repository
	checker      interval.Checker
	rules        availability.Repository
	jobs         reminder.Store
	upcoming     reminder.Appointments
	tasks        outbox.Store
	contacts     notify.Directory
	pool         *pgxpool.Pool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageDriver),
		zap.String("booking_lock", cfg.BookingLock),
		zap.String("timezone", cfg.Timezone),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zone, err := tz.LoadZone(cfg.Timezone)
	if err != nil {
		logger.Fatal("load clinic timezone", zap.Error(err))
	}
	clk := clock.Real{}

	store, err := openStorage(rootCtx, cfg, clk)
	if err != nil {
		logger.Fatal("open storage", zap.Error(err))
	}
	if store.pool != nil {
		defer store.pool.Close()
		logger.Info("connected to Postgres")
	}

	locker := redisclient.Locker(redisclient.NoopLocker{})
	var rdb *redis.Client
	if cfg.BookingLock == config.LockModeRedis {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
		logger.Info("connected to Redis")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	dispatcher := outbox.NewDispatcher(store.tasks, logger.Named("outbox"), m).
		WithBatchSize(cfg.OutboxBatchSize).
		WithInterval(cfg.OutboxInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts).
		WithRate(cfg.SideEffectRate)

	appts := appointment.NewService(appointment.Deps{
		Repo:    store.appointments,
		Checker: store.checker,
		Locker:  locker,
		Tasks:   dispatcher,
		Clock:   clk,
		Zone:    zone,
		Metrics: m,
		Logger:  logger.Named("appointment"),
	}, cfg)

	var sender notify.EmailSender = notify.NewStubEmailSender(logger.Named("email"))
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger.Named("email")); sg != nil {
		sender = sg
	}
	notifier := notify.NewNotifier(sender, store.contacts, zone, logger.Named("notify"))

	sched := reminder.NewScheduler(store.jobs, store.upcoming, notifier, clk, reminder.Config{
		LeadTime:     cfg.ReminderLeadTime,
		SafetyMargin: cfg.ReminderSafetyMargin,
		SoonDelay:    cfg.ReminderSoonDelay,
	}, m, logger.Named("reminder"))
	defer sched.Stop()
	appts.SetReminders(sched)

	report, err := sched.Recover(rootCtx)
	if err != nil {
		logger.Fatal("reminder recovery failed", zap.Error(err))
	}
	logger.Info("reminders recovered", zap.Int("active", sched.ActiveCount()), zap.Int("created", report.Created))

	var meetings meeting.Client = meeting.Disabled{}
	if cfg.MeetingBaseURL != "" {
		meetings = meeting.NewLocalClient(cfg.MeetingBaseURL)
	}
	appointment.NewSideEffects(store.appointments, meetings, notifier, logger.Named("side_effects")).Register(dispatcher)
	go dispatcher.Start(rootCtx)

	avail := availability.NewService(store.rules, store.checker, availability.Options{
		Zone:        zone,
		Clock:       clk,
		DefaultSlot: cfg.DefaultSlotDuration,
		MaxWindow:   cfg.MaxAvailabilityWindow,
		Sweeper:     appts,
		Logger:      logger.Named("availability"),
	})

	routerCfg := api.RouterConfig{
		Appointments: appts,
		Availability: avail,
		Reminders:    sched,
		Zone:         zone,
		Redis:        rdb,
		Gatherer:     prometheus.DefaultGatherer,
		Logger:       logger.Named("http"),
		Env:          cfg.Env,
		Version:      cfg.Version,
	}
	if store.pool != nil {
		routerCfg.Postgres = store.pool
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
}

func openStorage(ctx context.Context, cfg config.Config, clk clock.Clock) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		mem := memstore.New(clk)
		return &storage{
			appointments: mem,
			checker:      mem,
			rules:        mem,
			jobs:         mem,
			upcoming:     mem,
			tasks:        mem,
			contacts:     mem,
		}, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		return nil, err
	}

	repo := appointment.NewPgRepository(pool)
	return &storage{
		appointments: repo,
		checker:      repo.Intervals(),
		rules:        availability.NewPgRepository(pool),
		jobs:         reminder.NewPgStore(pool),
		upcoming:     repo,
		tasks:        outbox.NewPgStore(pool).WithLease(cfg.OutboxLease),
		contacts:     notify.NewPgDirectory(pool),
		pool:         pool,
	}, nil
}
