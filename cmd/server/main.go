// Command server runs the audit workflow and notification backend: the HTTP
// API plus the background workers that drain the delivery queue.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bintocher/mgc-audits-backend/internal/identity"
	"github.com/bintocher/mgc-audits-backend/internal/notification"
	"github.com/bintocher/mgc-audits-backend/internal/notification/channel"
	notificationhandler "github.com/bintocher/mgc-audits-backend/internal/notification/handler"
	"github.com/bintocher/mgc-audits-backend/internal/platform/config"
	"github.com/bintocher/mgc-audits-backend/internal/platform/httpserver"
	"github.com/bintocher/mgc-audits-backend/internal/platform/logger"
	"github.com/bintocher/mgc-audits-backend/internal/platform/metrics"
	"github.com/bintocher/mgc-audits-backend/internal/platform/middleware"
	"github.com/bintocher/mgc-audits-backend/internal/platform/redisclient"
	"github.com/bintocher/mgc-audits-backend/internal/qualification"
	"github.com/bintocher/mgc-audits-backend/internal/token"
	"github.com/bintocher/mgc-audits-backend/internal/worker"
	"github.com/bintocher/mgc-audits-backend/internal/workflow"
	workflowhandler "github.com/bintocher/mgc-audits-backend/internal/workflow/handler"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if cfg.DatabaseURL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	cancelPing()

	m := metrics.New()

	// Redis backs Telegram account-link codes. Without it the link
	// endpoints report "not configured" but everything else runs.
	var linkStore identity.LinkStore
	redisClient, err := redisclient.New(cfg.Redis)
	if err != nil {
		log.Error("failed to configure redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		if err := redisClient.Ping(context.Background()); err != nil {
			log.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		linkStore = identity.NewRedisLinkStore(redisClient.Client, cfg.Telegram.LinkCodeTTL)
	}

	statusStore := workflow.NewPostgresStatusStore(db)
	transitionStore := workflow.NewPostgresTransitionStore(db)
	notificationStore := notification.NewPostgresStore(db)
	queueStore := notification.NewPostgresQueueStore(db)
	userStore := identity.NewPostgresStore(db)
	qualStore := qualification.NewPostgresStore(db)

	workflowSvc, err := workflow.New(statusStore, transitionStore,
		workflow.WithLogger(log), workflow.WithMetrics(m))
	if err != nil {
		log.Error("failed to build workflow service", "error", err)
		os.Exit(1)
	}
	notificationSvc, err := notification.NewService(notificationStore, queueStore, userStore,
		notification.WithLogger(log), notification.WithMetrics(m))
	if err != nil {
		log.Error("failed to build notification service", "error", err)
		os.Exit(1)
	}
	identitySvc, err := identity.New(userStore, linkStore, log)
	if err != nil {
		log.Error("failed to build identity service", "error", err)
		os.Exit(1)
	}

	tokenSvc := token.NewService(cfg.JWTSigningKey, "mgc-audits")

	emailWorker, err := worker.NewDeliveryWorker(
		channel.NewEmailSender(cfg.SMTP), queueStore, notificationStore, userStore,
		worker.DeliveryConfig{
			BatchSize:   cfg.Workers.BatchSize,
			SendTimeout: cfg.Workers.SendTimeout,
			Logger:      log,
			Metrics:     m,
		})
	if err != nil {
		log.Error("failed to build email worker", "error", err)
		os.Exit(1)
	}
	telegramWorker, err := worker.NewDeliveryWorker(
		channel.NewTelegramSender(cfg.Telegram.BotToken), queueStore, notificationStore, userStore,
		worker.DeliveryConfig{
			BatchSize:   cfg.Workers.BatchSize,
			SendTimeout: cfg.Workers.SendTimeout,
			Logger:      log,
			Metrics:     m,
		})
	if err != nil {
		log.Error("failed to build telegram worker", "error", err)
		os.Exit(1)
	}
	retrySweep, err := worker.NewRetrySweep(queueStore, notificationStore, log, m)
	if err != nil {
		log.Error("failed to build retry sweep", "error", err)
		os.Exit(1)
	}
	qualExpiry, err := worker.NewQualificationExpiry(qualStore, statusStore, log)
	if err != nil {
		log.Error("failed to build qualification expiry job", "error", err)
		os.Exit(1)
	}

	scheduler := worker.NewScheduler(log,
		worker.Job{
			Name:     "email_delivery",
			Interval: cfg.Workers.EmailInterval,
			Run: func(ctx context.Context) error {
				_, err := emailWorker.RunOnce(ctx)
				return err
			},
		},
		worker.Job{
			Name:     "telegram_delivery",
			Interval: cfg.Workers.TelegramInterval,
			Run: func(ctx context.Context) error {
				_, err := telegramWorker.RunOnce(ctx)
				return err
			},
		},
		worker.Job{
			Name:     "retry_sweep",
			Interval: cfg.Workers.RetrySweepInterval,
			Run: func(ctx context.Context) error {
				_, err := retrySweep.RunOnce(ctx)
				return err
			},
		},
		worker.Job{
			Name:     "qualification_expiry",
			Interval: cfg.Workers.QualificationInterval,
			Run: func(ctx context.Context) error {
				_, err := qualExpiry.RunOnce(ctx)
				return err
			},
		},
	)

	workflowHandler := workflowhandler.New(workflowSvc, identitySvc, log)
	notificationHandler := notificationhandler.New(notificationSvc, identitySvc, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(30 * time.Second))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	notificationHandler.RegisterBot(router)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokenSvc, log))
		workflowHandler.Register(r)
		notificationHandler.Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := scheduler.Start(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
