package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	jwttoken "mkcompany/internal/jwt_token"
	notificationhandler "mkcompany/internal/notification/handler"
	notificationservice "mkcompany/internal/notification/service"
	notificationstore "mkcompany/internal/notification/store"
	"mkcompany/internal/platform/config"
	"mkcompany/internal/platform/httpserver"
	"mkcompany/internal/platform/logger"
	"mkcompany/internal/platform/metrics"
	"mkcompany/internal/platform/middleware"
	"mkcompany/internal/platform/postgres"
	"mkcompany/internal/platform/redis"
	profilehandler "mkcompany/internal/profile/handler"
	profileservice "mkcompany/internal/profile/service"
	profilestore "mkcompany/internal/profile/store"
	"mkcompany/internal/realtime"
	reghandler "mkcompany/internal/registration/handler"
	regmetrics "mkcompany/internal/registration/metrics"
	regmodels "mkcompany/internal/registration/models"
	"mkcompany/internal/registration/session"
	regstore "mkcompany/internal/registration/store"
	"mkcompany/internal/registration/upload"
	reviewhandler "mkcompany/internal/review/handler"
	reviewmetrics "mkcompany/internal/review/metrics"
	reviewservice "mkcompany/internal/review/service"
	id "mkcompany/pkg/domain"
	audit "mkcompany/pkg/platform/audit"
	"mkcompany/pkg/platform/audit/forward"
	"mkcompany/pkg/platform/audit/kafka"
	"mkcompany/pkg/platform/audit/publisher"
	auditmemory "mkcompany/pkg/platform/audit/store/memory"
	auditpostgres "mkcompany/pkg/platform/audit/store/postgres"
	"mkcompany/pkg/platform/middleware/admin"
	"mkcompany/pkg/platform/middleware/auth"
	"mkcompany/pkg/platform/middleware/metadata"
	"mkcompany/pkg/platform/middleware/ratelimit"
	"mkcompany/pkg/platform/middleware/requesttime"
	txcontext "mkcompany/pkg/platform/tx"
)

const (
	rateLimitSweepPeriod = time.Minute
	kafkaPartitions      = 3
	kafkaReplication     = 1
)

// registrationStore is the union of what the wizard, the upload adapter and
// the back-office need from registration persistence.
type registrationStore interface {
	session.RegistrationStore
	upload.DocumentStore
	reviewservice.RegistrationStore
	ListJurisdictions(ctx context.Context) ([]regmodels.Jurisdiction, error)
}

// notificationStore backs both the notification service and the back-office
// list of sent notifications.
type notificationStore interface {
	notificationservice.Store
	reviewservice.NotificationLog
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger.New(cfg.Log.Level, cfg.Log.Format))
		},
	}
}

// deps holds the process-wide infrastructure chosen from configuration.
type deps struct {
	db       *sql.DB
	redis    *redis.Client
	notifier realtime.Publisher
	events   realtime.Subscriber
	bridge   *realtime.Bridge
	forward  *forward.Worker
	sink     *kafka.Sink
}

func (d *deps) close(log *slog.Logger) {
	if d.sink != nil {
		d.sink.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Warn("failed to close database", "error", err)
		}
	}
}

func openDeps(ctx context.Context, cfg *config.Config, log *slog.Logger) (*deps, error) {
	d := &deps{}
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		d.db = db
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis, log)
	if err != nil {
		d.close(log)
		return nil, err
	}
	d.redis = rc
	hub := realtime.NewHub()
	d.notifier, d.events = hub, hub
	if rc != nil {
		d.bridge = realtime.NewBridge(rc.Client, hub, realtime.WithBridgeLogger(log))
		d.notifier, d.events = d.bridge, d.bridge
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := kafka.NewSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			d.close(log)
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		if err := sink.EnsureTopic(ctx, kafkaPartitions, kafkaReplication); err != nil {
			log.Warn("failed to ensure admin action topic", "topic", cfg.Kafka.Topic, "error", err)
		}
		d.sink = sink
		d.forward = forward.NewWorker(sink,
			forward.WithLogger(log),
			forward.WithMetrics(forward.NewMetrics()),
		)
	}
	return d, nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.UsesDevSigningKey() {
		log.Warn("using the development JWT signing key")
	}
	d, err := openDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close(log)

	var (
		registrations registrationStore
		profiles      profileservice.Store
		auditStore    audit.Store
		notifications notificationStore
		runner        txcontext.Runner = txcontext.NoopRunner{}
	)
	if d.db != nil {
		registrations = regstore.NewPostgres(d.db)
		profiles = profilestore.NewPostgres(d.db)
		auditStore = auditpostgres.New(d.db)
		notifications = notificationstore.NewPostgres(d.db)
		runner = txcontext.SQLRunner{DB: d.db}
	} else {
		memProfiles := profilestore.NewInMemory()
		profiles = memProfiles
		registrations = regstore.NewInMemory(regstore.WithOwnerLookup(ownerLookup(memProfiles)))
		auditStore = auditmemory.NewInMemoryStore()
		notifications = notificationstore.NewInMemory()
	}

	objects, err := objectStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	publisherOpts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics()),
		publisher.WithOnStored(func(ctx context.Context, action audit.AdminAction) {
			d.notifier.Publish(ctx, realtime.ChangeEvent{
				Table: realtime.TableAdminActions,
				Kind:  realtime.KindInsert,
				RowID: action.ID.String(),
				At:    action.CreatedAt,
			})
		}),
	}
	if d.forward != nil {
		publisherOpts = append(publisherOpts, publisher.WithForwarder(d.forward))
	}
	auditor := publisher.New(auditStore, publisherOpts...)

	profileSvc := profileservice.New(profiles, auditor,
		profileservice.WithLogger(log),
		profileservice.WithNotifier(d.notifier),
		profileservice.WithTx(runner),
	)
	reviewSvc := reviewservice.New(registrations, profileSvc, auditor,
		reviewservice.WithLogger(log),
		reviewservice.WithMetrics(reviewmetrics.New()),
		reviewservice.WithNotifier(d.notifier),
		reviewservice.WithAuditLog(auditor),
		reviewservice.WithNotificationLog(notifications),
		reviewservice.WithTx(runner),
	)
	notificationSvc := notificationservice.New(notifications, profileSvc, auditor,
		notificationservice.WithLogger(log),
		notificationservice.WithNotifier(d.notifier),
		notificationservice.WithTx(runner),
	)

	wizardMetrics := regmetrics.New()
	adapter := upload.NewAdapter(objects, registrations, upload.NewChecker(cfg.Upload.MaxFileSize),
		upload.WithLogger(log),
		upload.WithMetrics(wizardMetrics),
	)
	var cache session.Cache = session.NewMemoryCache()
	if d.redis != nil {
		cache = session.NewRedisCache(d.redis.Client, cfg.Session.SnapshotTTL)
	}
	sessions := session.NewManager(registrations, adapter, cache,
		session.WithManagerLogger(log),
		session.WithManagerMetrics(wizardMetrics),
		session.WithManagerNotifier(d.notifier),
		session.WithWorkers(cfg.Upload.Workers),
		session.WithIdleEvict(cfg.Session.IdleEvict),
	)

	limiter := ratelimit.New(cfg.Upload.RatePerSecond, cfg.Upload.Burst, log)
	httpMetrics := metrics.New()
	validator := jwttoken.NewJWTServiceAdapter(
		jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(log))
	r.Use(middleware.LatencyMiddleware(httpMetrics))

	r.Get("/healthz", health(d))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		r.Use(admin.RequireAdminToken(cfg.Auth.OpsTokenHash, log))
		profilehandler.NewOpsHandler(profileSvc, log).Register(r)
	})

	notificationH := notificationhandler.New(notificationSvc, log)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(validator, log))
		r.Use(profilehandler.SyncProfile(profileSvc, log))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
			reghandler.New(sessions, registrations, log,
				reghandler.WithUploadLimit(limiter.Middleware),
				reghandler.WithMaxFileSize(cfg.Upload.MaxFileSize),
			).Register(r)
			notificationH.RegisterUser(r)
			profilehandler.NewMeHandler(profileSvc, log).Register(r)

			r.Group(func(r chi.Router) {
				r.Use(admin.RequireAdminRole(log))
				reviewhandler.New(reviewSvc, log).Register(r)
				notificationH.RegisterAdmin(r)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminRole(log))
			realtime.NewHandler(d.events, log, httpMetrics).Register(r)
		})
	})

	srv := httpserver.New(cfg.Server.Addr, r, cfg.Server.ReadHeaderTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting mkcompany", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info("server stopped")
		return nil
	})
	g.Go(func() error { return sessions.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(rateLimitSweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				limiter.Sweep(now)
			}
		}
	})
	if d.bridge != nil {
		g.Go(func() error { return d.bridge.Run(gctx) })
	}
	if d.forward != nil {
		g.Go(func() error { return d.forward.Run(gctx) })
	}
	return g.Wait()
}

func objectStore(ctx context.Context, cfg config.StorageConfig) (upload.ObjectStore, error) {
	if cfg.Backend != config.StorageBackendGCS {
		return upload.NewMemoryStore(), nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return upload.NewGCSStore(client, cfg.Bucket), nil
}

func ownerLookup(profiles *profilestore.InMemoryStore) regstore.OwnerLookup {
	return func(ctx context.Context, userID id.UserID) (*regmodels.Owner, bool) {
		p, err := profiles.FindByID(ctx, userID)
		if err != nil {
			return nil, false
		}
		return &regmodels.Owner{ID: p.ID, Email: p.Email, FullName: p.FullName, Status: string(p.Status)}, true
	}
}

func health(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if d.db != nil {
			if err := d.db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if d.redis != nil {
			if err := d.redis.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
