// Package runtime wires configuration, storage, services and the HTTP
// server into a runnable application.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/medplain/medplain/internal/config"
	"github.com/medplain/medplain/internal/httpapi"
	"github.com/medplain/medplain/internal/middleware"
	"github.com/medplain/medplain/internal/platform/migrations"
	"github.com/medplain/medplain/internal/services/auth"
	"github.com/medplain/medplain/internal/services/cases"
	"github.com/medplain/medplain/internal/services/documents"
	"github.com/medplain/medplain/internal/storage"
	"github.com/medplain/medplain/internal/storage/memory"
	"github.com/medplain/medplain/internal/storage/postgres"
	"github.com/medplain/medplain/internal/storage/rediscache"
	"github.com/medplain/medplain/internal/watsonx"
	"github.com/medplain/medplain/pkg/logger"
)

// stores groups the persistence interfaces the services consume.
type stores struct {
	users    storage.UserStore
	sessions storage.SessionStore
	cases    storage.CaseStore
	docs     storage.DocumentStore
	shares   storage.ShareStore
}

// Application owns every long-lived component and the server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	db         *sqlx.DB
	redis      *redis.Client
	auditSink  *httpapi.FileAuditSink
	sweeper    *cron.Cron
	// limiterStop ends the rate limiter's cleanup loop on shutdown.
	limiterStop chan struct{}

	Auth      *auth.Service
	Cases     *cases.Service
	Documents *documents.Service
}

// NewApplication builds the application from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New("medplain", logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	app := &Application{cfg: cfg, log: log}

	st, err := app.buildStores()
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	generator, err := app.buildGenerator()
	if err != nil {
		return nil, fmt.Errorf("configure watsonx: %w", err)
	}

	app.auditSink, err = httpapi.NewFileAuditSink(cfg.Audit.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	auditLog := httpapi.NewAuditLog(cfg.Audit.MaxEntries, app.auditSink)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL)
	app.Auth = auth.New(st.users, st.sessions, tokens, cfg.Auth.RefreshTTL, log.WithField("service", "auth"))
	app.Cases = cases.New(st.cases, st.docs, log.WithField("service", "cases"))
	app.Documents = documents.New(st.cases, st.docs, st.shares, generator,
		log.WithField("service", "documents")).WithAuditor(auditLog)

	var limiter *middleware.RateLimiter
	if cfg.Rate.RequestsPerSecond > 0 {
		limiter = middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst,
			log.WithField("component", "ratelimit"))
		app.limiterStop = make(chan struct{})
		limiter.StartCleanup(10*time.Minute, app.limiterStop)
	}

	router := httpapi.NewRouter(httpapi.Config{
		Auth:               app.Auth,
		Cases:              app.Cases,
		Documents:          app.Documents,
		Audit:              auditLog,
		Health:             app.healthCheck,
		Logger:             log.WithField("component", "httpapi"),
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimiter:        limiter,
	})

	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := app.startSweeper(); err != nil {
		return nil, fmt.Errorf("start retention sweeper: %w", err)
	}

	return app, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the server and closes every resource.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.limiterStop != nil {
		close(a.limiterStop)
		a.limiterStop = nil
	}
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if err := a.auditSink.Close(); err != nil {
		a.log.WithError(err).Warn("error closing audit log")
	}
	return nil
}

// buildStores opens PostgreSQL when a DSN is configured and falls back to
// the in-memory store otherwise. Sessions are wrapped with the Redis cache
// when an address is configured.
func (a *Application) buildStores() (stores, error) {
	var st stores

	if a.cfg.Database.DSN == "" {
		a.log.Warn("no database configured, using in-memory storage")
		mem := memory.New()
		st = stores{users: mem, sessions: mem, cases: mem, docs: mem, shares: mem}
	} else {
		db, err := a.openDatabase()
		if err != nil {
			return stores{}, err
		}
		a.db = db

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := migrations.Apply(ctx, db.DB); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("apply migrations: %w", err)
		}

		pg := postgres.New(db)
		st = stores{users: pg, sessions: pg, cases: pg, docs: pg, shares: pg}
	}

	if a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return stores{}, fmt.Errorf("ping redis: %w", err)
		}
		a.redis = client
		st.sessions = rediscache.New(st.sessions, client, a.log.WithField("component", "rediscache"))
	}

	return st, nil
}

func (a *Application) openDatabase() (*sqlx.DB, error) {
	db, err := sqlx.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	if a.cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(a.cfg.Database.MaxOpenConns)
	}
	if a.cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(a.cfg.Database.MaxIdleConns)
	}
	if a.cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(a.cfg.Database.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildGenerator returns the WatsonX client, or the canned mock when no API
// key is configured so the review workflow stays usable in development.
func (a *Application) buildGenerator() (watsonx.Generator, error) {
	if a.cfg.WatsonX.APIKey == "" {
		a.log.Warn("no watsonx credentials configured, using mock generator")
		return &watsonx.MockGenerator{}, nil
	}
	return watsonx.NewClient(watsonx.Config{
		APIKey:    a.cfg.WatsonX.APIKey,
		ProjectID: a.cfg.WatsonX.ProjectID,
		ModelID:   a.cfg.WatsonX.ModelID,
		BaseURL:   a.cfg.WatsonX.BaseURL,
		IAMURL:    a.cfg.WatsonX.IAMURL,
		Timeout:   a.cfg.WatsonX.Timeout,
	}, a.log.WithField("component", "watsonx"))
}

// startSweeper schedules hourly cleanup of expired sessions and share links.
func (a *Application) startSweeper() error {
	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if n, err := a.Auth.PurgeExpiredSessions(ctx); err != nil {
			a.log.WithError(err).Warn("session sweep failed")
		} else if n > 0 {
			a.log.WithField("removed", n).Info("expired sessions removed")
		}

		if n, err := a.Documents.PurgeExpiredShareLinks(ctx); err != nil {
			a.log.WithError(err).Warn("share link sweep failed")
		} else if n > 0 {
			a.log.WithField("removed", n).Info("expired share links removed")
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	a.sweeper = c
	return nil
}

func (a *Application) healthCheck() error {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
