// Package app assembles the Cloudidada server from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/cloudidada/internal/auth"
	"github.com/prn-tf/cloudidada/internal/config"
	"github.com/prn-tf/cloudidada/internal/handler"
	"github.com/prn-tf/cloudidada/internal/lock"
	"github.com/prn-tf/cloudidada/internal/metrics"
	"github.com/prn-tf/cloudidada/internal/notify"
	"github.com/prn-tf/cloudidada/internal/objectstore"
	"github.com/prn-tf/cloudidada/internal/service"
	"github.com/prn-tf/cloudidada/internal/store"
	"github.com/prn-tf/cloudidada/internal/store/memory"
	"github.com/prn-tf/cloudidada/internal/store/mongodb"
	"github.com/prn-tf/cloudidada/internal/store/postgres"
	"github.com/prn-tf/cloudidada/internal/store/sqlite"
)

// App holds the wired components of a running server.
type App struct {
	Config    *config.Config
	Store     *store.FallbackingStore
	Users     *service.UserService
	Files     *service.FileService
	Provision *service.ProvisionService
	Uploader  objectstore.Uploader
	Locker    lock.Locker
	Sink      notify.Sink
	Metrics   *metrics.Metrics

	logger  zerolog.Logger
	handler http.Handler
	closers []func() error
}

// remote is an opened remote store.
type remote struct {
	primary     store.PrimaryStore
	provisioner store.Provisioner
	close       func() error
}

// New builds every component from cfg. Remote store and object store
// failures that can be absorbed are logged and the app runs degraded.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		logger:  logger.With().Str("component", "app").Logger(),
	}

	r := a.openRemote(ctx)
	if r.close != nil {
		a.closers = append(a.closers, r.close)
	}
	a.Store = store.NewFallbackingStore(r.primary, memory.New(), store.Options{
		Metrics: a.Metrics,
		Logger:  logger,
	})

	uploader, err := a.openUploader(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Uploader = uploader

	a.Locker, a.Sink = a.openRedis()

	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiration, cfg.Auth.JWTIssuer)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	activities := service.NewActivityRecorder(a.Store, logger)
	a.Users = service.NewUserService(a.Store, tokens, activities, a.Locker, service.UserConfig{
		APIKeyPrefix:    cfg.Auth.APIKeyPrefix,
		APIKeyMinLength: cfg.Auth.APIKeyMinLength,
		AutoProvision:   cfg.Auth.AutoProvision,
		AutoEmailDomain: cfg.Auth.AutoEmailDomain,
	}, logger)
	a.Files = service.NewFileService(a.Store, a.Uploader, a.Sink, activities, a.Metrics, service.FileConfig{
		AllowedMimeTypes: cfg.Deployment.AllowedMimeTypes,
		MaxUploadBytes:   cfg.Deployment.MaxUploadBytes,
		DefaultFolder:    cfg.ObjectStore.DefaultFolder,
	}, logger)
	a.Provision = service.NewProvisionService(a.Store, r.provisioner, a.Locker, logger)

	a.handler = a.buildHandler(logger)
	return a, nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Probe checks the remote store once, bounded by database.probe_timeout.
// A failure trips the breaker.
func (a *App) Probe(ctx context.Context) {
	if t := a.Config.Database.ProbeTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	_ = a.Store.Probe(ctx)
}

// Start probes the remote store and seeds users. It never fails on an
// unreachable remote store; the breaker absorbs that.
func (a *App) Start(ctx context.Context) error {
	a.Probe(ctx)

	if !a.Store.RemoteUsable() {
		a.logger.Warn().
			Str("provider", a.Store.RemoteName()).
			Str("reason", a.Store.Breaker().Reason()).
			Msg("running on memory storage only")
	}

	demoKey, err := a.Seed(ctx)
	if err != nil {
		return err
	}
	if demoKey != "" {
		a.logger.Info().Str("api_key", demoKey).Msg("demo API key")
	}
	return nil
}

// Seed creates the demo user and the configured seed users.
func (a *App) Seed(ctx context.Context) (string, error) {
	users := make([]service.SeedUser, 0, len(a.Config.Seed.Users))
	for _, u := range a.Config.Seed.Users {
		users = append(users, service.SeedUser{
			ID:       u.ID,
			UserName: u.UserName,
			Email:    u.Email,
			APIKey:   u.APIKey,
		})
	}
	return a.Users.Seed(ctx, service.SeedInput{
		DemoUser: a.Config.Seed.DemoUser,
		Users:    users,
	})
}

// Close releases every opened connection.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openRemote(ctx context.Context) remote {
	db := a.Config.Database
	log := a.logger.With().Str("driver", db.Driver).Logger()

	switch db.Driver {
	case config.DriverMongoDB:
		s, err := mongodb.Connect(ctx, mongodb.Config{
			URI:                db.Mongo.URI,
			Database:           db.Mongo.Database,
			Timeout:            db.Mongo.Timeout,
			RequireProvisioned: db.Mongo.RequireProvisioned,
		}, a.logger)
		if err != nil {
			log.Error().Err(err).Msg("failed to create remote store client")
			return remote{}
		}
		return remote{primary: s, provisioner: s, close: s.Close}

	case config.DriverPostgres:
		pool, err := postgres.NewDB(ctx, postgres.Config{
			DSN:             db.Postgres.DSN(),
			MaxConns:        db.Postgres.MaxConns,
			MinConns:        db.Postgres.MinConns,
			ConnMaxLifetime: db.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: db.Postgres.ConnMaxIdleTime,
			ConnectTimeout:  db.Postgres.ConnectTimeout,
		}, a.logger)
		if err != nil {
			log.Error().Err(err).Msg("failed to create remote store pool")
			return remote{}
		}
		s := postgres.NewStore(pool, a.logger)
		return remote{primary: s, provisioner: s, close: s.Close}

	case config.DriverSQLite:
		conn, err := sqlite.NewDB(ctx, sqlite.Config{
			Path:            db.SQLite.Path,
			MaxOpenConns:    1,
			JournalMode:     db.SQLite.JournalMode,
			BusyTimeout:     db.SQLite.BusyTimeout,
			SynchronousMode: db.SQLite.SynchronousMode,
		}, a.logger)
		if err != nil {
			log.Error().Err(err).Msg("failed to open remote store database")
			return remote{}
		}
		s := sqlite.NewStore(conn, a.logger)
		return remote{primary: s, provisioner: s, close: s.Close}
	}

	log.Info().Msg("no remote store configured")
	return remote{}
}

func (a *App) openUploader(ctx context.Context) (objectstore.Uploader, error) {
	cfg := a.Config
	var disk *objectstore.Disk
	if !cfg.Deployment.IsServerless() {
		disk = objectstore.NewDisk(cfg.Deployment.UploadsDir, cfg.Deployment.PublicBaseURL, a.logger)
	}

	var (
		primary objectstore.Uploader
		err     error
	)
	switch cfg.ObjectStore.Backend {
	case config.BackendS3:
		s3 := cfg.ObjectStore.S3
		primary, err = objectstore.NewS3Uploader(ctx, objectstore.S3Config{
			Bucket:          s3.Bucket,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			UsePathStyle:    s3.UsePathStyle,
			PublicBaseURL:   s3.PublicBaseURL,
		}, a.logger)
	case config.BackendB2:
		b2 := cfg.ObjectStore.B2
		primary, err = objectstore.NewB2Uploader(ctx, objectstore.B2Config{
			KeyID:          b2.KeyID,
			ApplicationKey: b2.ApplicationKey,
			Bucket:         b2.Bucket,
		}, a.logger)
	case config.BackendLocal:
		if disk == nil {
			return nil, fmt.Errorf("local object store requires persistent mode")
		}
		return disk, nil
	default:
		return nil, fmt.Errorf("unknown object store backend %q", cfg.ObjectStore.Backend)
	}

	if err != nil {
		if disk == nil {
			return nil, fmt.Errorf("failed to initialize object store: %w", err)
		}
		a.logger.Error().Err(err).Str("backend", cfg.ObjectStore.Backend).Msg("object store unavailable, storing uploads on disk")
		return disk, nil
	}
	if disk == nil {
		return primary, nil
	}
	return objectstore.NewFallback(primary, disk, a.logger), nil
}

// openRedis returns the locker and notification sink. Without redis the
// locker is process-local and events are dropped; in serverless mode no
// events are published.
func (a *App) openRedis() (lock.Locker, notify.Sink) {
	rc := a.Config.Redis
	if !rc.Enabled {
		return lock.NewMemoryLocker(), notify.Nop{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:        rc.Addr(),
		Password:    rc.Password,
		DB:          rc.DB,
		PoolSize:    rc.PoolSize,
		DialTimeout: rc.DialTimeout,
	})
	a.closers = append(a.closers, client.Close)

	a.logger.Info().Str("addr", rc.Addr()).Msg("redis configured")

	if a.Config.Deployment.IsServerless() {
		return lock.NewRedisLocker(client), notify.Nop{}
	}
	return lock.NewRedisLocker(client), notify.NewRedisSink(client, rc.ChannelPrefix, 2*time.Second, a.logger)
}

func (a *App) buildHandler(logger zerolog.Logger) http.Handler {
	cfg := a.Config
	production := cfg.Server.IsProduction()

	_, realtime := a.Sink.(*notify.RedisSink)
	environment := cfg.Server.Environment
	if cfg.Deployment.IsServerless() {
		environment = config.ModeServerless
	}

	status := &handler.Status{
		Store:       a.Store,
		ObjectStore: a.Uploader.Name(),
		Realtime:    realtime,
		Environment: environment,
	}

	uploadsDir := ""
	if !cfg.Deployment.IsServerless() {
		uploadsDir = cfg.Deployment.UploadsDir
	}

	return handler.NewRouter(handler.RouterConfig{
		Health:    handler.NewHealthHandler(status),
		Provision: handler.NewProvisionHandler(a.Provision),
		Users:     handler.NewUserHandler(a.Users, status, production, logger),
		Files: handler.NewFileHandler(a.Files, handler.FileConfig{
			MaxUploadBytes: cfg.Deployment.MaxUploadBytes,
			Serverless:     cfg.Deployment.IsServerless(),
			TempDir:        cfg.Deployment.TempDir,
		}, production, logger),
		Resolver:   a.Users,
		UploadsDir: uploadsDir,
		Metrics:    a.Metrics,
		Production: production,
		Logger:     logger,
	}).Handler()
}
