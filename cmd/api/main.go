package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/credentials"
	"callbridge/internal/directory"
	"callbridge/internal/events"
	"callbridge/internal/httpapi"
	"callbridge/internal/observability"
	"callbridge/internal/push"
	"callbridge/internal/reporting"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	issuer, err := credentials.NewIssuer(cfg.Media)
	if err != nil {
		log.Error("credential issuer init failed", "err", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	st, err := openStores(rootCtx, cfg)
	if err != nil {
		log.Error("store init failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var revocations auth.Revocations
	if cfg.Revocation.Backend == config.BackendRedis {
		revocations = auth.NewRedisRevocations(rdb)
	} else {
		mem := auth.NewMemoryRevocations()
		metrics.TrackRevocations(mem.Len)
		go mem.Run(rootCtx, cfg.Revocation.SweepInterval, log)
		revocations = mem
	}

	var bus events.Bus
	if cfg.Events.Backend == config.BackendRedis {
		bus = events.NewRedisBus(rdb)
	} else {
		mem := events.NewMemoryBus()
		mem.OnDrop(func(topic string) { log.Warn("call event dropped for slow subscriber", "topic", topic) })
		defer mem.Close()
		bus = mem
	}

	dir := directory.NewService(st.directory)
	auditService := audit.NewService(st.audit)
	dispatcher := push.NewClient(cfg.Push, metrics)
	callService := calls.NewService(st.calls, dir, issuer, dispatcher).WithHooks(calls.Hooks{
		Events:   bus,
		Audit:    auditService,
		Observer: metrics,
	})

	h := httpapi.Handlers{
		Calls:       callService,
		Directory:   dir,
		Issuer:      issuer,
		Revocations: revocations,
		Reports:     reporting.NewService(reporting.NewCallsRepo(st.calls)),
		Audit:       auditService,
		Events:      bus,
		Upgrader:    httpapi.NewUpgrader(cfg.Events.AllowedOrigins),
		Metrics:     metrics,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())

	registerRoutes(r, h, auth.RequireAccessToken(authManager, revocations), st.db, metrics)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: call event websockets are long-lived and manage
		// their own write deadlines.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver,
			"revocation", cfg.Revocation.Backend, "events", cfg.Events.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

type stores struct {
	db        *sql.DB
	calls     calls.Repository
	directory directory.Repository
	audit     audit.Repository
}

// openStores selects the persistence backend. Postgres schemas are applied
// idempotently at startup.
func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		return stores{
			calls:     calls.NewMemoryRepo(),
			directory: directory.NewMemoryRepo(),
			audit:     audit.NewMemoryRepo(),
		}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return stores{}, err
	}
	var schema []string
	schema = append(schema, directory.Schema...)
	schema = append(schema, calls.Schema...)
	schema = append(schema, audit.Schema...)
	if err := utils.EnsureSchema(ctx, db, schema...); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		db:        db,
		calls:     calls.NewPostgresRepo(db),
		directory: directory.NewPostgresRepo(db),
		audit:     audit.NewPostgresRepo(db),
	}, nil
}
