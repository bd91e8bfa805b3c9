package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/feedbackhub/internal/accounts"
	"github.com/geocoder89/feedbackhub/internal/auth"
	"github.com/geocoder89/feedbackhub/internal/config"
	"github.com/geocoder89/feedbackhub/internal/db"
	"github.com/geocoder89/feedbackhub/internal/events"
	httpx "github.com/geocoder89/feedbackhub/internal/http"
	"github.com/geocoder89/feedbackhub/internal/http/handlers"
	"github.com/geocoder89/feedbackhub/internal/http/middlewares"
	"github.com/geocoder89/feedbackhub/internal/observability"
	"github.com/geocoder89/feedbackhub/internal/ratelimit"
	"github.com/geocoder89/feedbackhub/internal/reconcile"
	"github.com/geocoder89/feedbackhub/internal/redisclient"
	"github.com/geocoder89/feedbackhub/internal/repo/memory"
	"github.com/geocoder89/feedbackhub/internal/repo/postgres"
	"github.com/geocoder89/feedbackhub/internal/security"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	genSecret := flag.Bool("gen-secret", false, "print a random SECRET_KEY and exit")
	flag.Parse()

	if *genSecret {
		key, err := security.GenerateSecretKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate secret:", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	// Load the config set up; a bad signing key is fatal
	cfg, err := config.Load()

	log := observability.NewLogger(cfg.Env)

	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "err", err)
		shutdownTracer = func(context.Context) error { return nil }
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	// account store
	var (
		repo     accounts.Repository
		dbPinger handlers.Pinger
	)

	if cfg.UseMemoryStore() {
		log.Warn("DATABASE_URL not set, accounts are kept in memory (dev only)")
		repo = memory.NewAccountsRepo()
	} else {
		pool, err := db.NewPool(ctx, cfg.DBURL, 10)
		if err != nil {
			log.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := db.EnsureSchema(ctx, pool); err != nil {
			log.Error("database schema failed", "err", err)
			os.Exit(1)
		}

		pgRepo := postgres.NewAccountsRepo(pool, prom)
		repo = pgRepo
		dbPinger = pgRepo.Ping
	}

	// event sinks
	var pub events.Publisher = events.NewLogPublisher(log)
	if cfg.RabbitURL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.RabbitURL)
		if err != nil {
			log.Warn("rabbitmq unavailable, account events go to the log only", "err", err)
		} else {
			defer rabbit.Close()
			pub = events.Multi{pub, rabbit}
		}
	}

	// rate limiter window store
	var (
		store  ratelimit.Store = ratelimit.NewMemoryStore()
		checks []handlers.Check
	)
	if cfg.RedisAddr != "" {
		rc, err := redisclient.Connect(ctx, redisclient.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Warn("redis unavailable, rate limits are per instance", "err", err)
		} else {
			defer rc.Close()
			store = ratelimit.NewRedisStore(rc.Raw(), "feedbackhub:ratelimit:")
			checks = append(checks, handlers.Check{Name: "redis", Ping: rc.Ping})
		}
	}

	hasher := security.NewHasher(cfg.HashCost, cfg.HashWorkers, security.WithObserver(prom.ObserveHash))
	svc := accounts.NewService(repo, hasher, pub, log)

	tokens := auth.NewManager(security.StaticKey(cfg.SecretKey), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	tokens.OnIssued(prom.TokenIssued)

	reconciler := reconcile.New(cfg.AdminPolicy, svc, hasher, log)
	reconciler.OnOutcome(func(o reconcile.Outcome) { prom.ReconcileOutcome(string(o)) })

	if missing := cfg.MissingAdminVar(); missing != "" {
		log.Warn("admin reconciliation skipped, variable not set", "missing", missing)
	}

	adminInput := reconcile.Input{Email: cfg.AdminEmail, Password: cfg.AdminPassword, Role: cfg.AdminRole}

	// fire and forget: startup never waits on or fails because of the admin account
	reconciler.Launch(ctx, adminInput, cfg.AdminReconcileTimeout)

	dummyHash, err := hasher.Hash(ctx, uuid.NewString())
	if err != nil {
		log.Warn("could not precompute dummy hash", "err", err)
	}

	authHandler := handlers.NewAuthHandler(svc, hasher, tokens, log).
		WithBootstrap(reconciler, adminInput).
		WithDummyHash(dummyHash).
		OnLogin(prom.LoginAttempt)

	limiter := middlewares.NewRateLimiter(store, cfg.RateLimitWindow, log)
	limiter.OnLimited(prom.Limited)

	health := handlers.NewHealthHandler(dbPinger, checks...)

	router := httpx.NewRouter(httpx.RouterDeps{
		Log:         log,
		Env:         cfg.Env,
		Prom:        prom,
		Gatherer:    reg,
		Auth:        authHandler,
		Health:      health,
		Tokens:      tokens,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "admin_policy", string(cfg.AdminPolicy))
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("server shutting down")
	health.SetShuttingDown()

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", "err", err)
	}

	log.Info("shutdown complete")
}
