package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/layer-3/warden/adapters/events"
	"github.com/layer-3/warden/adapters/store"
	"github.com/layer-3/warden/adapters/tokenizer"
	"github.com/layer-3/warden/config"
	"github.com/layer-3/warden/ports"
	"github.com/layer-3/warden/service"
	"github.com/layer-3/warden/signature"
	"github.com/layer-3/warden/transport/http"
	"github.com/redis/go-redis/v9"
)

// backend is the set of store ports every store adapter implements
type backend interface {
	ports.CounterStore
	ports.BlacklistStore
	ports.DeviceStore
	ports.ActivityLog
	ports.NonceStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := watermill.NewStdLogger(false, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signKey, err := cfg.SigningKey()
	if err != nil {
		log.Fatalf("Failed to load challenge signing key: %v", err)
	}
	if signKey == nil {
		logger.Info("CHALLENGE_SIGNING_KEY not set, generating an ephemeral key", nil)
		signKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			log.Fatalf("Failed to generate signing key: %v", err)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	var (
		stores backend
		ping   http.PingFunc
	)
	switch {
	case cfg.DatabaseURL != "":
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer db.Close()
		stores = store.NewPostgresStore(db)
		ping = db.PingContext
		logger.Info("Using Postgres store", nil)
	case redisClient != nil:
		redisStore := store.NewRedisStore(redisClient)
		stores = redisStore
		ping = redisStore.Ping
		logger.Info("Using Redis store", nil)
	default:
		memStore := store.NewMemoryStore()
		stores = memStore
		go pruneLoop(ctx, memStore, time.Minute)
		logger.Info("Using in-memory store, state is not shared between instances", nil)
	}

	var eventPub ports.EventPublisher
	if cfg.EventsEnabled && redisClient != nil {
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			logger,
		)
		if err != nil {
			log.Fatalf("Failed to create Redis publisher: %v", err)
		}
		defer publisher.Close()
		eventPub = events.NewWatermillPublisher(publisher, cfg.EventsTopic)
	}

	timeout := cfg.StoreTimeoutDuration()

	blacklist := service.NewBlacklist(stores, timeout, logger)
	activity := service.NewActivityScorer(stores, eventPub, timeout, logger)
	if cfg.AutoBlacklistScore > 0 {
		activity.AddPolicy(service.NewScoreBlacklistPolicy(
			stores,
			blacklist,
			cfg.AutoBlacklistScore,
			cfg.AutoBlacklistWindowDuration(),
			cfg.AutoBlacklistTTLDuration(),
			timeout,
		))
	}

	guardCfg := service.GuardConfig{}
	if cfg.BlacklistFailOpen {
		guardCfg.BlacklistFailPolicy = service.FailOpen
	}
	if cfg.RateLimitFailOpen {
		guardCfg.RateLimitFailPolicy = service.FailOpen
	}
	guard := service.NewGuard(
		blacklist,
		service.NewRateLimiter(stores, timeout),
		service.NewDeviceTracker(stores, timeout),
		activity,
		guardCfg,
		logger,
	)

	authService := service.NewAuthService(
		service.NewChallengeIssuer(cfg.ChallengeDomain, cfg.ChallengeTTLDuration()),
		tokenizer.NewJWTTokenizer(signKey),
		stores,
		signature.NewVerifier(logger),
		activity,
		timeout,
		logger,
	)

	router := http.SetupRouter(authService, guard, service.RateLimitRule{
		Limit:  cfg.AuthRateLimit,
		Window: cfg.AuthRateWindowDuration(),
	}, ping)

	srv := &nethttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", err, nil)
		}
	}()

	logger.Info("Starting HTTP server", watermill.LogFields{"addr": cfg.HTTPAddr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func pruneLoop(ctx context.Context, s *store.MemoryStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PruneExpired()
		}
	}
}
