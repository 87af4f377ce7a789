package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"gamechat/internal/auth"
	"gamechat/internal/chat"
	"gamechat/internal/config"
	"gamechat/internal/db"
	"gamechat/internal/log"
	myMiddleware "gamechat/internal/middleware"
	"gamechat/internal/ratelimit"
	"gamechat/internal/response"
	"gamechat/internal/user"
	"gamechat/internal/verification"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.L().Fatal().Err(err).Msg("failed to load config")
	}
	log.Init(cfg.Log)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Rate-limit store: Redis when configured, process memory otherwise
	var store ratelimit.Store
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		store = ratelimit.NewRedisStore(redisClient)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("rate limits shared through redis")
	} else {
		mem := ratelimit.NewMemoryStore()
		go sweepBuckets(ctx, mem)
		store = mem
		logger.Info().Msg("rate limits kept in memory")
	}

	// 3. Known-user directory (optional)
	var (
		directory auth.Directory
		userRepo  *user.Repository
	)
	if cfg.Database.DSN != "" {
		database, err := db.NewDatabase(cfg.Database.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.Close()

		if err := database.AutoMigrate(); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		userRepo = user.NewRepository(database.Conn)
		directory = userRepo
		logger.Info().Msg("known-user directory enabled")
	}

	// 4. Auth feature
	profiles := user.NewService(cfg.Profile.UsersBaseURL, cfg.Profile.ThumbnailsBaseURL, cfg.Profile.Timeout)
	sessions := verification.NewStore(cfg.Auth.SessionTTL)
	authService := auth.NewService(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		TokenTTL: cfg.Auth.TokenTTL,
		PlaceID:  cfg.Auth.VerificationPlaceID,
	}, profiles, sessions, auth.DefaultLimiters(store), directory)
	authHandler := auth.NewHandler(authService)

	secretGuard, err := myMiddleware.NewSecretGuard(cfg.Auth.VerificationSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare verification secret")
	}
	authMiddleware := myMiddleware.NewAuthMiddleware(authService)

	// 5. Chat feature
	defaults := chat.Limits{
		MaxMessageLength:  cfg.Chat.MaxMessageLength,
		RateLimitCount:    cfg.Chat.RateLimitCount,
		RateLimitWindowMs: cfg.Chat.RateLimitWindowMs,
	}
	limits := chat.NewLimitsResolver(defaults, cfg.Chat.LimitsOverrides, logger)
	hub := chat.NewHub(cfg.Chat.SubscriberBuffer)
	chatHandler := chat.NewHandler(chat.NewService(hub, limits, store))

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(log.HTTPMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{"status": "ok"})
	})
	r.Mount("/auth", authHandler.Routes(secretGuard.Handle))
	r.Mount("/chat", chatHandler.Routes(authMiddleware.Handle))

	if userRepo != nil {
		userHandler := user.NewHandler(userRepo)
		r.Route("/users", func(r chi.Router) {
			r.Use(authMiddleware.Handle)
			r.Get("/search", userHandler.SearchUsers)
			r.Get("/{id}", userHandler.GetUser)
		})
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	logger.Info().Str("addr", cfg.Server.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server stopped")
}

// sweepBuckets drops idle in-memory rate-limit buckets. The longest window
// in use is the hourly refresh limit.
func sweepBuckets(ctx context.Context, store *ratelimit.MemoryStore) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			store.Cleanup(now, time.Hour)
		}
	}
}
