package main

import (
	"context"
	"errors"
	"fmt"
	"go-dm/internal/chat"
	"go-dm/internal/config"
	"go-dm/internal/db"
	myMiddleware "go-dm/internal/middleware"
	"go-dm/internal/upload"
	"go-dm/internal/user"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := cfg.Logger()
	if cfg.DBDSN == "" {
		return errors.New("DB_DSN is not set")
	}

	database, err := db.NewDatabase(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	log.Info("Database schema initialized")
	return nil
}

func runServe(ctx context.Context, addr string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	log := cfg.Logger()

	// 1. Identity database. Optional with the badger driver: without it the
	// user routes are disabled and history carries raw ids.
	var database *db.Database
	if cfg.DBDSN != "" {
		database, err = db.NewDatabase(ctx, cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("connect to DB: %w", err)
		}
		defer database.Close()
		log.Info("Connected to PostgreSQL")

		if err := database.AutoMigrate(ctx); err != nil {
			return err
		}
	}

	// 2. Message store
	var store chat.MessageStore
	switch cfg.StoreDriver {
	case config.DriverBadger:
		bdb, err := db.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return fmt.Errorf("open badger: %w", err)
		}
		defer bdb.Close()
		badgerStore, err := chat.NewBadgerStore(bdb, log)
		if err != nil {
			return err
		}
		defer badgerStore.Close()
		store = badgerStore
		log.Info("Using embedded message store", "path", cfg.BadgerPath)
	default:
		store = chat.NewRepository(database.Conn)
	}

	// 3. Identity collaborator. Token validation only needs the shared secret.
	var (
		userRepo user.Store
		profiles chat.ProfileResolver
	)
	if database != nil {
		userRepo = user.NewRepository(database.Conn)
	}
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	if userRepo != nil {
		profiles = chat.ProfileResolverFunc(func(ctx context.Context, ids []string) (map[string]chat.Profile, error) {
			users, err := userService.Profiles(ctx, ids)
			if err != nil {
				return nil, err
			}
			out := make(map[string]chat.Profile, len(users))
			for id, u := range users {
				out[id] = chat.Profile{ID: u.ID, FullName: u.FullName, Image: u.Image}
			}
			return out, nil
		})
	}

	// 4. Presence + routing, across instances when Redis is configured
	presence := chat.NewPresence(cfg.PresenceShards)
	local := chat.NewLocalRouter(presence, log)
	var router chat.Router = local
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("connect to Redis: %w", err)
		}
		defer redisClient.Close()
		log.Info("Connected to Redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)

		redisRouter := chat.NewRedisRouter(redisClient, cfg.RedisChannel, local, log)
		if err := redisRouter.Subscribe(ctx); err != nil {
			return fmt.Errorf("subscribe to Redis: %w", err)
		}
		go redisRouter.Listen(ctx)
		router = redisRouter
	}

	gateway := chat.NewGateway(store, presence, router, log, chat.GatewayConfig{
		AppendTimeout:    cfg.AppendTimeout,
		MaxMessageLength: cfg.MaxMessageLength,
	})
	chatHandler := chat.NewHandler(gateway, chat.NewHistoryService(store, profiles, log), log, chat.HandlerConfig{
		RequireAuthenticatedJoin: cfg.RequireAuthenticatedJoin,
		SendBuffer:               cfg.SendBuffer,
	})

	uploadHandler, err := upload.NewHandler(cfg.UploadDir, cfg.MaxUploadSize, log)
	if err != nil {
		return err
	}

	// 5. Routes
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)
	userHandler := user.NewHandler(userService, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("API is running!"))
	})
	r.Handle("/uploads/*", uploadHandler.Files())

	if userRepo != nil {
		r.Post("/api/users/register", userHandler.Register)
		r.Post("/api/users/login", userHandler.Login)
	}

	if cfg.RequireAuthenticatedJoin {
		r.With(authMiddleware.Handle).Get("/ws", chatHandler.ServeWs)
	} else {
		r.With(authMiddleware.Optional).Get("/ws", chatHandler.ServeWs)
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		if userRepo != nil {
			r.Get("/api/users/search", userHandler.SearchUsers)
		}
		r.Post("/api/upload", uploadHandler.Upload)

		r.Post("/api/messages/{id}", chatHandler.SendMessage)
		r.Get("/api/messages/{id}", chatHandler.GetConversation)
		r.With(myMiddleware.RequireRole(myMiddleware.RoleAdmin)).Get("/api/messages", chatHandler.GetAllForAdmin)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown ignores hijacked websockets; close them so their sessions
	// deregister before the stores are closed by the deferred calls above.
	srv.RegisterOnShutdown(chatHandler.CloseConnections)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", "addr", cfg.Addr, "store", cfg.StoreDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := chatHandler.Wait(shutdownCtx); err != nil {
		return fmt.Errorf("wait for live connections: %w", err)
	}
	return nil
}
