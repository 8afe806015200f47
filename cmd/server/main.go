package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"go-audiochat/internal/blob"
	"go-audiochat/internal/chat"
	"go-audiochat/internal/config"
	"go-audiochat/internal/db"
	myMiddleware "go-audiochat/internal/middleware"
	"go-audiochat/internal/relay"
	"go-audiochat/internal/store"
	"go-audiochat/internal/user"
	"go-audiochat/internal/vote"
)

func main() {
	addr := flag.String("addr", "", "http service address (overrides config)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if cfg.Mode == config.ModeDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		// JSON lines for log shippers
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// 2. Connect to Database (Platform Layer)
	if cfg.Database.Driver == db.DriverSQLite {
		if err := os.MkdirAll(dirOf(cfg.Database.DSN), 0o755); err != nil {
			log.Fatal().Err(err).Msg("failed to create sqlite directory")
		}
	}
	database, err := db.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Str("module", "db").Msg("schema initialized")

	// 3. Event mirror (optional)
	var pub relay.Publisher = relay.Noop{}
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pctx).Err(); err != nil {
			log.Error().Err(err).Str("module", "relay").Str("addr", cfg.Redis.Addr).Msg("redis unreachable, events will not be mirrored until it recovers")
		} else {
			log.Info().Str("module", "relay").Str("addr", cfg.Redis.Addr).Msg("connected to redis")
		}
		pcancel()
		pub = relay.NewRedisPublisher(redisClient, cfg.Redis.ChannelPrefix)
	}
	defer pub.Close()

	// 4. Blob storage
	blobs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up blob storage")
	}

	// 5. Core
	st := store.New(database)
	coord := chat.NewCoordinator(st, blobs, vote.NewAggregator(st), pub, chat.Options{
		StoreTimeout: cfg.Timeouts.Store,
		BlobTimeout:  cfg.Timeouts.Blob,
		MaxClipBytes: cfg.Blob.MaxBytes,
	})
	defer coord.Close()
	chatHandler := chat.NewHandler(coord, chat.ClientConfig{
		PingPeriod: cfg.WS.PingPeriod,
		ReadLimit:  cfg.WS.ReadLimit,
		SendBuffer: cfg.WS.SendBuffer,
	}, cfg.Blob.MaxBytes)

	// 6. Users
	userService := user.NewService(user.NewRepository(database), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	userHandler := user.NewHandler(userService)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 7. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(myMiddleware.RequestLogger(log.Logger))
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		hctx, hcancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer hcancel()
		if err := database.Conn.PingContext(hctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if disk, ok := blobs.(*blob.Disk); ok {
		prefix := blobPrefix(cfg.Blob.PublicURL)
		r.Handle(prefix+"*", http.StripPrefix(prefix, disk.Handler()))
		log.Info().Str("module", "blob").Str("path", prefix).Str("dir", cfg.Blob.Dir).Msg("serving clips from disk")
	}

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		chatHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("mode", cfg.Mode).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("server exited gracefully")
}

// blobPrefix is the path part of the public blob URL, with a trailing slash.
func blobPrefix(publicURL string) string {
	path := "/blobs/"
	if u, err := url.Parse(publicURL); err == nil && u.Path != "" && u.Path != "/" {
		path = u.Path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

func dirOf(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	if i := strings.LastIndexByte(dsn, '/'); i >= 0 {
		return dsn[:i]
	}
	return "."
}
