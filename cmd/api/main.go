package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-chat/internal/config"
	"github.com/zhouzirui/z-chat/internal/handler"
	"github.com/zhouzirui/z-chat/internal/handler/push"
	"github.com/zhouzirui/z-chat/internal/handler/status"
	"github.com/zhouzirui/z-chat/internal/logging"
	"github.com/zhouzirui/z-chat/internal/middleware"
	"github.com/zhouzirui/z-chat/internal/model/account"
	"github.com/zhouzirui/z-chat/internal/service/auth"
	"github.com/zhouzirui/z-chat/internal/service/broker"
	"github.com/zhouzirui/z-chat/internal/service/chat"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := logging.Init(logging.Settings{Level: cfg.Log.Level, Format: cfg.Log.Format, WithCaller: cfg.Log.Caller}); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logging")
	}
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	accounts, err := account.NewMemoryStore(account.Seed())
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	b, err := openBroker(ctx, cfg.Broker)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("close broker")
		}
	}()

	chatSvc := chat.NewService(store, accounts, b)
	if err := chatSvc.Seed(ctx, account.SeedChannels()); err != nil {
		return err
	}
	authSvc := auth.NewService(accounts, 0)
	pushHandler := push.New(authSvc, b, cfg.Push)

	router := handler.NewRouter(handler.Deps{
		Auth:    authSvc,
		Chat:    chatSvc,
		Push:    pushHandler,
		Limiter: middleware.NewRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.Interval),
		Status: status.New(
			status.Info{Name: "z-chat", Version: version, StoreDriver: cfg.Store.Driver, BrokerDriver: b.Driver()},
			status.Counters{Sessions: authSvc.Active, PushConnections: pushHandler.Registry().Len},
		),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Driver).
		Str("broker", b.Driver()).
		Msg("z-chat server listening")

	return runServer(ctx, srv, pushHandler.Close)
}

func openStore(cfg config.StoreConfig) (chat.Store, error) {
	if cfg.Driver == "sqlite" {
		return chat.NewSQLiteStore(cfg.DSN)
	}
	return chat.NewMemoryStore(), nil
}

func openBroker(ctx context.Context, cfg config.BrokerConfig) (*broker.Broker, error) {
	if cfg.Driver == "redis" {
		return broker.NewRedis(ctx, broker.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return broker.NewMemory(), nil
}

// runServer serves until ctx ends, then shuts down. Hijacked push
// connections are not tracked by http.Server, so onShutdown closes them.
func runServer(ctx context.Context, srv *http.Server, onShutdown func()) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		onShutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
