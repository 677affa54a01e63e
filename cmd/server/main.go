package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"vidsync/internal/config"
	"vidsync/internal/hertzapi"
	"vidsync/internal/httpapi"
	"vidsync/internal/rooms"
	"vidsync/internal/store"
	"vidsync/internal/store/memstore"
	"vidsync/internal/store/redistore"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}

	roomManager := rooms.NewManager(st)

	g, gCtx := errgroup.WithContext(ctx)

	switch cfg.Engine {
	case "echo":
		runEcho(g, gCtx, cfg, roomManager)
	default:
		runHertz(g, gCtx, cfg, roomManager)
	}

	log.Info().Int("port", cfg.Port).Str("engine", cfg.Engine).Str("store", cfg.Store).Msg("server starting")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func buildStore(cfg *config.Config) (store.Store, error) {
	clock := clockwork.NewRealClock()

	switch cfg.Store {
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redistore.New(redis.NewClient(opt), clock), nil
	case "memory":
		return memstore.New(clock), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func runHertz(g *errgroup.Group, ctx context.Context, cfg *config.Config, roomManager *rooms.Manager) {
	h := server.Default(server.WithHostPorts(fmt.Sprintf(":%d", cfg.Port)))
	router := hertzapi.NewRouter(h, roomManager)

	g.Go(func() error {
		router.Spin()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return router.Shutdown(shutdownCtx)
	})
}

func runEcho(g *errgroup.Group, ctx context.Context, cfg *config.Config, roomManager *rooms.Manager) {
	api := httpapi.NewServer(roomManager)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.Router(),
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
