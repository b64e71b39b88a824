package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	server "reviews_app/internal/adapters/http_server"
	"reviews_app/internal/adapters/observability"
	redisad "reviews_app/internal/adapters/redis"
	"reviews_app/internal/adapters/restapi"
	"reviews_app/internal/app"
	"reviews_app/internal/interceptor"
	"reviews_app/internal/shared"
	"reviews_app/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv)

	// cache registry
	storage := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer storage.Close()
	if err := storage.Ping(ctx); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed")
	}

	// the outbox lives in the same local store the pages use
	store, closeStore := sqlite.OpenOrDegrade(ctx, cfg.StorePath, cfg.StoreDisabled)
	defer closeStore()

	api, err := restapi.New(cfg.APIBase, cfg.APIRPS, restapi.WithRetries(cfg.APIRetries))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize API client")
	}
	outbox := app.NewOutbox(api, store, cfg.DrainWorkers)

	syncer := interceptor.NewSyncer(storage, cfg.SyncRetryInterval)
	syncer.Handle(app.SyncTagReviews, outbox.SyncHandler())

	proc := interceptor.New(interceptor.Config{
		Origin:             cfg.AppOrigin,
		Base:               cfg.AppBase,
		ThirdPartyPrecache: cfg.ThirdParty,
	}, storage, syncer)

	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(observability.InitRegistry()))
	srv.MountInterceptor(proc)

	httpSrv := &http.Server{
		Addr:              cfg.InterceptorAddr,
		Handler:           server.WithProxy(proc, srv.Mux()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return register(ctx, proc, cfg.ShellVersion, cfg.SyncRetryInterval) })
	g.Go(func() error { return syncer.Run(ctx) })
	g.Go(func() error {
		log.Info().Str("addr", cfg.InterceptorAddr).Str("origin", cfg.AppOrigin).Msg("interceptor listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("interceptor stopped")
	}
}

// register keeps trying to install version until it succeeds; an install
// needs the origin to be reachable.
func register(ctx context.Context, proc *interceptor.Process, version string, every time.Duration) error {
	for {
		err := proc.Register(ctx, version)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("version", version).Dur("retry_in", every).Msg("install failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}
