package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tombowditch/mystbin-go/internal/config"
	"github.com/tombowditch/mystbin-go/internal/ratelimit"
	"github.com/tombowditch/mystbin-go/internal/server/httpserver"
	"github.com/tombowditch/mystbin-go/internal/server/tcpserver"
	"github.com/tombowditch/mystbin-go/internal/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, limiter := backends(ctx, log)

	// Start TCP server
	tcpSrv := tcpserver.New(st, limiter, "http://"+config.MockHTTPAddr, log)
	go func() {
		if err := tcpSrv.Serve(config.MockTCPAddr); err != nil {
			log.WithError(err).Fatal("tcp server failed")
		}
	}()

	// Start HTTP server
	srv := &http.Server{
		Addr:              config.MockHTTPAddr,
		Handler:           httpserver.NewHandler(st, httpserver.WithLimiter(limiter), httpserver.WithLogger(log)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", config.MockHTTPAddr).Info("starting http server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("http server failed")
		os.Exit(1)
	}
}

// backends picks Redis when REDIS_URI is set, process memory otherwise.
func backends(ctx context.Context, log *logrus.Logger) (store.Store, ratelimit.Limiter) {
	redisURI := config.RedisURI()
	if redisURI == "" {
		log.Info("REDIS_URI not set, keeping pastes in memory")
		limiter := ratelimit.NewMemory(config.MockRequestsPerWin, config.MockWindow)
		go func() {
			t := time.NewTicker(time.Minute)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					limiter.Cleanup()
				case <-ctx.Done():
					return
				}
			}
		}()
		return store.NewMemory(), limiter
	}

	// Initialize store (Redis client with ping check)
	st, err := store.NewRedis(redisURI, config.MockRedisPassword, config.MockRedisDB, config.MockPasteTTL)
	if err != nil {
		log.WithError(err).Fatal("could not connect to redis")
	}
	log.Info("connected to redis")

	host, port := store.ParseRedisURI(redisURI)
	limiter, err := ratelimit.NewRedis(host, port, config.MockRedisPassword, config.MockRequestsPerWin, config.MockWindow)
	if err != nil {
		log.WithError(err).Fatal("could not initialize rate limiter")
	}
	return st, limiter
}
