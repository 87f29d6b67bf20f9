package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/accident-check/internal/classifier"
	"github.com/example/accident-check/internal/config"
	"github.com/example/accident-check/internal/detection"
	"github.com/example/accident-check/internal/handlers"
	"github.com/example/accident-check/internal/history"
	"github.com/example/accident-check/internal/logging"
	"github.com/example/accident-check/internal/metrics"
	"github.com/example/accident-check/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	labels, err := detection.NewLabelSet(cfg.Detection.Labels...)
	if err != nil {
		logger.Fatal("invalid label set", zap.Error(err))
	}
	engine, err := detection.NewEngine(labels, cfg.Detection.AccidentLabel, cfg.Detection.Threshold)
	if err != nil {
		logger.Fatal("invalid decision policy", zap.Error(err))
	}

	store := history.New(cfg.History.Capacity)
	m := metrics.New(store.Len)

	clf, closeClassifier := initClassifier(cfg, labels, logger)
	defer closeClassifier()

	cache := initCache(cfg, logger)

	uc := usecase.NewDetectionUseCase(clf, engine, store, cache, m, logger,
		usecase.WithResultTTL(cfg.Redis.ResultTTL),
		usecase.WithClassifyTimeout(cfg.Classifier.Timeout),
	)

	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, uc, m.Handler(), logger)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("accident detection API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("classifier", cfg.Classifier.Backend),
		zap.Strings("labels", cfg.Detection.Labels),
		zap.Float64("threshold", engine.Threshold()),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initClassifier(cfg *config.Config, labels detection.LabelSet, logger *zap.Logger) (detection.Classifier, func()) {
	switch cfg.Classifier.Backend {
	case config.BackendGRPC:
		clf, err := classifier.DialGRPC(cfg.Classifier.Addr, logger)
		if err != nil {
			logger.Fatal("failed to connect to classifier", zap.Error(err))
		}
		return clf, func() {
			if err := clf.Close(); err != nil {
				logger.Warn("failed to close classifier connection", zap.Error(err))
			}
		}
	default:
		clf, err := classifier.NewMockClassifier(labels, cfg.Detection.AccidentLabel, cfg.Classifier.MockDelay, cfg.Classifier.MockSeed)
		if err != nil {
			logger.Fatal("failed to build mock classifier", zap.Error(err))
		}
		logger.Warn("using mock classifier; predictions are random")
		return clf, func() {}
	}
}

func initCache(cfg *config.Config, logger *zap.Logger) usecase.Cache {
	if cfg.Redis.Addr == "" {
		logger.Info("redis disabled; results are served from history only")
		return usecase.NoopCache{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
	}
	return usecase.NewRedisCache(client)
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
