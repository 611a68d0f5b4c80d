package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zhouzirui/voicechat/internal/config"
	"github.com/zhouzirui/voicechat/internal/handler"
	"github.com/zhouzirui/voicechat/internal/logging"
	"github.com/zhouzirui/voicechat/internal/monitoring"
	"github.com/zhouzirui/voicechat/internal/service/ai"
	"github.com/zhouzirui/voicechat/internal/service/chat"
	"github.com/zhouzirui/voicechat/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var responder ai.Responder = ai.CannedResponder{}
	if cfg.AI.Enabled() {
		svc, err := ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("AI service unavailable, using canned answers", zap.Error(err))
		} else {
			responder = svc
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Info("Ark 凭证未配置，使用固定回答")
	}

	router := handler.NewRouter(handler.Deps{
		Server:      cfg.Server,
		Chats:       chat.NewService(),
		Responder:   responder,
		Synthesizer: speech.SilenceSynthesizer{},
		Transcriber: speech.PlaceholderTranscriber{},
		Metrics:     monitoring.NewServerMetrics(registry),
		Gatherer:    registry,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("stub chat backend listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("protocol", cfg.Server.Protocol),
		zap.Bool("auth", cfg.Server.Token != ""),
	)
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
