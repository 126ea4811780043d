// Command auditd serves the clause audit API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ahrav/go-warden/infrastructure/audit"
	"github.com/ahrav/go-warden/infrastructure/chat"
	"github.com/ahrav/go-warden/infrastructure/middleware"
	"github.com/ahrav/go-warden/infrastructure/storage"
	"github.com/ahrav/go-warden/internal/api"
	"github.com/ahrav/go-warden/internal/application"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "auditd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := application.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewPrometheusMetrics(reg)

	gateway, err := application.NewGateway(cfg.LLM, metrics)
	if err != nil {
		return fmt.Errorf("inference gateway: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	instructionStore, err := storage.NewInstructionStore(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("instruction store: %w", err)
	}
	defer instructionStore.Close()

	blobs, err := storage.NewBlobStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	compiler, err := audit.NewCompiler(gateway, cfg.Compiler, logger)
	if err != nil {
		return err
	}
	evaluator, err := audit.NewEvaluator(gateway, cfg.Evaluation, metrics, logger)
	if err != nil {
		return err
	}
	assistant, err := chat.NewAssistant(gateway, cfg.Chat.Config, metrics, logger)
	if err != nil {
		return err
	}

	sessions := chat.NewStore(cfg.Chat.SessionTTL, logger)
	if err := sessions.Start(cfg.Chat.SweepSchedule); err != nil {
		return fmt.Errorf("session sweep: %w", err)
	}
	defer sessions.Stop()

	instructions := application.NewInstructionService(compiler, instructionStore, logger)
	pipeline := application.NewPipeline(
		instructions,
		application.NewDownloader(cfg.Download, nil, logger),
		evaluator,
		audit.NewPrecedenceAggregator(),
		blobs,
		metrics,
		logger,
	)
	chatSvc := application.NewChatService(assistant, sessions, instructions, pipeline, logger)

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(instructions, pipeline, chatSvc, cfg.Server.MaxUploadBytes, logger)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewRouter(handler, reg, logger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.Server.Addr, "provider", cfg.LLM.Provider, "model", gateway.GetModel(), "storage", cfg.Storage.Type)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg application.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
