package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/digit-bridge/internal/config"
	"github.com/Brownie44l1/digit-bridge/internal/handlers"
	"github.com/Brownie44l1/digit-bridge/internal/imaging"
	"github.com/Brownie44l1/digit-bridge/internal/logging"
	"github.com/Brownie44l1/digit-bridge/internal/model"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	port := flag.Int("port", 0, "listen port (overrides config and PORT)")
	modelPath := flag.String("model", "", "path to the ONNX model asset")
	libPath := flag.String("ort-lib", "", "path to the ONNX Runtime shared library")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyOverrides(config.Overrides{Port: *port, ModelPath: *modelPath, LibraryPath: *libPath, LogLevel: *logLevel})

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	os.Exit(logging.ExitCode(logger, "server exited", run(cfg, logger)))
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := model.InitEnvironment(cfg.Model.LibraryPath); err != nil {
		return err
	}
	defer func() {
		if err := model.DestroyEnvironment(); err != nil {
			logger.Warn("failed to destroy ONNX environment", zap.Error(err))
		}
	}()

	logger.Info("loading model", zap.String("path", cfg.Model.Path))
	session, err := model.LoadSession(cfg.Model.Path, model.SessionOptions{
		InputName:      cfg.Model.InputName,
		OutputName:     cfg.Model.OutputName,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()
	logger.Info("model bound",
		zap.String("input", session.InputName()),
		zap.String("output", session.OutputName()))

	bridge := model.NewBridge(session, logger)
	handler := handlers.NewHandler(bridge, imaging.Options{
		Normalization: imaging.Normalization(cfg.Image.Normalization),
		Invert:        cfg.Image.Invert,
	}, logger)
	server := handlers.NewServer(cfg.Server, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("endpoints",
		zap.Strings("routes", []string{
			"GET /health",
			"POST /predict",
			"POST /predict/image",
			"POST /channel",
			"GET /channel/ws",
		}))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}
