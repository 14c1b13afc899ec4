package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/GoSim-25-26J-441/calibration-core/internal/calibd"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
)

func main() {
	var grpcAddr string
	var httpAddr string
	var logLevel string
	var logFile string
	var workDir string
	var skipArtifacts bool

	flag.StringVar(&grpcAddr, "grpc-addr", ":50051", "gRPC listen address")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&logFile, "log-file", "", "also write JSON logs to this rotated file")
	flag.StringVar(&workDir, "work-dir", "calibd-runs", "directory holding one working directory per run")
	flag.BoolVar(&skipArtifacts, "skip-artifacts", false, "do not write best trajectory databases and plots")
	flag.Parse()

	if logFile != "" {
		log, closer := logger.NewTee(logLevel, os.Stdout, logger.FileOptions{Filename: logFile, MaxSizeMB: 50, MaxBackups: 3})
		defer closer.Close()
		logger.SetDefault(log)
	} else {
		logger.SetDefault(logger.NewText(logLevel, os.Stdout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	store := calibd.NewRunStore()
	notifier := calibd.NewNotifier(calibd.NotifierOptions{})
	executor := calibd.NewRunExecutor(store, calibd.ExecutorOptions{
		WorkDir:       workDir,
		SkipArtifacts: skipArtifacts,
		Notifier:      notifier,
	})

	// TODO: Configure gRPC server security (TLS, authentication) before
	// exposing the daemon outside a trusted network.
	grpcServer := grpc.NewServer()
	calibd.RegisterCalibrationServiceServer(grpcServer, calibd.NewCalibrationGRPCServer(store, executor))

	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", "addr", grpcAddr, "error", err)
		stop()
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           calibd.NewHTTPServer(store, executor).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("gRPC server listening", "addr", grpcAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	executor.Shutdown()
	notifier.Wait()
	logger.Info("all runs stopped")
}
