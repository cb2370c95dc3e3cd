package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"reel/internal/reel"
)

func main() {
	configPath := flag.String("config", reel.DefaultConfigPath, "path to the yaml configuration file")
	flag.Parse()

	config, err := reel.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	reel.InitLogger(config)

	server, err := reel.NewServer(config)
	if err != nil {
		slog.Error("Failed to create server", "err", err)
		os.Exit(1)
	}

	// 서버 시작
	if err := server.Start(); err != nil {
		slog.Error("Failed to start server", "err", err)
		os.Exit(1)
	}

	slog.Info("RTSP Server started", "addr", server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	slog.Info("Received signal, shutting down server", "signal", sig)

	server.Stop()
	slog.Info("Server shutdown complete")
}
