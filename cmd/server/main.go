package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires configuration, the hub and the HTTP server, and blocks until a
// signal arrives or one of them fails.
func run() error {
	envErr := godotenv.Load()

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}
	server.SetConfig(cfg)
	active := server.CurrentConfig()

	log := logs.GetLoggerFromString(active.LogLevel)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file found, using environment variables")
	}
	for _, origin := range cfg.InvalidOrigins() {
		log.Warn("ignoring invalid origin in configuration", "origin", origin)
	}

	hub := server.NewHub(log, active.ChatOptions())
	httpServer := server.CreateServer(active.Port, server.SetupRoutes(hub))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		return server.StartServer(log, httpServer)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		httpErr := server.ShutdownServer(log, httpServer, active.ShutdownTimeout)
		if err := hub.Shutdown(active.ShutdownTimeout); err != nil {
			return fmt.Errorf("hub shutdown: %w", err)
		}
		return httpErr
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("program stopped cleanly")
	return nil
}
