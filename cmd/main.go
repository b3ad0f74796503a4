package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/emirks/tercihify-chat/internal/bootstrap"
)

func main() {
	container := bootstrap.NewContainer()
	container.MustInit()

	if err := container.Start(); err != nil {
		container.Log.Errorw("Failed to start", "error", err)
		container.Shutdown()
		os.Exit(1)
	}

	waitForShutdown(container)
	container.Shutdown()
}

// waitForShutdown blocks until SIGINT/SIGTERM or a fatal component error cancels the container
func waitForShutdown(c *bootstrap.Container) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.Log.Infow("Shutdown signal received", "signal", sig.String())
	case <-c.Context.Done():
		c.Log.Warn("Application context cancelled, shutting down")
	}
}
