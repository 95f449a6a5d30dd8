// Command relay runs a standalone PulseRelay router. It exists so the
// module is runnable end-to-end; it is not a supported CLI surface
// (argument parsing is out of scope per spec.md §1).
package main

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/internal/telemetry"
	"github.com/quiet-terminal/pulserelay/relay"
)

const version = "0.1.0"

func main() {
	telemetry.Banner("PulseRelay Relay", version)
	log := telemetry.NewDevelopment()
	defer log.Sync()

	cfg := config.DefaultRelayConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid relay config", zap.Error(err))
		os.Exit(1)
	}

	r := relay.New(cfg, log, events.NewRelayCallbacks())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- r.Start()
	}()

	select {
	case err := <-errChan:
		log.Error("relay exited", zap.Error(err))
		os.Exit(1)
	case sig := <-sigChan:
		log.Warn("received signal, shutting down", zap.String("signal", sig.String()))
		if err := r.Stop(); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}
}
