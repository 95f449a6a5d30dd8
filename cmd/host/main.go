// Command host runs a standalone session host that registers with a
// relay. Not a supported CLI surface — see cmd/relay.
package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/internal/telemetry"
	"github.com/quiet-terminal/pulserelay/host"
)

const version = "0.1.0"

func main() {
	telemetry.Banner("PulseRelay Host", version)
	log := telemetry.NewDevelopment()
	defer log.Sync()

	cfg := config.DefaultHostConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid host config", zap.Error(err))
		os.Exit(1)
	}

	relayHost := envOr("PULSERELAY_RELAY_HOST", "127.0.0.1")
	relayPort := envIntOr("PULSERELAY_RELAY_PORT", 7777)
	sessionID := uint32(envIntOr("PULSERELAY_SESSION_ID", 1))

	h := host.New(cfg, log, events.NewHostCallbacks(), sessionID)
	relayAddr := &net.UDPAddr{IP: net.ParseIP(relayHost), Port: relayPort}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- h.Start(relayAddr)
	}()

	select {
	case err := <-errChan:
		log.Error("host exited", zap.Error(err))
		os.Exit(1)
	case sig := <-sigChan:
		log.Warn("received signal, shutting down", zap.String("signal", sig.String()))
		if err := h.Stop(); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
