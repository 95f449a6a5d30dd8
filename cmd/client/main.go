// Command client runs a standalone session client that connects to a
// relay and logs the events it receives. Not a supported CLI surface —
// see cmd/relay.
package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/quiet-terminal/pulserelay/client"
	"github.com/quiet-terminal/pulserelay/internal/config"
	"github.com/quiet-terminal/pulserelay/internal/events"
	"github.com/quiet-terminal/pulserelay/internal/telemetry"
)

const version = "0.1.0"

func main() {
	telemetry.Banner("PulseRelay Client", version)
	log := telemetry.NewDevelopment()
	defer log.Sync()

	cfg := config.DefaultClientConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid client config", zap.Error(err))
		os.Exit(1)
	}

	relayHost := envOr("PULSERELAY_RELAY_HOST", "127.0.0.1")
	relayPort := envIntOr("PULSERELAY_RELAY_PORT", 7777)
	sessionID := uint32(envIntOr("PULSERELAY_SESSION_ID", 1))
	name := envOr("PULSERELAY_CLIENT_NAME", "guest")

	callbacks := events.NewClientCallbacks()
	callbacks.OnDisconnect = func() { log.Warn("disconnected by host") }
	callbacks.OnPong = func(rtt, original int64) { log.Debug("pong", zap.Int64("rtt_ms", rtt)) }

	c := client.New(cfg, log, callbacks)
	relayAddr := &net.UDPAddr{IP: net.ParseIP(relayHost), Port: relayPort}

	if err := c.Connect(relayAddr, sessionID, name); err != nil {
		log.Error("connect failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("connected", zap.Uint8("client_id", c.ClientID()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- c.Run()
	}()

	select {
	case err := <-errChan:
		log.Error("client exited", zap.Error(err))
		os.Exit(1)
	case sig := <-sigChan:
		log.Warn("received signal, shutting down", zap.String("signal", sig.String()))
		if err := c.Stop(); err != nil {
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
