// Package config defines the validated configuration structs consumed by
// the relay, host, and client endpoints. There is no file or environment
// loading here — callers build a struct (typically starting from a
// Default*Config) and call Validate before handing it to an endpoint,
// mirroring the defaults-then-validate shape of a typical Config struct
// in this corpus, minus the file-reading step that this module leaves to
// its caller.
package config

import (
	"fmt"
	"time"
)

// RelayConfig configures the relay's bind address, timing, and admission
// limits.
type RelayConfig struct {
	Port                  int
	MainLoopSleep         time.Duration
	SocketTimeout         time.Duration
	CleanupInterval       time.Duration
	ClientTimeout         time.Duration
	PendingConnTimeout    time.Duration
	MaxPacketsPerSecond   int
	MaxClientsPerSession  int
	MaxTotalConnections   int
	MaxPendingConnections int
	MaxRateLimiters       int
	FloodWindow           time.Duration
	FloodThreshold        int
	ThrottlePenaltyDiv    int
	TokenRefillInterval   time.Duration
}

// DefaultRelayConfig returns the spec-documented defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Port:                  7777,
		MainLoopSleep:         time.Millisecond,
		SocketTimeout:         100 * time.Millisecond,
		CleanupInterval:       5 * time.Second,
		ClientTimeout:         15 * time.Second,
		PendingConnTimeout:    10 * time.Second,
		MaxPacketsPerSecond:   100,
		MaxClientsPerSession:  32,
		MaxTotalConnections:   4096,
		MaxPendingConnections: 256,
		MaxRateLimiters:       1024,
		FloodWindow:           10 * time.Second,
		FloodThreshold:        10,
		ThrottlePenaltyDiv:    2,
		TokenRefillInterval:   time.Second,
	}
}

// Validate enforces the invariants a relay cannot safely run without.
func (c RelayConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.MaxClientsPerSession <= 0 || c.MaxClientsPerSession > 253 {
		return fmt.Errorf("config: max_clients_per_session must be in 1..=253, got %d", c.MaxClientsPerSession)
	}
	if c.MaxPacketsPerSecond <= 0 {
		return fmt.Errorf("config: max_packets_per_second must be positive")
	}
	if c.ThrottlePenaltyDiv <= 0 {
		return fmt.Errorf("config: throttle_penalty_divisor must be positive")
	}
	if c.MaxRateLimiters <= 0 {
		return fmt.Errorf("config: max_rate_limiters must be positive")
	}
	if c.SocketTimeout <= 0 || c.CleanupInterval <= 0 || c.ClientTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	return nil
}

// HostConfig configures a session host's timing and retry behavior.
type HostConfig struct {
	SocketTimeout          time.Duration
	ProcessingLoopSleep    time.Duration
	AckTimeout             time.Duration
	MaxAckRetries          int
	ReliabilityDelay       time.Duration
	GracefulShutdownWindow time.Duration
	SessionTokenTimeout    time.Duration
	ProtocolVersion        uint8
	TickRate               uint32
	MaxPacketSize          uint32
}

// DefaultHostConfig returns the spec-documented defaults.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		SocketTimeout:          100 * time.Millisecond,
		ProcessingLoopSleep:    10 * time.Millisecond,
		AckTimeout:             2 * time.Second,
		MaxAckRetries:          5,
		ReliabilityDelay:       50 * time.Millisecond,
		GracefulShutdownWindow: 2 * time.Second,
		SessionTokenTimeout:    300 * time.Second,
		ProtocolVersion:        1,
		TickRate:               60,
		MaxPacketSize:          1200,
	}
}

// Validate enforces the invariants a host cannot safely run without.
func (c HostConfig) Validate() error {
	if c.MaxAckRetries < 0 {
		return fmt.Errorf("config: max_ack_retries must be non-negative")
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("config: ack_timeout must be positive")
	}
	if c.SessionTokenTimeout <= 0 {
		return fmt.Errorf("config: session_token_timeout must be positive")
	}
	if c.MaxPacketSize == 0 || c.MaxPacketSize > 65507 {
		return fmt.Errorf("config: max_packet_size out of range: %d", c.MaxPacketSize)
	}
	return nil
}

// ClientConfig configures a client's connection and reconnection behavior.
type ClientConfig struct {
	SocketTimeout          time.Duration
	ConnectionTimeout      time.Duration
	ProcessingLoopSleep    time.Duration
	PingInterval           time.Duration
	DisconnectNoticeDelay  time.Duration
	InitialReconnectDelay  time.Duration
	MaxReconnectDelay      time.Duration
	MaxReconnectAttempts   int
	AutoPing               bool
}

// DefaultClientConfig returns the spec-documented defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SocketTimeout:         100 * time.Millisecond,
		ConnectionTimeout:     10 * time.Second,
		ProcessingLoopSleep:   10 * time.Millisecond,
		PingInterval:          5 * time.Second,
		DisconnectNoticeDelay: 50 * time.Millisecond,
		InitialReconnectDelay: time.Second,
		MaxReconnectDelay:     30 * time.Second,
		MaxReconnectAttempts:  5,
		AutoPing:              true,
	}
}

// Validate enforces the invariants a client cannot safely run without.
func (c ClientConfig) Validate() error {
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("config: connection_timeout must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: max_reconnect_attempts must be non-negative")
	}
	if c.InitialReconnectDelay <= 0 || c.MaxReconnectDelay <= 0 {
		return fmt.Errorf("config: reconnect delays must be positive")
	}
	if c.MaxReconnectDelay < c.InitialReconnectDelay {
		return fmt.Errorf("config: max_reconnect_delay must be >= initial_reconnect_delay")
	}
	return nil
}
