package temporal

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/config"
)

const (
	tcpWaitAttempts = 60
	dialAttempts    = 30
	maxDialBackoff  = 15 * time.Second
)

// Dial connects to the Temporal frontend. It waits for the endpoint to
// accept TCP connections first so container startup order does not
// matter, then dials the SDK with a bounded, capped-backoff retry.
func Dial(ctx context.Context, cfg config.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	if err := waitForEndpoint(ctx, cfg.HostPort, logger); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.HostPort,
			Namespace: cfg.Namespace,
			Logger:    NewZapAdapter(logger),
		})
		if err == nil {
			logger.Info("Connected to Temporal",
				zap.String("host_port", cfg.HostPort),
				zap.String("namespace", cfg.Namespace))
			return c, nil
		}
		lastErr = err

		delay := time.Duration(attempt) * time.Second
		if delay > maxDialBackoff {
			delay = maxDialBackoff
		}
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host_port", cfg.HostPort),
			zap.Duration("sleep", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("temporal dial failed after %d attempts: %w", dialAttempts, lastErr)
}

// waitForEndpoint blocks until addr accepts a TCP connection or the
// attempt budget runs out.
func waitForEndpoint(ctx context.Context, addr string, logger *zap.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= tcpWaitAttempts; attempt++ {
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Waiting for Temporal endpoint",
			zap.String("host_port", addr),
			zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return fmt.Errorf("temporal endpoint %s unreachable: %w", addr, lastErr)
}
