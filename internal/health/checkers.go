package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/circuitbreaker"
)

// RedisHealthChecker checks Redis connectivity through the session wrapper.
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", Critical: true, Timestamp: start}

	if r.wrapper.IsOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := r.wrapper.Ping(ctx).Err()
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		return result
	}

	if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}

	return result
}

// PostgresHealthChecker checks PostgreSQL connectivity through the store
// wrapper.
type PostgresHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	logger  *zap.Logger
	timeout time.Duration
}

// NewPostgresHealthChecker creates a database health checker
func NewPostgresHealthChecker(wrapper *circuitbreaker.DatabaseWrapper, logger *zap.Logger) *PostgresHealthChecker {
	return &PostgresHealthChecker{
		wrapper: wrapper,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (d *PostgresHealthChecker) Name() string           { return "postgres" }
func (d *PostgresHealthChecker) IsCritical() bool       { return false }
func (d *PostgresHealthChecker) Timeout() time.Duration { return d.timeout }

// Check pings the pool. Postgres is non-critical: interviews run fully
// without persistence, so a dead database degrades rather than unreadies.
func (d *PostgresHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "postgres", Timestamp: start}

	if d.wrapper.IsOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Database circuit breaker is open"
		result.Duration = time.Since(start)
		return result
	}

	err := d.wrapper.PingContext(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		return result
	}

	stats := d.wrapper.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	} else if result.Duration > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms":           result.Duration.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"idle_connections":     stats.Idle,
		"in_use_connections":   stats.InUse,
	}

	return result
}

// TemporalHealthChecker checks Temporal frontend reachability. Without
// Temporal no interview can start or resume, so this one is critical.
type TemporalHealthChecker struct {
	client  client.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewTemporalHealthChecker creates a Temporal health checker
func NewTemporalHealthChecker(c client.Client, logger *zap.Logger) *TemporalHealthChecker {
	return &TemporalHealthChecker{
		client:  c,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (t *TemporalHealthChecker) Name() string           { return "temporal" }
func (t *TemporalHealthChecker) IsCritical() bool       { return true }
func (t *TemporalHealthChecker) Timeout() time.Duration { return t.timeout }

func (t *TemporalHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "temporal", Critical: true, Timestamp: start}

	_, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Temporal health check failed"
		return result
	}

	if result.Duration > 200*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Temporal responding but with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Temporal healthy"
	}

	result.Details = map[string]interface{}{
		"latency_ms": result.Duration.Milliseconds(),
	}

	return result
}

// LLMHealthChecker checks that the model endpoint answers at all by listing
// models on the OpenAI-compatible surface.
type LLMHealthChecker struct {
	modelsURL  string
	httpClient *http.Client
	logger     *zap.Logger
	timeout    time.Duration
}

// NewLLMHealthChecker creates an LLM endpoint health checker. endpoint is the
// chat-completions URL from config.
func NewLLMHealthChecker(endpoint string, logger *zap.Logger) *LLMHealthChecker {
	return &LLMHealthChecker{
		modelsURL:  strings.TrimSuffix(endpoint, "/chat/completions") + "/models",
		httpClient: &http.Client{},
		logger:     logger,
		timeout:    5 * time.Second,
	}
}

func (l *LLMHealthChecker) Name() string           { return "llm" }
func (l *LLMHealthChecker) IsCritical() bool       { return false }
func (l *LLMHealthChecker) Timeout() time.Duration { return l.timeout }

func (l *LLMHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "llm", Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.modelsURL, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	resp, err := l.httpClient.Do(req)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "LLM endpoint unreachable"
		result.Details = map[string]interface{}{"url": l.modelsURL}
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("LLM endpoint returned %d", resp.StatusCode)
	} else {
		result.Status = StatusHealthy
		result.Message = "LLM endpoint reachable"
	}

	result.Details = map[string]interface{}{
		"url":         l.modelsURL,
		"status_code": resp.StatusCode,
		"latency_ms":  result.Duration.Milliseconds(),
	}

	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
