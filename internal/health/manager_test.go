package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubChecker struct {
	name     string
	critical bool
	status   CheckStatus
}

func (s *stubChecker) Name() string           { return s.name }
func (s *stubChecker) IsCritical() bool       { return s.critical }
func (s *stubChecker) Timeout() time.Duration { return time.Second }

func (s *stubChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: s.status, Message: s.name}
}

func TestRegisterCheckerRejectsDuplicates(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis"}))
	err := m.RegisterChecker(&stubChecker{name: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestOverallHealthAllHealthy(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis", critical: true, status: StatusHealthy}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "temporal", critical: true, status: StatusHealthy}))

	overall := m.GetOverallHealth(context.Background())

	assert.Equal(t, StatusHealthy, overall.Status)
	assert.True(t, overall.Ready)
	assert.True(t, overall.Live)
	assert.Equal(t, "All 2 components healthy", overall.Message)
}

func TestCriticalFailureBlocksReadiness(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "temporal", critical: true, status: StatusUnhealthy}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "postgres", status: StatusHealthy}))

	overall := m.GetOverallHealth(context.Background())

	assert.Equal(t, StatusUnhealthy, overall.Status)
	assert.False(t, overall.Ready)
	assert.True(t, overall.Live, "critical failure should not kill liveness")
	assert.False(t, m.IsReady(context.Background()))
	assert.True(t, m.IsLive(context.Background()))
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "temporal", critical: true, status: StatusHealthy}))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "postgres", status: StatusUnhealthy}))

	overall := m.GetOverallHealth(context.Background())

	assert.Equal(t, StatusDegraded, overall.Status)
	assert.True(t, overall.Degraded)
	assert.True(t, overall.Ready, "non-critical failure should keep the service in rotation")
}

func TestNoCheckersIsUnknown(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	overall := m.GetOverallHealth(context.Background())

	assert.Equal(t, StatusUnknown, overall.Status)
	assert.False(t, overall.Ready)
	assert.False(t, overall.Live)
}

func TestDetailedHealthCachesResults(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis", status: StatusHealthy}))

	detailed := m.GetDetailedHealth(context.Background())
	require.Contains(t, detailed.Components, "redis")
	assert.Equal(t, "redis", detailed.Components["redis"].Component)
	assert.Equal(t, 1, detailed.Summary.Healthy)

	cached := m.GetLastResults()
	require.Contains(t, cached, "redis")
	assert.Equal(t, StatusHealthy, cached["redis"].Status)
}

func TestUnregisterChecker(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(&stubChecker{name: "redis", status: StatusHealthy}))
	_ = m.GetDetailedHealth(context.Background())

	require.NoError(t, m.UnregisterChecker("redis"))
	assert.Error(t, m.UnregisterChecker("redis"))
	assert.Empty(t, m.GetLastResults())
}

func TestCheckTimeoutIsEnforced(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	slow := NewCustomHealthChecker("slow", false, 20*time.Millisecond, func(ctx context.Context) CheckResult {
		select {
		case <-ctx.Done():
			return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
		case <-time.After(2 * time.Second):
			return CheckResult{Status: StatusHealthy}
		}
	})
	require.NoError(t, m.RegisterChecker(slow))

	start := time.Now()
	detailed := m.GetDetailedHealth(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusUnhealthy, detailed.Components["slow"].Status)
}
