package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_NoDependenciesIsHealthy(t *testing.T) {
	c := NewChecker(Config{})
	assert.Equal(t, Healthy, c.OverallHealth())
	assert.Empty(t, c.AllStatus())
}

func TestChecker_MarksUnhealthyAfterMaxFailures(t *testing.T) {
	c := NewChecker(Config{MaxFailures: 2})

	var failing atomic.Bool
	failing.Store(true)
	c.Register("redis", func(context.Context) error {
		if failing.Load() {
			return errors.New("connection refused")
		}
		return nil
	})
	c.Register("database", func(context.Context) error { return nil })

	ctx := context.Background()

	c.CheckAll(ctx)
	assert.Equal(t, Healthy, c.OverallHealth(), "one failure is tolerated")

	c.CheckAll(ctx)
	assert.Equal(t, Degraded, c.OverallHealth())

	statuses := c.AllStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, "redis", statuses[1].Name)
	assert.False(t, statuses[1].IsHealthy)
	assert.Equal(t, 2, statuses[1].FailureCount)
	assert.Equal(t, "connection refused", statuses[1].LastError)

	failing.Store(false)
	c.CheckAll(ctx)
	assert.Equal(t, Healthy, c.OverallHealth())
}

func TestChecker_AllDownIsUnhealthy(t *testing.T) {
	c := NewChecker(Config{MaxFailures: 1})
	c.Register("redis", func(context.Context) error { return errors.New("down") })

	c.CheckAll(context.Background())
	assert.Equal(t, Unhealthy, c.OverallHealth())
}

func TestChecker_ProbeTimeout(t *testing.T) {
	c := NewChecker(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond})
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	c.CheckAll(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Unhealthy, c.OverallHealth())
}

func TestChecker_StartRunsPeriodically(t *testing.T) {
	c := NewChecker(Config{Interval: 5 * time.Millisecond})

	var calls atomic.Int64
	c.Register("redis", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	c.Start(ctx) // second call is a no-op

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestHealthStatus_String(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "unhealthy", Unhealthy.String())
	assert.Equal(t, "unknown", HealthStatus(9).String())
}

func TestStatus_OmitsUnsetTimes(t *testing.T) {
	raw, err := json.Marshal(Status{Name: "redis", LastCheck: time.Unix(1_700_000_000, 0).UTC()})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Contains(t, fields, "last_check")
	assert.NotContains(t, fields, "last_success")
	assert.NotContains(t, fields, "last_failure")

	raw, err = json.Marshal(Status{Name: "redis", LastSuccess: time.Unix(1_700_000_000, 0).UTC()})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"last_success":"2023-11-14T22:13:20Z"`)
}
