package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type staticChecks map[string]string

func (s staticChecks) Check(context.Context) map[string]string { return s }

func TestProbes_ReadinessFollowsCoordinatorState(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, nil, time.Second)
	probes := NewProbes(testLogger(), c, staticChecks{"database": "OK"})

	assert.NoError(t, probes.Liveness(ctx))
	assert.NoError(t, probes.Readiness(ctx))

	c.Shutdown(ReasonTerminate)

	assert.ErrorIs(t, probes.Readiness(ctx), ErrDraining)
	assert.ErrorIs(t, probes.Liveness(ctx), ErrDraining)
}

func TestProbes_ReadinessReportsFailedDependencies(t *testing.T) {
	probes := NewProbes(testLogger(), nil, staticChecks{
		"redis":    "dial tcp: connection refused",
		"database": "OK",
		"queue":    "timeout",
	})

	err := probes.Readiness(context.Background())

	assert.EqualError(t, err, "queue: timeout; redis: dial tcp: connection refused")
}

func TestProbes_NoDependencies(t *testing.T) {
	probes := NewProbes(nil, nil, nil)

	assert.NoError(t, probes.Readiness(context.Background()))
	assert.NoError(t, probes.Liveness(context.Background()))
}
