package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-api/pkg/logger"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(Settings{
		Name:             "broker",
		MaxRequests:      1,
		Timeout:          30 * time.Millisecond,
		FailureThreshold: 2,
	}, logger.Nop())

	boom := errors.New("publish failed")
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, "open", cb.State())

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "closed", cb.State())
}
