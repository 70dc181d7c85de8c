package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProvider fails the first n calls with ErrUnavailable.
type flakyProvider struct {
	LocalProvider
	failures int
	calls    int
	fatal    error
}

func (f *flakyProvider) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	f.calls++
	if f.fatal != nil {
		return nil, f.fatal
	}
	if f.calls <= f.failures {
		return nil, fmt.Errorf("%w: simulated outage", ErrUnavailable)
	}
	return []byte("ok"), nil
}

func fastRetry() RetryConfig {
	return RetryConfig{Attempts: 3, InitialBackoff: time.Millisecond, CallTimeout: time.Second}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	p := NewResilientProvider(inner, fastRetry())

	data, err := p.DownloadFile(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientSurfacesAfterExhaustion(t *testing.T) {
	inner := &flakyProvider{failures: 10}
	p := NewResilientProvider(inner, fastRetry())

	_, err := p.DownloadFile(context.Background(), "/x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientDoesNotRetryNotFound(t *testing.T) {
	inner := &flakyProvider{fatal: fmt.Errorf("%w: /x", ErrNotFound)}
	p := NewResilientProvider(inner, fastRetry())

	_, err := p.DownloadFile(context.Background(), "/x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, inner.calls)
}

func TestResilientCircuitOpens(t *testing.T) {
	inner := &flakyProvider{failures: 1000}
	p := NewResilientProvider(inner, fastRetry())

	// Each call burns 3 attempts; after 5 consecutive unavailable results
	// the breaker opens and refuses calls without touching the provider.
	for i := 0; i < 5; i++ {
		_, _ = p.DownloadFile(context.Background(), "/x")
	}
	callsBefore := inner.calls

	_, err := p.DownloadFile(context.Background(), "/x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, callsBefore, inner.calls)
}

func TestResilientBreakerRecovers(t *testing.T) {
	inner := &flakyProvider{failures: 1000}
	p := NewResilientProvider(inner, fastRetry())
	p.cb.cooldown = 10 * time.Millisecond

	for i := 0; i < 5; i++ {
		_, _ = p.DownloadFile(context.Background(), "/x")
	}
	_, err := p.DownloadFile(context.Background(), "/x")
	require.ErrorIs(t, err, ErrCircuitOpen)

	// After the cooldown a probe goes through; the provider has recovered.
	inner.failures = 0
	time.Sleep(15 * time.Millisecond)
	data, err := p.DownloadFile(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)

	// Breaker is closed again.
	_, err = p.DownloadFile(context.Background(), "/x")
	assert.NoError(t, err)
}
