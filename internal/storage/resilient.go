package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tenantguard/backend/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker is refusing provider calls.
var ErrCircuitOpen = errors.New("storage: circuit open")

// RetryConfig controls the transient-failure retry policy. Only
// ErrUnavailable is retried; everything else surfaces immediately.
type RetryConfig struct {
	Attempts       int           // total attempts, default 3
	InitialBackoff time.Duration // doubled each retry, default 500ms
	CallTimeout    time.Duration // per-attempt timeout, default 60s
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// breaker is a minimal circuit breaker for provider calls: consecutive
// unavailability trips it open; after a cooldown one probe call is let
// through.
type breaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	open      bool
	probing   bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	if time.Since(b.openedAt) >= b.cooldown && !b.probing {
		b.probing = true
		return nil
	}
	return ErrCircuitOpen
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil || !errors.Is(err, ErrUnavailable) {
		b.failures = 0
		if b.open {
			slog.Info("storage circuit closed")
		}
		b.open = false
		b.probing = false
		return
	}
	b.failures++
	b.probing = false
	if b.failures >= b.threshold && !b.open {
		b.open = true
		b.openedAt = time.Now()
		slog.Warn("storage circuit opened", "failures", b.failures)
	} else if b.open {
		b.openedAt = time.Now()
	}
}

// ResilientProvider wraps a Provider with per-attempt timeouts, exponential
// retry on transient failures and a circuit breaker.
type ResilientProvider struct {
	inner Provider
	cfg   RetryConfig
	cb    *breaker
}

// NewResilientProvider wraps inner with the given retry policy.
func NewResilientProvider(inner Provider, cfg RetryConfig) *ResilientProvider {
	return &ResilientProvider{
		inner: inner,
		cfg:   cfg.withDefaults(),
		cb:    newBreaker(5, 30*time.Second),
	}
}

// do runs op with retries. Backoff doubles: 0.5s, 1s, 2s by default.
func (p *ResilientProvider) do(ctx context.Context, name string, op func(context.Context) error) error {
	if err := p.cb.allow(); err != nil {
		return err
	}

	backoff := p.cfg.InitialBackoff
	var err error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		err = op(callCtx)
		cancel()

		if err == nil || !errors.Is(err, ErrUnavailable) {
			break
		}
		if attempt == p.cfg.Attempts {
			break
		}
		metrics.StorageRetries.Inc()
		slog.Warn("storage call failed, retrying", "op", name, "attempt", attempt, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			p.cb.record(err)
			return ctx.Err()
		}
		backoff *= 2
	}

	p.cb.record(err)
	return err
}

func (p *ResilientProvider) UploadFile(ctx context.Context, data []byte, destPath, filename, mime string) (*File, error) {
	var out *File
	err := p.do(ctx, "upload", func(ctx context.Context) error {
		var err error
		out, err = p.inner.UploadFile(ctx, data, destPath, filename, mime)
		return err
	})
	return out, err
}

func (p *ResilientProvider) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	var out []byte
	err := p.do(ctx, "download", func(ctx context.Context) error {
		var err error
		out, err = p.inner.DownloadFile(ctx, path)
		return err
	})
	return out, err
}

func (p *ResilientProvider) DeleteFile(ctx context.Context, path string) (bool, error) {
	var out bool
	err := p.do(ctx, "delete", func(ctx context.Context) error {
		var err error
		out, err = p.inner.DeleteFile(ctx, path)
		return err
	})
	return out, err
}

func (p *ResilientProvider) ListFiles(ctx context.Context, folder string, recursive bool) ([]*File, error) {
	var out []*File
	err := p.do(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = p.inner.ListFiles(ctx, folder, recursive)
		return err
	})
	return out, err
}

func (p *ResilientProvider) FileExists(ctx context.Context, path string) (bool, error) {
	var out bool
	err := p.do(ctx, "exists", func(ctx context.Context) error {
		var err error
		out, err = p.inner.FileExists(ctx, path)
		return err
	})
	return out, err
}

func (p *ResilientProvider) CreateFolder(ctx context.Context, path string) (bool, error) {
	var out bool
	err := p.do(ctx, "mkdir", func(ctx context.Context) error {
		var err error
		out, err = p.inner.CreateFolder(ctx, path)
		return err
	})
	return out, err
}

var _ Provider = (*ResilientProvider)(nil)
