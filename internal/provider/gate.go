package provider

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
	"github.com/hubenschmidt/care-ai/gateway/internal/metrics"
)

// GateConfig sets per-provider admission limits.
type GateConfig struct {
	RPS          float64
	Burst        int
	QuotaBackoff time.Duration // used when the provider gives no Retry-After
	Now          func() time.Time
}

// Gate admits calls to providers. Each provider gets a token-bucket limiter;
// after a quota error the provider is skipped until its backoff window
// ends.
type Gate struct {
	cfg      GateConfig
	mu       sync.Mutex
	limiters map[credentials.ProviderID]*rate.Limiter
	until    map[credentials.ProviderID]time.Time
}

// NewGate creates a gate. RPS <= 0 disables rate limiting.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.QuotaBackoff <= 0 {
		cfg.QuotaBackoff = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Gate{
		cfg:      cfg,
		limiters: make(map[credentials.ProviderID]*rate.Limiter),
		until:    make(map[credentials.ProviderID]time.Time),
	}
}

// Wait blocks until a call to provider is admitted or ctx ends. A provider
// in quota backoff is rejected immediately with ErrQuota. A nil Gate admits
// everything.
func (g *Gate) Wait(ctx context.Context, provider credentials.ProviderID) error {
	if g == nil {
		return nil
	}
	limiter, blockedUntil := g.state(provider)
	if now := g.cfg.Now(); now.Before(blockedUntil) {
		metrics.ProviderBackoffs.WithLabelValues(string(provider)).Inc()
		return errors.Mark(
			errors.Newf("%s in quota backoff for %s", provider, blockedUntil.Sub(now).Round(time.Millisecond)),
			ErrQuota,
		)
	}
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s rate limit", provider), ErrTransient)
	}
	return nil
}

// Observe records the outcome of a call; quota errors open the backoff
// window.
func (g *Gate) Observe(provider credentials.ProviderID, err error) {
	if g == nil || Classify(err) != KindQuota {
		return
	}
	wait, ok := RetryAfter(err)
	if !ok || wait <= 0 {
		wait = g.cfg.QuotaBackoff
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.cfg.Now().Add(wait)
	if until.After(g.until[provider]) {
		g.until[provider] = until
	}
}

func (g *Gate) state(provider credentials.ProviderID) (*rate.Limiter, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.RPS <= 0 {
		return nil, g.until[provider]
	}
	l, ok := g.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.cfg.RPS), g.cfg.Burst)
		g.limiters[provider] = l
	}
	return l, g.until[provider]
}
