package credentials

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/hubenschmidt/care-ai/gateway/internal/metrics"
)

// ErrCredentialUnavailable means neither the secret store nor the
// environment could produce a usable credential. It is the only
// pipeline-fatal error.
var ErrCredentialUnavailable = errors.New("credential unavailable")

const (
	defaultTTL          = 5 * time.Minute
	defaultFetchTimeout = 5 * time.Second
)

// Config controls resolution and caching.
type Config struct {
	Product      string
	Env          string
	TTL          time.Duration
	RefreshAhead time.Duration // serve cached value and refresh in background inside this window before expiry
	FetchTimeout time.Duration
	Lookup       LookupFunc
	Now          func() time.Time
}

type snapshot map[ProviderID]*Credential

// Resolver fetches provider credentials and caches them in memory.
// Reads are lock-free: the cache is an immutable map behind an atomic
// pointer, and writers publish a fresh copy under mu.
type Resolver struct {
	secrets    SecretStore
	cfg        Config
	cache      atomic.Pointer[snapshot]
	mu         sync.Mutex
	group      singleflight.Group
	refreshing sync.Map
}

// NewResolver creates a resolver backed by store. A nil store resolves from
// the environment only.
func NewResolver(store SecretStore, cfg Config) *Resolver {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.RefreshAhead >= cfg.TTL {
		cfg.RefreshAhead = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Resolver{secrets: store, cfg: cfg}
	empty := snapshot{}
	r.cache.Store(&empty)
	return r
}

// Get returns the credential for provider, fetching it when the cached
// value is missing or expired. Concurrent misses for one provider share a
// single fetch; other providers are never blocked by it.
func (r *Resolver) Get(ctx context.Context, provider ProviderID) (*Credential, error) {
	if _, ok := envFallback[provider]; !ok {
		return nil, errors.Wrapf(ErrCredentialUnavailable, "unknown provider %q", provider)
	}

	now := r.cfg.Now()
	if cred := r.cached(provider); cred != nil && cred.Valid(now) {
		if r.inRefreshWindow(cred, now) {
			r.refreshAsync(provider)
		}
		return cred, nil
	}

	ch := r.group.DoChan(string(provider), func() (any, error) {
		return r.fetch(provider)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential), nil
	case <-ctx.Done():
		return nil, errors.Mark(errors.Wrapf(ctx.Err(), "resolve %s", provider), ErrCredentialUnavailable)
	}
}

// Invalidate drops the cached credential so the next Get fetches again.
func (r *Resolver) Invalidate(provider ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.cache.Load()
	if _, ok := old[provider]; !ok {
		return
	}
	next := make(snapshot, len(old))
	for k, v := range old {
		if k != provider {
			next[k] = v
		}
	}
	r.cache.Store(&next)
	slog.Info("credential invalidated", "provider", provider)
}

func (r *Resolver) cached(provider ProviderID) *Credential {
	return (*r.cache.Load())[provider]
}

func (r *Resolver) put(provider ProviderID, cred *Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.cache.Load()
	next := make(snapshot, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[provider] = cred
	r.cache.Store(&next)
}

func (r *Resolver) inRefreshWindow(cred *Credential, now time.Time) bool {
	if r.cfg.RefreshAhead <= 0 {
		return false
	}
	return now.Sub(cred.FetchedAt()) >= cred.TTL()-r.cfg.RefreshAhead
}

// refreshAsync starts at most one background refresh per provider.
func (r *Resolver) refreshAsync(provider ProviderID) {
	if _, busy := r.refreshing.LoadOrStore(provider, struct{}{}); busy {
		return
	}
	ch := r.group.DoChan(string(provider), func() (any, error) {
		return r.fetch(provider)
	})
	go func() {
		defer r.refreshing.Delete(provider)
		if res := <-ch; res.Err != nil {
			slog.Warn("background credential refresh failed", "provider", provider, "error", res.Err)
		}
	}()
}

// fetch runs inside the singleflight group. It is detached from any single
// caller's context because its result is shared.
func (r *Resolver) fetch(provider ProviderID) (*Credential, error) {
	now := r.cfg.Now()
	if cred := r.cached(provider); cred != nil && cred.Valid(now) && !r.inRefreshWindow(cred, now) {
		return cred, nil
	}

	name := SecretName(r.cfg.Product, r.cfg.Env, provider)
	value, storeErr := r.fromStore(name, provider)
	source := SourceSecretStore
	if storeErr != nil {
		env, ok := fromEnv(provider, r.cfg.Lookup)
		if !ok {
			metrics.CredentialFailures.WithLabelValues(string(provider)).Inc()
			return nil, errors.Mark(
				errors.Wrapf(storeErr, "%s: secret store and environment fallback both failed", provider),
				ErrCredentialUnavailable,
			)
		}
		slog.Warn("secret store unavailable, using environment credentials", "provider", provider, "error", storeErr)
		value, source = env, SourceEnvironment
	}

	cred := newCredential(provider, name, value, r.cfg.Now(), r.cfg.TTL, source)
	r.put(provider, cred)
	metrics.CredentialFetches.WithLabelValues(string(provider), string(source)).Inc()
	return cred, nil
}

func (r *Resolver) fromStore(name string, provider ProviderID) (map[string]string, error) {
	if r.secrets == nil {
		return nil, errors.New("no secret store configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FetchTimeout)
	defer cancel()

	blob, err := r.secrets.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	value, err := parseSecret(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "secret %s", name)
	}
	if !hasRequired(provider, value) {
		return nil, errors.Newf("secret %s is missing required keys %v", name, requiredKeys(provider))
	}
	return value, nil
}

// parseSecret flattens a JSON object blob into string values. Nested
// values are kept as their raw JSON text.
func parseSecret(blob []byte) (map[string]string, error) {
	if !gjson.ValidBytes(blob) {
		return nil, errors.New("secret is not valid JSON")
	}
	res := gjson.ParseBytes(blob)
	if !res.IsObject() {
		return nil, errors.New("secret is not a JSON object")
	}
	out := make(map[string]string)
	res.ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.String()
		return true
	})
	return out, nil
}
