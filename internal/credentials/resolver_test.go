package credentials

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	calls   atomic.Int32
	blob    []byte
	err     error
	release chan struct{}
}

func (s *countingStore) GetSecret(ctx context.Context, name string) ([]byte, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.blob, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func noEnv(string) (string, bool) { return "", false }

func envOf(vars map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestGetCachesWithinTTL(t *testing.T) {
	store := &countingStore{blob: []byte(`{"api_key":"sk-test"}`)}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewResolver(store, Config{Product: "care", Env: "test", TTL: time.Minute, Lookup: noEnv, Now: clock.Now})

	first, err := r.Get(context.Background(), OpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", first.Get("api_key"))
	assert.Equal(t, SourceSecretStore, first.Source())
	assert.Equal(t, "care/test/openai-credentials", first.SecretName())

	clock.Advance(30 * time.Second)
	second, err := r.Get(context.Background(), OpenAI)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, store.calls.Load())
}

func TestGetRefetchesAfterExpiry(t *testing.T) {
	store := &countingStore{blob: []byte(`{"api_key":"g-key"}`)}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewResolver(store, Config{TTL: time.Minute, Lookup: noEnv, Now: clock.Now})

	_, err := r.Get(context.Background(), GoogleVision)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = r.Get(context.Background(), GoogleVision)
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.calls.Load())
}

func TestGetFallsBackToEnvironment(t *testing.T) {
	store := &countingStore{err: errors.New("access denied")}
	r := NewResolver(store, Config{
		Lookup: envOf(map[string]string{
			"AWS_ACCESS_KEY_ID":     "AKIA",
			"AWS_SECRET_ACCESS_KEY": "secret",
			"AWS_REGION":            "us-east-1",
		}),
	})

	cred, err := r.Get(context.Background(), AWS)
	require.NoError(t, err)
	assert.Equal(t, SourceEnvironment, cred.Source())
	assert.Equal(t, "AKIA", cred.Get("access_key_id"))
	assert.Equal(t, "us-east-1", cred.Get("region"))
	assert.Empty(t, cred.Get("session_token"))
}

func TestGetRejectsMalformedBlob(t *testing.T) {
	cases := map[string]string{
		"not json":      `api_key=abc`,
		"not an object": `["abc"]`,
		"missing key":   `{"organization":"org"}`,
		"empty key":     `{"api_key":""}`,
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			store := &countingStore{blob: []byte(blob)}
			r := NewResolver(store, Config{Lookup: envOf(map[string]string{"OPENAI_API_KEY": "env-key"})})

			cred, err := r.Get(context.Background(), OpenAI)
			require.NoError(t, err)
			assert.Equal(t, SourceEnvironment, cred.Source())
			assert.Equal(t, "env-key", cred.Get("api_key"))
		})
	}
}

func TestGetUnavailableWhenBothSourcesFail(t *testing.T) {
	store := &countingStore{err: errors.New("network unreachable")}
	r := NewResolver(store, Config{Lookup: envOf(map[string]string{"AZURE_SPEECH_REGION": "eastus"})})

	_, err := r.Get(context.Background(), AzureSpeech)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCredentialUnavailable))
	assert.Contains(t, err.Error(), "network unreachable")
}

func TestGetUnknownProvider(t *testing.T) {
	r := NewResolver(nil, Config{Lookup: noEnv})
	_, err := r.Get(context.Background(), ProviderID("carrier-pigeon"))
	assert.True(t, errors.Is(err, ErrCredentialUnavailable))
}

func TestGetWithoutStoreUsesEnvironment(t *testing.T) {
	r := NewResolver(nil, Config{Lookup: envOf(map[string]string{"GOOGLE_VISION_API_KEY": "vision"})})
	cred, err := r.Get(context.Background(), GoogleVision)
	require.NoError(t, err)
	assert.Equal(t, "vision", cred.Get("api_key"))
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	store := &countingStore{blob: []byte(`{"api_key":"shared"}`), release: make(chan struct{})}
	r := NewResolver(store, Config{Lookup: noEnv})

	const callers = 32
	var wg sync.WaitGroup
	results := make([]*Credential, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := r.Get(context.Background(), OpenAI)
			if err == nil {
				results[i] = cred
			}
		}(i)
	}

	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(store.release)
	wg.Wait()

	assert.EqualValues(t, 1, store.calls.Load())
	for _, cred := range results {
		require.NotNil(t, cred)
		assert.Same(t, results[0], cred)
	}
}

func TestSlowProviderDoesNotBlockOthers(t *testing.T) {
	slow := &countingStore{blob: []byte(`{"api_key":"x"}`), release: make(chan struct{})}
	defer close(slow.release)
	r := NewResolver(slow, Config{Lookup: envOf(map[string]string{"GOOGLE_VISION_API_KEY": "vision"})})

	go func() { _, _ = r.Get(context.Background(), OpenAI) }()
	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, time.Millisecond)

	// Seed vision directly so its Get is a pure cache read.
	r.put(GoogleVision, newCredential(GoogleVision, "", map[string]string{"api_key": "cached"}, time.Now(), time.Minute, SourceEnvironment))

	done := make(chan struct{})
	go func() {
		cred, err := r.Get(context.Background(), GoogleVision)
		assert.NoError(t, err)
		assert.Equal(t, "cached", cred.Get("api_key"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cache read blocked behind another provider's fetch")
	}
}

func TestGetHonoursCallerContext(t *testing.T) {
	store := &countingStore{blob: []byte(`{"api_key":"x"}`), release: make(chan struct{})}
	defer close(store.release)
	r := NewResolver(store, Config{Lookup: noEnv, FetchTimeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Get(ctx, OpenAI)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCredentialUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestInvalidateForcesRefetch(t *testing.T) {
	store := &countingStore{blob: []byte(`{"api_key":"v1"}`)}
	r := NewResolver(store, Config{Lookup: noEnv})

	_, err := r.Get(context.Background(), OpenAI)
	require.NoError(t, err)
	r.Invalidate(OpenAI)
	r.Invalidate(GoogleVision) // not cached; no-op

	store.blob = []byte(`{"api_key":"v2"}`)
	cred, err := r.Get(context.Background(), OpenAI)
	require.NoError(t, err)
	assert.Equal(t, "v2", cred.Get("api_key"))
	assert.EqualValues(t, 2, store.calls.Load())
}

func TestRefreshAheadServesCachedValue(t *testing.T) {
	store := &countingStore{blob: []byte(`{"api_key":"v1"}`)}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewResolver(store, Config{TTL: time.Minute, RefreshAhead: 10 * time.Second, Lookup: noEnv, Now: clock.Now})

	first, err := r.Get(context.Background(), OpenAI)
	require.NoError(t, err)

	store.blob = []byte(`{"api_key":"v2"}`)
	clock.Advance(55 * time.Second)
	stale, err := r.Get(context.Background(), OpenAI)
	require.NoError(t, err)
	assert.Same(t, first, stale)

	require.Eventually(t, func() bool {
		return r.cached(OpenAI).Get("api_key") == "v2"
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 2, store.calls.Load())
}

func TestCredentialStringRedactsValues(t *testing.T) {
	cred := NewStatic(OpenAI, map[string]string{"api_key": "sk-very-secret"})
	assert.NotContains(t, cred.String(), "sk-very-secret")
	assert.Contains(t, cred.String(), "openai")

	values := cred.Values()
	values["api_key"] = "mutated"
	assert.Equal(t, "sk-very-secret", cred.Get("api_key"))
}

type fakeSecretsClient struct {
	out *secretsmanager.GetSecretValueOutput
	err error
	in  *secretsmanager.GetSecretValueInput
}

func (f *fakeSecretsClient) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestSecretsManagerStore(t *testing.T) {
	t.Run("secret string", func(t *testing.T) {
		client := &fakeSecretsClient{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"api_key":"k"}`)}}
		blob, err := newSecretsManagerStoreWithClient(client).GetSecret(context.Background(), "care/prod/openai-credentials")
		require.NoError(t, err)
		assert.JSONEq(t, `{"api_key":"k"}`, string(blob))
		assert.Equal(t, "care/prod/openai-credentials", aws.ToString(client.in.SecretId))
	})

	t.Run("secret binary", func(t *testing.T) {
		client := &fakeSecretsClient{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte(`{"api_key":"b"}`)}}
		blob, err := newSecretsManagerStoreWithClient(client).GetSecret(context.Background(), "n")
		require.NoError(t, err)
		assert.Equal(t, `{"api_key":"b"}`, string(blob))
	})

	t.Run("empty", func(t *testing.T) {
		client := &fakeSecretsClient{out: &secretsmanager.GetSecretValueOutput{}}
		_, err := newSecretsManagerStoreWithClient(client).GetSecret(context.Background(), "n")
		assert.Error(t, err)
	})

	t.Run("error", func(t *testing.T) {
		client := &fakeSecretsClient{err: errors.New("throttled")}
		_, err := newSecretsManagerStoreWithClient(client).GetSecret(context.Background(), "n")
		assert.ErrorContains(t, err, "throttled")
	})
}
