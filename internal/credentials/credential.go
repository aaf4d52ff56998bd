package credentials

import (
	"fmt"
	"maps"
	"time"
)

// ProviderID identifies one external AI provider.
type ProviderID string

const (
	OpenAI       ProviderID = "openai"
	GoogleVision ProviderID = "google-vision"
	AWS          ProviderID = "aws"
	AzureSpeech  ProviderID = "azure-speech"
)

// Providers lists every provider the resolver knows how to resolve.
var Providers = []ProviderID{OpenAI, GoogleVision, AWS, AzureSpeech}

// Source records where a credential value came from.
type Source string

const (
	SourceSecretStore Source = "secret-store"
	SourceEnvironment Source = "environment"
)

// Credential is an immutable snapshot of one provider's secret material.
// The resolver replaces a Credential on refresh; it never mutates one.
type Credential struct {
	provider   ProviderID
	secretName string
	value      map[string]string
	fetchedAt  time.Time
	ttl        time.Duration
	source     Source
}

func newCredential(provider ProviderID, secretName string, value map[string]string, fetchedAt time.Time, ttl time.Duration, source Source) *Credential {
	return &Credential{
		provider:   provider,
		secretName: secretName,
		value:      maps.Clone(value),
		fetchedAt:  fetchedAt,
		ttl:        ttl,
		source:     source,
	}
}

// NewStatic builds a credential outside the resolver, for callers that
// already hold secret material (CLI one-shots, tests).
func NewStatic(provider ProviderID, value map[string]string) *Credential {
	return newCredential(provider, "", value, time.Now(), 0, SourceEnvironment)
}

func (c *Credential) Provider() ProviderID  { return c.provider }
func (c *Credential) SecretName() string    { return c.secretName }
func (c *Credential) FetchedAt() time.Time  { return c.fetchedAt }
func (c *Credential) TTL() time.Duration    { return c.ttl }
func (c *Credential) Source() Source        { return c.source }

// Get returns the value stored under key, or "" when absent.
func (c *Credential) Get(key string) string {
	if c == nil {
		return ""
	}
	return c.value[key]
}

// Values returns a copy of the secret map.
func (c *Credential) Values() map[string]string {
	return maps.Clone(c.value)
}

// Valid reports whether the credential is still inside its TTL at now.
func (c *Credential) Valid(now time.Time) bool {
	return now.Sub(c.fetchedAt) < c.ttl
}

// String never prints secret values.
func (c *Credential) String() string {
	return fmt.Sprintf("credential{provider=%s source=%s keys=%d}", c.provider, c.source, len(c.value))
}
