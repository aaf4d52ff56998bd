package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

func TestRouterRoute(t *testing.T) {
	backends := map[string]string{"chat": "chat-backend", "agent": "agent-backend"}
	tests := []struct {
		name     string
		fallback string
		engine   string
		want     string
		wantErr  bool
	}{
		{"known engine", "chat", "agent", "agent-backend", false},
		{"unknown uses fallback", "chat", "ollama", "chat-backend", false},
		{"empty uses fallback", "agent", "", "agent-backend", false},
		{"missing fallback", "vllm", "ollama", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRouter(backends, tt.fallback).Route(tt.engine)
			if tt.wantErr {
				assert.ErrorContains(t, err, tt.engine)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouterEngines(t *testing.T) {
	r := NewRouter(map[string]int{"chat": 1, "agent": 2}, "chat")
	assert.Equal(t, []string{"agent", "chat"}, r.Engines())
	assert.True(t, r.Has("agent"))
	assert.False(t, r.Has("agents"))
}

// namedAdapter answers every stage with its own name.
type namedAdapter string

func (n namedAdapter) Provider() credentials.ProviderID { return credentials.OpenAI }

func (n namedAdapter) Invoke(context.Context, Input, *credentials.Credential) (*Output, error) {
	return &Output{Source: SourceProvider, Text: string(n)}, nil
}

func TestTextEnginesDispatch(t *testing.T) {
	backends := map[string]Adapter{"chat": namedAdapter("chat"), "agent": namedAdapter("agent")}
	tests := []struct {
		engine string
		want   string
	}{
		{"agent", "agent"},
		{"chat", "chat"},
		{"unknown", "chat"},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			te := NewTextEngines(backends, "chat", tt.engine)
			assert.Equal(t, credentials.OpenAI, te.Provider())
			out, err := te.Invoke(context.Background(), Input{Stage: StageSummarize}, openaiCred())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Text)
		})
	}

	_, err := NewTextEngines(map[string]Adapter{}, "chat", "agent").Invoke(context.Background(), Input{}, openaiCred())
	assert.Error(t, err)
}
