package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

func openaiCred() *credentials.Credential {
	return credentials.NewStatic(credentials.OpenAI, map[string]string{"api_key": "sk-test"})
}

func completionJSON(content string) string {
	c, _ := json.Marshal(content)
	return `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + string(c) + `}}]}`
}

func toolCallJSON(name, args string) string {
	a, _ := json.Marshal(args)
	return `{"id":"c0","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"` + name + `","arguments":` + string(a) + `}}]}}]}`
}

// scriptedLLM answers successive chat requests with the given bodies and
// records every request body.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []string
	status   int
	requests [][]byte
}

func (s *scriptedLLM) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, body)
		idx := len(s.requests) - 1
		s.mu.Unlock()

		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		if s.status != 0 {
			w.WriteHeader(s.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error"}}`))
			return
		}
		if idx >= len(s.replies) {
			idx = len(s.replies) - 1
		}
		_, _ = w.Write([]byte(s.replies[idx]))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestChat(srv *httptest.Server) *ChatCompleter {
	return NewChatCompleter(ChatConfig{BaseURL: srv.URL + "/v1/", Model: "gpt-4o-mini"})
}

func TestChatCompleterText(t *testing.T) {
	llm := &scriptedLLM{replies: []string{completionJSON("Patient is stable.")}}
	srv := llm.server(t)

	out, err := newTestChat(srv).Invoke(context.Background(), Input{
		Stage:        StageSummarize,
		Instructions: "Summarize.",
		Text:         "Long clinical note.",
	}, openaiCred())
	require.NoError(t, err)
	assert.Equal(t, "Patient is stable.", out.Text)
	assert.Equal(t, SourceProvider, out.Source)

	require.Len(t, llm.requests, 1)
	msgs := gjson.GetBytes(llm.requests[0], "messages").Array()
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Get("role").String())
	assert.Equal(t, "Long clinical note.", msgs[1].Get("content").String())
	assert.Equal(t, "gpt-4o-mini", gjson.GetBytes(llm.requests[0], "model").String())
}

func TestChatCompleterRiskJSON(t *testing.T) {
	llm := &scriptedLLM{replies: []string{completionJSON(`{"score": 82, "factors": ["age", "smoker"], "rationale": "Multiple factors."}`)}}
	srv := llm.server(t)

	out, err := newTestChat(srv).Invoke(context.Background(), Input{Stage: StageRiskScore, Text: "note", JSONMode: true}, openaiCred())
	require.NoError(t, err)
	require.NotNil(t, out.Risk)
	assert.InDelta(t, 0.82, out.Risk.Score, 1e-9)
	assert.Equal(t, "high", out.Risk.Level)
	assert.Equal(t, []string{"age", "smoker"}, out.Risk.Factors)
	assert.Equal(t, "json_object", gjson.GetBytes(llm.requests[0], "response_format.type").String())
}

func TestChatCompleterRejectsNonJSON(t *testing.T) {
	llm := &scriptedLLM{replies: []string{completionJSON("I think the risk is moderate.")}}
	srv := llm.server(t)

	_, err := newTestChat(srv).Invoke(context.Background(), Input{Stage: StageRiskScore, Text: "note", JSONMode: true}, openaiCred())
	assert.Equal(t, KindMalformed, Classify(err))
}

func TestChatCompleterToolRound(t *testing.T) {
	llm := &scriptedLLM{replies: []string{
		toolCallJSON("find_doctors", `{"specialty":"cardiology"}`),
		completionJSON("Dr. Lee is available."),
	}}
	srv := llm.server(t)

	var gotArgs string
	tool, err := NewTool("find_doctors", "Search doctors",
		`{"type":"object","properties":{"specialty":{"type":"string"}},"required":["specialty"]}`,
		func(_ context.Context, args json.RawMessage) (string, error) {
			gotArgs = string(args)
			return `[{"id":"d1","name":"Dr. Lee"}]`, nil
		})
	require.NoError(t, err)

	out, err := newTestChat(srv).Invoke(context.Background(), Input{
		Stage:    StageAssistantReply,
		Messages: []Message{{Role: "user", Content: "I need a heart doctor"}},
		Toolbox:  Toolbox{tool},
	}, openaiCred())
	require.NoError(t, err)
	assert.Equal(t, "Dr. Lee is available.", out.Text)
	assert.Equal(t, []string{"find_doctors"}, out.ToolsUsed)
	assert.JSONEq(t, `{"specialty":"cardiology"}`, gotArgs)

	require.Len(t, llm.requests, 2)
	assert.Equal(t, "find_doctors", gjson.GetBytes(llm.requests[0], "tools.0.function.name").String())
	msgs := gjson.GetBytes(llm.requests[1], "messages").Array()
	last := msgs[len(msgs)-1]
	assert.Equal(t, "tool", last.Get("role").String())
	assert.Equal(t, "call_1", last.Get("tool_call_id").String())
}

func TestChatCompleterInvalidToolArgs(t *testing.T) {
	llm := &scriptedLLM{replies: []string{toolCallJSON("find_doctors", `{"city":"Austin"}`)}}
	srv := llm.server(t)

	called := false
	tool, err := NewTool("find_doctors", "Search doctors",
		`{"type":"object","properties":{"specialty":{"type":"string"}},"required":["specialty"]}`,
		func(context.Context, json.RawMessage) (string, error) { called = true; return "[]", nil })
	require.NoError(t, err)

	_, err = newTestChat(srv).Invoke(context.Background(), Input{Stage: StageAssistantReply, Text: "hi", Toolbox: Toolbox{tool}}, openaiCred())
	assert.Equal(t, KindMalformed, Classify(err))
	assert.False(t, called)
}

func TestChatCompleterStatusMapping(t *testing.T) {
	tests := map[int]Kind{
		http.StatusUnauthorized:        KindAuth,
		http.StatusTooManyRequests:     KindQuota,
		http.StatusInternalServerError: KindTransient,
		http.StatusBadRequest:          KindTransient,
	}
	for status, want := range tests {
		llm := &scriptedLLM{status: status}
		srv := llm.server(t)
		_, err := newTestChat(srv).Invoke(context.Background(), Input{Stage: StageSummarize, Text: "x"}, openaiCred())
		assert.Equal(t, want, Classify(err), "status %d", status)
	}
}

func TestChatCompleterMissingKey(t *testing.T) {
	c := NewChatCompleter(ChatConfig{})
	_, err := c.Invoke(context.Background(), Input{Text: "x"}, credentials.NewStatic(credentials.OpenAI, nil))
	assert.Equal(t, KindAuth, Classify(err))
}

func TestShapeCompletionRecommend(t *testing.T) {
	out, err := shapeCompletion(StageRecommend, "```json\n{\"recommendations\":[\"Rest\",\" \",\"Hydrate\"]}\n```", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rest", "Hydrate"}, out.Recommendations)

	_, err = shapeCompletion(StageRecommend, `{"recommendations":[]}`, true)
	assert.Equal(t, KindMalformed, Classify(err))

	_, err = shapeCompletion(StageSummarize, "   ", false)
	assert.Equal(t, KindMalformed, Classify(err))
}

func TestTokenBudgetRuneFallback(t *testing.T) {
	b := &TokenBudget{max: 2}
	text, cut := b.Truncate("abcdefghijkl")
	assert.True(t, cut)
	assert.Equal(t, "abcdefgh", text)

	text, cut = b.Truncate("short")
	assert.False(t, cut)
	assert.Equal(t, "short", text)
	assert.Equal(t, 2, b.Count("abcdefg"))

	var nilBudget *TokenBudget
	text, cut = nilBudget.Truncate("anything")
	assert.False(t, cut)
	assert.Equal(t, "anything", text)
}
