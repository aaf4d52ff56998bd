package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

// AgentConfig configures the agents-SDK text engine.
type AgentConfig struct {
	BaseURL   string
	Model     string
	MaxTokens int
	Budget    *TokenBudget
}

// AgentCompleter runs text stages as a single-turn streamed agent run. It
// does not offer tools; stages that need them stay on ChatCompleter.
type AgentCompleter struct {
	cfg AgentConfig

	mu       sync.Mutex
	cred     *credentials.Credential
	provider agents.ModelProvider
}

// NewAgentCompleter creates the agents engine.
func NewAgentCompleter(cfg AgentConfig) *AgentCompleter {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &AgentCompleter{cfg: cfg}
}

func (a *AgentCompleter) Provider() credentials.ProviderID { return credentials.OpenAI }

func (a *AgentCompleter) providerFor(cred *credentials.Credential) (agents.ModelProvider, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cred == cred && a.provider != nil {
		return a.provider, nil
	}
	key := cred.Get("api_key")
	if key == "" {
		return nil, errors.Mark(errors.New("agents: credential has no api_key"), ErrAuth)
	}
	params := agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(key),
		UseResponses: param.NewOpt(false),
	}
	if a.cfg.BaseURL != "" {
		params.BaseURL = param.NewOpt(a.cfg.BaseURL)
	}
	a.provider = agents.NewOpenAIProvider(params)
	a.cred = cred
	return a.provider, nil
}

func (a *AgentCompleter) Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error) {
	provider, err := a.providerFor(cred)
	if err != nil {
		return nil, err
	}
	prompt := a.formatInput(in)
	if prompt == "" {
		return nil, errors.Newf("%s: nothing to send to the model", in.Stage)
	}

	settings := modelsettings.ModelSettings{}
	if a.cfg.MaxTokens > 0 {
		settings.MaxTokens = param.NewOpt(int64(a.cfg.MaxTokens))
	}
	instructions := in.Instructions
	if in.JSONMode {
		instructions += "\nRespond with a single JSON object only."
	}
	agent := agents.New(in.Stage).
		WithInstructions(instructions).
		WithModel(a.cfg.Model).
		WithModelSettings(settings)

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, prompt)
	if err != nil {
		return nil, fromOpenAI(fmt.Errorf("agent stream start: %w", err))
	}
	var text strings.Builder
	for ev := range events {
		collectDelta(ev, &text)
	}
	if streamErr := <-errCh; streamErr != nil {
		return nil, fromOpenAI(fmt.Errorf("agent stream: %w", streamErr))
	}
	return shapeCompletion(in.Stage, text.String(), in.JSONMode)
}

func collectDelta(ev agents.StreamEvent, text *strings.Builder) {
	raw, ok := ev.(agents.RawResponsesStreamEvent)
	if !ok {
		return
	}
	if raw.Data.Type != "response.output_text.delta" {
		return
	}
	text.WriteString(raw.Data.Delta)
}

// formatInput flattens prior turns and the stage text into one prompt.
func (a *AgentCompleter) formatInput(in Input) string {
	var b strings.Builder
	for _, m := range in.Messages {
		role := "User"
		if m.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	if in.Text != "" {
		text, _ := a.cfg.Budget.Truncate(in.Text)
		b.WriteString(text)
	}
	return strings.TrimSpace(b.String())
}
