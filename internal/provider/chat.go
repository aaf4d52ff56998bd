package provider

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

// ChatConfig configures the chat completions adapter.
type ChatConfig struct {
	BaseURL       string
	Model         string
	MaxTokens     int
	MaxToolRounds int
	Budget        *TokenBudget
	HTTPClient    *http.Client
}

// ChatCompleter runs the LLM stages through OpenAI chat completions. When
// the input carries a Toolbox the assistant may call tools; their results
// are fed back in further completion rounds.
type ChatCompleter struct {
	cfg ChatConfig

	mu     sync.Mutex
	cred   *credentials.Credential
	client openai.Client
}

// NewChatCompleter creates the completion adapter.
func NewChatCompleter(cfg ChatConfig) *ChatCompleter {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 3
	}
	return &ChatCompleter{cfg: cfg}
}

func (c *ChatCompleter) Provider() credentials.ProviderID { return credentials.OpenAI }

func (c *ChatCompleter) clientFor(cred *credentials.Credential) (openai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == cred {
		return c.client, nil
	}
	key := cred.Get("api_key")
	if key == "" {
		return openai.Client{}, errors.Mark(errors.New("openai: credential has no api_key"), ErrAuth)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if org := cred.Get("organization"); org != "" {
		opts = append(opts, option.WithOrganization(org))
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	if c.cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.cfg.HTTPClient))
	}
	c.client = openai.NewClient(opts...)
	c.cred = cred
	return c.client, nil
}

func (c *ChatCompleter) Invoke(ctx context.Context, in Input, cred *credentials.Credential) (*Output, error) {
	client, err := c.clientFor(cred)
	if err != nil {
		return nil, err
	}
	messages, err := c.buildMessages(in)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.Model),
		Messages: messages,
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.cfg.MaxTokens))
	}
	if in.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	for _, t := range in.Toolbox {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}

	var used []string
	for round := 0; ; round++ {
		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fromOpenAI(err)
		}
		if len(resp.Choices) == 0 {
			return nil, Malformed("openai: completion has no choices")
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			out, err := shapeCompletion(in.Stage, msg.Content, in.JSONMode)
			if err != nil {
				return nil, err
			}
			out.ToolsUsed = used
			return out, nil
		}
		if round >= c.cfg.MaxToolRounds {
			return nil, Malformed("openai: still calling tools after %d rounds", round)
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			result, err := runTool(ctx, in.Toolbox, call.Function.Name, call.Function.Arguments)
			if err != nil {
				return nil, err
			}
			params.Messages = append(params.Messages, openai.ToolMessage(result, call.ID))
			used = append(used, call.Function.Name)
		}
	}
}

func (c *ChatCompleter) buildMessages(in Input) ([]openai.ChatCompletionMessageParamUnion, error) {
	if in.Text == "" && len(in.Messages) == 0 {
		return nil, errors.Newf("%s: nothing to send to the model", in.Stage)
	}
	var msgs []openai.ChatCompletionMessageParamUnion
	if in.Instructions != "" {
		msgs = append(msgs, openai.SystemMessage(in.Instructions))
	}
	for _, m := range in.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	if in.Text != "" {
		text, cut := c.cfg.Budget.Truncate(in.Text)
		if cut {
			slog.Info("llm input truncated to token budget", "stage", in.Stage)
		}
		msgs = append(msgs, openai.UserMessage(text))
	}
	return msgs, nil
}

// runTool resolves one tool call. Unknown tools and schema-invalid
// arguments are malformed responses; a failing collaborator is reported
// back to the model as the tool result.
func runTool(ctx context.Context, tb Toolbox, name, args string) (string, error) {
	tool, ok := tb.Lookup(name)
	if !ok {
		return "", Malformed("openai: model called unknown tool %q", name)
	}
	result, err := tool.Call(ctx, args)
	if err != nil {
		if Classify(err) == KindMalformed {
			return "", err
		}
		slog.Warn("tool call failed", "tool", name, "error", err)
		return `{"error":"service temporarily unavailable"}`, nil
	}
	return result, nil
}

func fromOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		retryAfter := ""
		if apiErr.Response != nil {
			retryAfter = apiErr.Response.Header.Get("Retry-After")
		}
		return errors.Wrap(FromStatus(apiErr.StatusCode, []byte(apiErr.Message), retryAfter), "openai")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Mark(errors.Wrap(err, "openai"), ErrTransient)
	}
	return Transient(err, "openai request")
}
