package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"boardflow/internal/config"
)

// RateLimitError and PermissionError are the two provider failures that
// surface to the caller instead of degrading the response.
type RateLimitError struct{ Body string }

func (e RateLimitError) Error() string { return "provider rate limited" }

type PermissionError struct {
	Status int
	Body   string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("provider rejected credentials (status %d)", e.Status)
}

// ProviderError covers every other transport or API failure; callers recover
// it into degraded behavior.
type ProviderError struct {
	Status int
	Err    error
}

func (e ProviderError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("provider status %d", e.Status)
}

func (e ProviderError) Unwrap() error { return e.Err }

// ToolCall is one tool proposal from the model. Arguments are kept raw so a
// malformed payload can be skipped without failing the whole turn.
type ToolCall struct {
	ID      string
	Name    string
	RawArgs json.RawMessage
}

type ChatRequest struct {
	System      string
	Input       string
	Tools       []map[string]any
	MaxTokens   int
	Temperature float64
}

type ChatResult struct {
	Text       string
	ToolCalls  []ToolCall
	TokensUsed int
}

// Provider speaks the Anthropic messages API or the OpenAI chat completions
// API, selected by configuration. One bounded HTTP call per request.
type Provider struct {
	Config config.AIConfig
	Client *http.Client
}

func NewProvider(cfg config.AIConfig) *Provider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{Config: cfg, Client: &http.Client{Timeout: timeout}}
}

func (p *Provider) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if strings.EqualFold(p.Config.Provider, "openai") {
		return p.chatOpenAI(ctx, req)
	}
	return p.chatAnthropic(ctx, req)
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Tools       []map[string]any   `json:"tools,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) chatAnthropic(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	body := anthropicRequest{
		Model:       p.Config.Model,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       req.Tools,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContentBlock{{Type: "text", Text: req.Input}},
		}},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, ProviderError{Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/messages"), bytes.NewReader(buf))
	if err != nil {
		return nil, ProviderError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(p.Config.APIKey) != "" {
		httpReq.Header.Set("x-api-key", p.Config.APIKey)
	}
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, ProviderError{Err: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out anthropicResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, ProviderError{Err: err}
	}

	res := &ChatResult{TokensUsed: out.Usage.InputTokens + out.Usage.OutputTokens}
	var text strings.Builder
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			raw, _ := json.Marshal(block.Input)
			res.ToolCalls = append(res.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, RawArgs: raw})
		}
	}
	res.Text = text.String()
	return res, nil
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) chatOpenAI(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Input})

	body := openAIRequest{
		Model:       p.Config.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       toOpenAITools(req.Tools),
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, ProviderError{Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/chat/completions"), bytes.NewReader(buf))
	if err != nil {
		return nil, ProviderError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(p.Config.APIKey) != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.Config.APIKey)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, ProviderError{Err: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out openAIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, ProviderError{Err: err}
	}
	res := &ChatResult{TokensUsed: out.Usage.TotalTokens}
	if len(out.Choices) == 0 {
		return res, nil
	}
	msg := out.Choices[0].Message
	res.Text = msg.Content
	for _, call := range msg.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:      call.ID,
			Name:    call.Function.Name,
			RawArgs: json.RawMessage(call.Function.Arguments),
		})
	}
	return res, nil
}

func (p *Provider) endpoint(path string) string {
	base := strings.TrimRight(p.Config.BaseURL, "/")
	if base == "" {
		if strings.EqualFold(p.Config.Provider, "openai") {
			base = "https://api.openai.com"
		} else {
			base = "https://api.anthropic.com"
		}
	}
	// A fully specified base URL replaces the whole path.
	if strings.Contains(strings.TrimPrefix(base, "https://"), "/") || strings.Contains(strings.TrimPrefix(base, "http://"), "/") {
		return base
	}
	return base + path
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	trimmed := strings.TrimSpace(string(body))
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return RateLimitError{Body: trimmed}
	case http.StatusUnauthorized, http.StatusForbidden:
		return PermissionError{Status: resp.StatusCode, Body: trimmed}
	}
	return ProviderError{Status: resp.StatusCode, Err: fmt.Errorf("provider api status=%d body=%s", resp.StatusCode, trimmed)}
}

func toOpenAITools(input []map[string]any) []openAITool {
	tools := make([]openAITool, 0, len(input))
	for _, raw := range input {
		name, _ := raw["name"].(string)
		description, _ := raw["description"].(string)
		schema, _ := raw["input_schema"].(map[string]any)
		if strings.TrimSpace(name) == "" {
			continue
		}
		tools = append(tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        name,
				Description: description,
				Parameters:  schema,
			},
		})
	}
	return tools
}
