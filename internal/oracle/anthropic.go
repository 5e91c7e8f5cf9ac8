package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/turingloop/machine/internal/machine"
)

// transitionToolName is the single permitted output shape's function name.
const transitionToolName = "emit_transition"

var transitionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"q_next":  map[string]any{"type": "string"},
		"s_prime": map[string]any{"type": "string"},
		"d_next":  map[string]any{"type": "string"},
	},
	"required":             []string{"q_next", "s_prime", "d_next"},
	"additionalProperties": false,
}

// AnthropicOracle is the network adapter: one oracle call per tick,
// constrained to the transition tool schema, zero sampling temperature,
// bounded retries on malformed output.
type AnthropicOracle struct {
	apiKey     string
	model      string
	seed       *int
	httpClient *http.Client
	maxAttempts int
}

// AnthropicOption configures an AnthropicOracle.
type AnthropicOption func(*AnthropicOracle)

// WithModel overrides the default model.
func WithModel(model string) AnthropicOption {
	return func(o *AnthropicOracle) { o.model = model }
}

// WithSeed records a sampling seed on the oracle; the request sent to the
// backend does not include it.
func WithSeed(seed int) AnthropicOption {
	return func(o *AnthropicOracle) { o.seed = &seed }
}

// WithTimeout overrides the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) AnthropicOption {
	return func(o *AnthropicOracle) { o.httpClient.Timeout = d }
}

// NewAnthropicOracle builds a network oracle adapter for apiKey.
func NewAnthropicOracle(apiKey string, opts ...AnthropicOption) *AnthropicOracle {
	o := &AnthropicOracle{
		apiKey: apiKey,
		model:  "claude-sonnet-4-5",
		httpClient: &http.Client{
			Timeout: machine.OracleTimeoutDefaultMS * time.Millisecond,
		},
		maxAttempts: machine.OracleMaxAttempts,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools"`
	ToolChoice  anthropicToolChoice `json:"tool_choice"`
	Temperature float32            `json:"temperature"`
	TopP        float32            `json:"top_p"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// Collapse implements Oracle by sending one tool-constrained request per
// call and retrying up to machine.OracleMaxAttempts times on malformed
// output.
func (o *AnthropicOracle) Collapse(ctx context.Context, discipline, q, s, d string) (Transition, string, error) {
	prompt := BuildPrompt(discipline, q, s, d)

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		raw, args, content, err := o.call(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}
		t, perr := parseTransition(args, content)
		if perr != nil {
			lastErr = perr
			continue
		}
		t, verr := validate(t)
		if verr != nil {
			lastErr = verr
			continue
		}
		return t, raw, nil
	}
	return Transition{}, "", &InvalidOutputError{Attempts: o.maxAttempts, Last: lastErr}
}

func (o *AnthropicOracle) call(ctx context.Context, prompt string) (raw, toolArgs, textContent string, err error) {
	req := anthropicRequest{
		Model:     o.model,
		MaxTokens: 2048,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
		Tools: []anthropicTool{{
			Name:        transitionToolName,
			Description: "Emit the single next transition (q_next, s_prime, d_next).",
			InputSchema: transitionSchema,
		}},
		ToolChoice:  anthropicToolChoice{Type: "tool", Name: transitionToolName},
		Temperature: 0,
		TopP:        0,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", "", "", fmt.Errorf("build oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", o.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", "", "", fmt.Errorf("oracle call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", "", fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", "", fmt.Errorf("oracle API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", "", "", fmt.Errorf("parse oracle response: %w", err)
	}

	for _, block := range parsed.Content {
		switch block.Type {
		case "tool_use":
			if block.Name == transitionToolName {
				inputJSON, merr := json.Marshal(block.Input)
				if merr != nil {
					return string(respBody), "", "", fmt.Errorf("marshal tool input: %w", merr)
				}
				return string(respBody), string(inputJSON), "", nil
			}
		case "text":
			textContent += block.Text
		}
	}
	return string(respBody), "", textContent, nil
}
