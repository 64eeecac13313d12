// Package llm talks to an OpenAI-compatible chat completions backend
// and enforces typed, schema-constrained replies for the pipeline
// agents. Every call pins temperature to zero and names a JSON Schema
// through response_format; replies are decoded with unknown fields
// disallowed, and a reply that fails decoding earns exactly one
// corrective re-prompt before the call is abandoned.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/perigee-labs/groundwork/internal/circuitbreaker"
	"github.com/perigee-labs/groundwork/internal/config"
	"github.com/perigee-labs/groundwork/internal/metrics"
	"github.com/perigee-labs/groundwork/internal/tracing"
)

// Generator is the typed generation contract the pipeline agents call.
// Implementations decode the backend reply into req.Out and return an
// error when no schema-conformant reply could be obtained.
type Generator interface {
	Generate(ctx context.Context, req Request) error
}

// Request describes one schema-constrained generation call.
type Request struct {
	// Agent labels the calling agent in logs and metrics.
	Agent string
	// System and Prompt become the system and user messages.
	System string
	Prompt string
	// Schema constrains the reply shape.
	Schema Schema
	// Out receives the decoded reply. Must be a non-nil pointer.
	Out any
}

// BackendError reports that the generation backend could not produce a
// usable reply: a transport failure, a non-2xx status, or a reply that
// still violated the schema after the corrective re-prompt. The
// orchestrator treats it as fatal for the current run.
type BackendError struct {
	Agent      string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation backend failed for %s agent: status %d: %v", e.Agent, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation backend failed for %s agent: %v", e.Agent, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Client calls an OpenAI-compatible chat completions endpoint through a
// circuit breaker, with optional client-side request pacing.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Generator = (*Client)(nil)

// NewClient builds a client for the configured backend. A zero
// RequestsPerMinute disables client-side pacing.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	wrapper := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: timeout}, "llm-backend", "llm", logger)
	return &Client{
		baseURL: normalizeBaseURL(cfg.BaseURL),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    wrapper,
		limiter: limiter,
		logger:  logger,
	}
}

// Model returns the configured default model name.
func (c *Client) Model() string { return c.model }

// Generate runs one schema-constrained call. The reply is decoded into
// req.Out with unknown fields disallowed. A reply that fails strict
// decoding is re-prompted once with the decode error attached; a second
// violation, a transport error or a non-2xx status yields a
// *BackendError.
func (c *Client) Generate(ctx context.Context, req Request) error {
	start := time.Now()
	err := c.generate(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordLLMMetrics(req.Agent, status, time.Since(start).Seconds())
	return err
}

func (c *Client) generate(ctx context.Context, req Request) error {
	messages := make([]chatMessage, 0, 4)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	content, err := c.complete(ctx, req.Agent, messages, req.Schema)
	if err != nil {
		return err
	}
	decodeErr := decodeStrict(content, req.Out)
	if decodeErr == nil {
		return nil
	}

	// One corrective round trip, carrying the decode error so the model
	// can see what was wrong with its first attempt.
	metrics.LLMReprompts.Inc()
	c.logger.Warn("Reply violated schema, re-prompting once",
		zap.String("agent", req.Agent),
		zap.String("schema", req.Schema.Name),
		zap.Error(decodeErr))

	messages = append(messages,
		chatMessage{Role: "assistant", Content: content},
		chatMessage{Role: "user", Content: fmt.Sprintf(
			"Your previous reply did not conform to the %s schema: %v. Respond again with only a valid JSON object for that schema.",
			req.Schema.Name, decodeErr)},
	)
	content, err = c.complete(ctx, req.Agent, messages, req.Schema)
	if err != nil {
		return err
	}
	if decodeErr = decodeStrict(content, req.Out); decodeErr != nil {
		return &BackendError{Agent: req.Agent, Err: fmt.Errorf("reply violated schema after re-prompt: %w", decodeErr)}
	}
	return nil
}

// complete performs one chat completion round trip and returns the
// assistant message content.
func (c *Client) complete(ctx context.Context, agent string, messages []chatMessage, schema Schema) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &BackendError{Agent: agent, Err: fmt.Errorf("rate limit wait aborted: %w", err)}
		}
	}

	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
	}
	if len(schema.Raw) > 0 {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:   schema.Name,
				Schema: schema.Raw,
				Strict: true,
			},
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectTraceparent(ctx, request)

	resp, err := c.http.Do(request)
	if err != nil {
		return "", &BackendError{Agent: agent, Err: fmt.Errorf("chat request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &BackendError{
			Agent:      agent,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("chat completion returned %s: %s", resp.Status, strings.TrimSpace(string(snippet))),
		}
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", &BackendError{Agent: agent, Err: fmt.Errorf("failed to decode chat response: %w", err)}
	}
	if len(decoded.Choices) == 0 {
		return "", &BackendError{Agent: agent, Err: errors.New("chat response missing choices")}
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &BackendError{Agent: agent, Err: errors.New("chat response empty")}
	}
	return content, nil
}

// decodeStrict zeroes the target, then decodes the extracted JSON with
// unknown fields disallowed. Zeroing first keeps fields from a failed
// earlier attempt from leaking into the re-prompt decode.
func decodeStrict(content string, out any) error {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return errors.New("decode target must be a non-nil pointer")
	}
	v.Elem().Set(reflect.Zero(v.Elem().Type()))

	text := extractJSON(content)
	if text == "" {
		return errors.New("reply contains no JSON object")
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest serializes temperature unconditionally so the pinned zero
// reaches the backend instead of being dropped as an empty field.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// normalizeBaseURL accepts the common spellings of an OpenAI-compatible
// endpoint (host, host/, host/v1, scheme://host) and yields
// scheme://host/v1 with no trailing slash.
func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}
