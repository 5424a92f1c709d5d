package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"

	"opd-copilot/internal/pipeline"
	"opd-copilot/internal/platform/observability"
)

// Config describes the OpenAI-compatible MedGemma endpoint.
type Config struct {
	BaseURL      string
	Model        string
	APIKey       string
	MaxTokens    int
	Temperature  float32
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	ParseRetry   bool
}

// Client issues chat completions against the MedGemma server. Concurrency
// across every caller sharing the client is bounded by the limiter.
type Client struct {
	api     *openai.Client
	cfg     Config
	limiter *semaphore.Weighted
	log     zerolog.Logger
	calls   zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, limiter *semaphore.Weighted, logger zerolog.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	if limiter == nil {
		limiter = semaphore.NewWeighted(1)
	}
	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		limiter: limiter,
		log:     logger.With().Str("component", "llm").Logger(),
		calls:   zerolog.Nop(),
		sleep:   sleepContext,
	}
}

// SetCallLog writes one JSON line per completion attempt to w.
func (c *Client) SetCallLog(w io.Writer) {
	c.calls = zerolog.New(w).With().Timestamp().Logger()
}

// Complete sends one system+user exchange and returns the raw text reply.
// Transient failures are retried with exponential backoff; the returned
// error wraps pipeline.ErrTransient or pipeline.ErrFatal.
func (c *Client) Complete(ctx context.Context, callType, system, user string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	if err := c.limiter.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("%s: wait for llm slot: %w", callType, err)
	}
	defer c.limiter.Release(1)

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
	}

	callID := uuid.NewString()
	attempts := max(0, c.cfg.MaxRetries) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		out, err := c.once(ctx, req)
		c.logCall(callID, callType, attempt+1, attempts, req, out, time.Since(start), err)

		if err == nil {
			observability.RecordLLMCall(callType, string(pipeline.OutcomeSuccess))
			return out, nil
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w", callType, ctx.Err())
		}

		lastErr = c.classify(err)
		if !errors.Is(lastErr, pipeline.ErrTransient) || attempt == attempts-1 {
			break
		}
		backoff := c.cfg.RetryBackoff * time.Duration(1<<attempt)
		c.log.Warn().Err(err).Str("call_type", callType).
			Int("attempt", attempt+1).Int("max_attempts", attempts).
			Dur("backoff", backoff).Msg("llm request failed, retrying")
		if err := c.sleep(ctx, backoff); err != nil {
			return "", fmt.Errorf("%s: %w", callType, err)
		}
	}

	observability.RecordLLMCall(callType, string(pipeline.Classify(lastErr)))
	return "", fmt.Errorf("%s: %w", callType, lastErr)
}

func (c *Client) once(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	// A server still loading the model answers 202 with a status body and
	// no choices.
	if len(resp.Choices) == 0 {
		return "", errModelLoading
	}
	return resp.Choices[0].Message.Content, nil
}

var errModelLoading = errors.New("model loading in progress")

// classify maps a transport error onto the pipeline taxonomy.
func (c *Client) classify(err error) error {
	if errors.Is(err, errModelLoading) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pipeline.ErrTransient, err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: endpoint not found at %s/chat/completions; check the llm base_url or that the LLM server is running: %w",
			pipeline.ErrFatal, strings.TrimRight(c.cfg.BaseURL, "/"), err)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return fmt.Errorf("%w: %w", pipeline.ErrTransient, err)
	case status != 0:
		return fmt.Errorf("%w: %w", pipeline.ErrFatal, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", pipeline.ErrTransient, err)
	}
	return fmt.Errorf("%w: %w", pipeline.ErrFatal, err)
}

func (c *Client) logCall(id, callType string, attempt, attempts int, req openai.ChatCompletionRequest, out string, elapsed time.Duration, err error) {
	event := c.calls.Info().
		Str("call_id", id).
		Str("call_type", callType).
		Int("attempt", attempt).
		Int("max_attempts", attempts).
		Str("base_url", c.cfg.BaseURL).
		Str("model", req.Model).
		Int("max_tokens", req.MaxTokens).
		Float32("temperature", req.Temperature).
		Str("system_prompt", req.Messages[0].Content).
		Str("user_prompt", req.Messages[1].Content).
		Int64("latency_ms", elapsed.Milliseconds()).
		Bool("success", err == nil)
	if err != nil {
		event = event.Err(err)
	} else {
		event = event.Str("output", out)
	}
	event.Send()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
