package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
)

// Completer is a chat completion client for an OpenAI-compatible API.
type Completer struct {
	client      *openai.Client
	model       string
	temperature float32
}

// CompleterConfig holds the completion provider settings.
type CompleterConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32 // used by Stream; Complete takes its own
}

// NewCompleter creates an OpenAI-compatible completion client.
func NewCompleter(cfg *CompleterConfig) *Completer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Completer{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// Model returns the configured model name.
func (c *Completer) Model() string { return c.model }

// Stream issues a streaming chat request and yields text fragments as they
// arrive. A failure is yielded once as ("", err) and ends the sequence.
// Breaking out of the loop closes the underlying HTTP stream. Each range
// over the result issues a fresh request.
func (c *Completer) Stream(ctx context.Context, msgs []domain.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		status := "success"
		defer func() {
			metrics.CompletionRequestsTotal.WithLabelValues(c.model, "stream", status).Inc()
			metrics.CompletionDuration.WithLabelValues(c.model, "stream").Observe(time.Since(start).Seconds())
		}()

		stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    toOpenAIMessages(msgs),
			Temperature: c.temperature,
			Stream:      true,
		})
		if err != nil {
			status = "error"
			yield("", wrapAPIError("completion", err, domain.ErrCompletion))
			return
		}
		defer stream.Close()

		first := true
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				status = "error"
				yield("", wrapAPIError("completion", err, domain.ErrCompletion))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			frag := resp.Choices[0].Delta.Content
			if frag == "" {
				continue
			}
			if first {
				first = false
				metrics.CompletionFirstFragment.WithLabelValues(c.model).Observe(time.Since(start).Seconds())
			}
			if !yield(frag, nil) {
				status = "cancelled"
				return
			}
		}
	}
}

// Complete issues a non-streaming chat request and returns the full answer.
func (c *Completer) Complete(ctx context.Context, msgs []domain.Message, temperature float32) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(msgs),
		Temperature: temperature,
	})
	metrics.CompletionDuration.WithLabelValues(c.model, "complete").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(c.model, "complete", "error").Inc()
		return "", wrapAPIError("completion", err, domain.ErrCompletion)
	}
	if len(resp.Choices) == 0 {
		metrics.CompletionRequestsTotal.WithLabelValues(c.model, "complete", "error").Inc()
		return "", fmt.Errorf("empty completion response: %w", domain.ErrCompletion)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(c.model, "complete", "success").Inc()
	return resp.Choices[0].Message.Content, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Completer) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func toOpenAIMessages(msgs []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
