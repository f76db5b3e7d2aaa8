package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragchat/internal/domain"
	"github.com/kailas-cloud/ragchat/internal/metrics"
	"github.com/kailas-cloud/ragchat/internal/observability"
	"github.com/kailas-cloud/ragchat/internal/usecase/prompt"
)

// ErrorMarkerPrefix starts the inline fragment emitted when the model fails mid-stream.
const ErrorMarkerPrefix = "ERROR: "

// Config tunes a chat turn.
type Config struct {
	SystemPrompt      string
	MaxRecentMessages int // history messages, including the current one, sent to the model
	Temperature       float32
	RetrievalTimeout  time.Duration // 0 means no limit
	CompletionTimeout time.Duration // 0 means no limit
}

// Service runs chat turns against the knowledge base.
type Service struct {
	retriever Retriever
	completer Completer
	history   History
	cfg       Config
	logger    *zap.Logger
}

// New creates a chat service.
func New(r Retriever, c Completer, h History, cfg Config, logger *zap.Logger) *Service {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompt.DefaultSystemPrompt
	}
	return &Service{retriever: r, completer: c, history: h, cfg: cfg, logger: logger}
}

// Stream validates message and returns the reply as a lazy fragment sequence.
// Ranging over it runs retrieval and the model call. A model failure yields a
// final ErrorMarkerPrefix fragment. The turn is appended to history with the
// text received so far on every exit path, including a consumer break.
func (s *Service) Stream(ctx context.Context, message string) (iter.Seq[string], error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("empty message: %w", domain.ErrInvalidInput)
	}

	return func(yield func(string) bool) {
		ctx, span := observability.StartChatSpan(ctx, "stream")
		defer span.End()

		var reply strings.Builder
		status := "ok"
		defer func() {
			s.history.AppendTurn(message, reply.String())
			metrics.ChatTurnsTotal.WithLabelValues("stream", status).Inc()
		}()

		msgs := s.prepare(ctx, message)

		cctx, cancel := withTimeout(ctx, s.cfg.CompletionTimeout)
		defer cancel()

		for frag, err := range s.completer.Stream(cctx, msgs) {
			if err != nil {
				if ctx.Err() != nil {
					status = "cancelled"
					return
				}
				status = "error"
				observability.RecordError(span, err)
				s.logger.Error("Completion stream failed",
					zap.Int("partial_len", reply.Len()),
					zap.Error(err),
				)
				yield(ErrorMarker(err))
				return
			}
			reply.WriteString(frag)
			if !yield(frag) {
				status = "cancelled"
				return
			}
		}
	}, nil
}

// Complete runs one non-streaming turn.
func (s *Service) Complete(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("empty message: %w", domain.ErrInvalidInput)
	}

	ctx, span := observability.StartChatSpan(ctx, "complete")
	defer span.End()

	var reply string
	status := "ok"
	defer func() {
		s.history.AppendTurn(message, reply)
		metrics.ChatTurnsTotal.WithLabelValues("complete", status).Inc()
	}()

	msgs := s.prepare(ctx, message)

	cctx, cancel := withTimeout(ctx, s.cfg.CompletionTimeout)
	defer cancel()

	out, err := s.completer.Complete(cctx, msgs, s.cfg.Temperature)
	if err != nil {
		status = "error"
		observability.RecordError(span, err)
		s.logger.Error("Completion failed", zap.Error(err))
		return "", fmt.Errorf("complete chat: %w", err)
	}
	reply = out
	return reply, nil
}

// ClearHistory empties the conversation and reseeds the system prompt.
func (s *Service) ClearHistory() {
	s.history.Seed(s.cfg.SystemPrompt)
	s.logger.Info("Chat history cleared")
}

// prepare retrieves context and assembles the model input. Retrieval failure
// degrades to no-context mode.
func (s *Service) prepare(ctx context.Context, message string) []domain.Message {
	rctx, cancel := withTimeout(ctx, s.cfg.RetrievalTimeout)
	chunks, err := s.retriever.Retrieve(rctx, message)
	cancel()

	switch {
	case err == nil:
		s.logger.Debug("Using knowledge base context", zap.Int("chunks", len(chunks)))
	case errors.Is(err, domain.ErrNoContext):
		s.logger.Debug("No relevant context found")
	default:
		chunks = nil
		s.logger.Warn("Retrieval failed, answering without context", zap.Error(err))
	}

	hist := append(s.history.Snapshot(), domain.UserMessage(message))
	return prompt.BuildMessages(s.cfg.SystemPrompt, chunks, hist, s.cfg.MaxRecentMessages)
}

// ErrorMarker renders the inline failure fragment.
func ErrorMarker(err error) string {
	return ErrorMarkerPrefix + "An error occurred during response generation: " + err.Error()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
