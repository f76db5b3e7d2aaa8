package chat

import (
	"context"
	"iter"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Retriever looks up context chunks for a user message.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Completer talks to the chat model.
type Completer interface {
	Stream(ctx context.Context, msgs []domain.Message) iter.Seq2[string, error]
	Complete(ctx context.Context, msgs []domain.Message, temperature float32) (string, error)
}

// History is the shared conversation log.
type History interface {
	Snapshot() []domain.Message
	AppendTurn(user, assistant string)
	Seed(systemPrompt string)
}
