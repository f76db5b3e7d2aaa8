// Package prompt assembles the ordered message list sent to the completion model.
package prompt

import (
	"strings"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// DefaultSystemPrompt seeds history and the base system message.
const DefaultSystemPrompt = "You are an great AI  Assistant."

const (
	contextHeader = "Here is some relevant information from the knowledge base:\n"
	contextFooter = "\n\nBased on the above context, answer the user's question. " +
		"If the information is not sufficient, state that you cannot answer from the provided context."

	// NoContextMessage tells the model it is answering without retrieved context.
	NoContextMessage = "No additional context was retrieved from the knowledge base for this query. " +
		"Answer based on your general knowledge."
)

// ContextMessage renders the context injection for non-empty chunks.
func ContextMessage(chunks []string) string {
	return contextHeader + strings.Join(chunks, "\n\n") + contextFooter
}

// BuildMessages returns, in order: the base prompt, the context or no-context
// instruction, then the last maxHistory messages of history oldest first.
// A non-positive maxHistory includes no history.
func BuildMessages(base string, chunks []string, history []domain.Message, maxHistory int) []domain.Message {
	recent := Tail(history, maxHistory)

	msgs := make([]domain.Message, 0, 2+len(recent))
	msgs = append(msgs, domain.SystemMessage(base))
	if len(chunks) > 0 {
		msgs = append(msgs, domain.SystemMessage(ContextMessage(chunks)))
	} else {
		msgs = append(msgs, domain.SystemMessage(NoContextMessage))
	}
	return append(msgs, recent...)
}

// Tail returns the last n messages without copying.
func Tail(history []domain.Message, n int) []domain.Message {
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
