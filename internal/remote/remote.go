// Package remote abstracts the remote generative service as an opaque
// chat endpoint: a factory that starts chats and chat handles that
// exchange text. The handle preserves conversational context; the rest
// of the core never sees provider details.
//
// A chat handle keeps ordered hidden state, so concurrent Send calls on
// the same handle are undefined. The session lock upstream guarantees
// at most one in-flight Send per handle.
package remote

import "context"

// Role identifies who produced a primed history message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one synthetic prior turn used to prime a chat.
type Message struct {
	Role Role
	Text string
}

// Chat is one stateful conversation with the remote service.
type Chat interface {
	// Send delivers text and returns the remote's textual reply.
	Send(ctx context.Context, text string) (string, error)
}

// Service starts chats against a remote generative backend.
type Service interface {
	// StartChat opens a conversation primed with system instructions
	// and an optional synthetic history.
	StartChat(ctx context.Context, system string, history []Message) (Chat, error)
}
