package dispatch

import (
	"context"

	"school-gateway/internal/models"
)

// Executor is the synchronous business-logic collaborator. The gateway never
// looks inside its results beyond the two well-known push shapes below.
type Executor interface {
	Execute(ctx context.Context, handlerRef string, identity models.Identity, role models.Role, details Details) (map[string]any, error)
}

// Well-known executor result shapes that trigger push fan-out.
const (
	resultKeyChatMessage  = "chatMessage"
	resultKeyMessagesRead = "messagesRead"
)

// ExecutorHandler adapts a business-logic handler ref into a routed Handler.
// The executor's result becomes the reply body; if it carries one of the two
// well-known shapes, a push for the secondary recipient is attached.
func ExecutorHandler(exec Executor, handlerRef string) Handler {
	return func(ctx context.Context, identity models.Identity, details Details) (*Result, error) {
		body, err := exec.Execute(ctx, handlerRef, identity, identity.Role, details)
		if err != nil {
			return nil, err
		}
		return &Result{
			Body: body,
			Push: derivePush(body),
		}, nil
	}
}

// derivePush inspects an executor result for a secondary recipient. A chat
// message result pushes a new-message event to the receiver; a messages-read
// result pushes a read receipt back to the original sender.
func derivePush(body map[string]any) *Push {
	if msg, ok := body[resultKeyChatMessage].(map[string]any); ok {
		if receiver, ok := msg["receiverId"].(string); ok && receiver != "" {
			event := map[string]any{"description": "NEW_MESSAGE"}
			for k, v := range msg {
				event[k] = v
			}
			return &Push{Recipient: receiver, Event: event}
		}
	}
	if rec, ok := body[resultKeyMessagesRead].(map[string]any); ok {
		if sender, ok := rec["senderId"].(string); ok && sender != "" {
			event := map[string]any{"description": "READ_RECEIPT"}
			for k, v := range rec {
				event[k] = v
			}
			return &Push{Recipient: sender, Event: event}
		}
	}
	return nil
}
