package chat

import (
	"time"

	"school-gateway/internal/models"
)

// Push event descriptions, surfaced to clients as the top-level
// "description" key on unsolicited frames.
const (
	EventNewMessage    = "NEW_MESSAGE"
	EventReadReceipt   = "READ_RECEIPT"
	EventMessageEdited = "MESSAGE_EDITED"
)

func newMessageEvent(msg *models.Message) map[string]any {
	return map[string]any{
		"description": EventNewMessage,
		"message":     messageBody(msg),
	}
}

func readReceiptEvent(roomID, readerID string, unreadForRecipient int64) map[string]any {
	return map[string]any{
		"description": EventReadReceipt,
		"roomId":      roomID,
		"readerId":    readerID,
		"unreadCount": unreadForRecipient,
	}
}

func messageEditedEvent(msg *models.Message) map[string]any {
	return map[string]any{
		"description": EventMessageEdited,
		"message":     messageBody(msg),
	}
}

func messageBody(msg *models.Message) map[string]any {
	body := map[string]any{
		"id":        msg.ID,
		"roomId":    msg.RoomID,
		"authorId":  msg.AuthorID,
		"content":   msg.Content,
		"read":      msg.Read,
		"createdAt": msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if msg.EditedAt != nil {
		body["editedAt"] = msg.EditedAt.UTC().Format(time.RFC3339Nano)
	}
	return body
}
