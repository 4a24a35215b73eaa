package gateway

import (
	"encoding/json"

	"school-gateway/internal/dispatch"
)

// Frame is one inbound client envelope: a verb, the operation within it, and
// the operation's payload.
type Frame struct {
	Action      string           `json:"action"`
	Description string           `json:"description"`
	Details     dispatch.Details `json:"details"`
}

// ActionAuthenticate frames are answered directly by the token gate, letting
// a client probe liveness without entering the dispatcher.
const (
	ActionAuthenticate = "AUTHENTICATE"
	DescPing           = "PING"
)

// Push descriptions originated by the gateway itself.
const (
	EventTokenRefreshed = "TOKEN_REFRESHED"
)

func marshalReply(body map[string]any) ([]byte, error) {
	return json.Marshal(body)
}

func errorReply(message string) []byte {
	payload, _ := json.Marshal(map[string]any{"error": message})
	return payload
}
