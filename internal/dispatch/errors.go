package dispatch

import "fmt"

// RoutingError rejects a frame whose (verb, description) pair resolves to no
// handler. The connection stays open; the client gets one error reply.
type RoutingError struct {
	Verb        string
	Description string
	// UnknownVerb distinguishes "invalid action" from "invalid description".
	UnknownVerb bool
}

func (e *RoutingError) Error() string {
	if e.UnknownVerb {
		return fmt.Sprintf("invalid action: %s", e.Verb)
	}
	return fmt.Sprintf("invalid description: %s", e.Description)
}

// Message is the client-facing wording for the error reply.
func (e *RoutingError) Message() string {
	if e.UnknownVerb {
		return "invalid action"
	}
	return "invalid description"
}

// ValidationError rejects a frame whose details are malformed for the route.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
