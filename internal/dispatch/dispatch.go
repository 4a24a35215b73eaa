package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"school-gateway/internal/models"
	"school-gateway/internal/registry"
)

// Verb groups handlers by broad intent; Description selects the operation
// within it.
type Verb string

const (
	VerbRead   Verb = "READ"
	VerbSearch Verb = "SEARCH"
	VerbVerify Verb = "VERIFY"
	VerbCreate Verb = "CREATE"
	VerbUpdate Verb = "UPDATE"
)

// Details is the free-form payload carried by an inbound frame.
type Details map[string]any

// Push is a derived event for an account other than the caller, delivered
// through the registry after the handler returns.
type Push struct {
	Recipient string
	Event     map[string]any
}

// Result is a handler's reply to the calling connection, plus an optional
// push for a secondary recipient.
type Result struct {
	Body map[string]any
	Push *Push
}

// Handler serves one (verb, description) route for one role.
type Handler func(ctx context.Context, identity models.Identity, details Details) (*Result, error)

// Enricher reshapes details before the handler runs, e.g. resolving a
// symbolic reference into the executor's expected form.
type Enricher func(identity models.Identity, details Details) (Details, error)

type route struct {
	enrich  Enricher
	handler Handler
}

// Table is one role's two-level routing space. Tables for different roles are
// disjoint: the same strings under another role bind to independent handlers.
type Table map[Verb]map[string]route

// Register binds a handler, replacing any previous binding for the pair.
func (t Table) Register(verb Verb, description string, handler Handler) {
	t.RegisterEnriched(verb, description, nil, handler)
}

// RegisterEnriched binds a handler with a pre-dispatch enrichment step.
func (t Table) RegisterEnriched(verb Verb, description string, enrich Enricher, handler Handler) {
	if t[verb] == nil {
		t[verb] = make(map[string]route)
	}
	t[verb][description] = route{enrich: enrich, handler: handler}
}

// Routes lists the registered (verb, description) pairs, for introspection.
func (t Table) Routes() []string {
	var out []string
	for verb, descs := range t {
		for desc := range descs {
			out = append(out, string(verb)+"/"+desc)
		}
	}
	return out
}

// Dispatcher routes authenticated frames to handlers and performs push
// fan-out for results that must reach other accounts.
type Dispatcher struct {
	tables   map[models.Role]Table
	registry *registry.Registry
	logger   *slog.Logger
}

func NewDispatcher(tables map[models.Role]Table, reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		tables:   tables,
		registry: reg,
		logger:   logger,
	}
}

// Dispatch resolves and invokes the handler for (role, verb, description).
// Unknown verb and unknown description both come back as *RoutingError; a
// handler panic is contained and surfaced as an error, never a crash.
func (d *Dispatcher) Dispatch(ctx context.Context, role models.Role, verb Verb, description string, details Details, identity models.Identity) (result *Result, err error) {
	table, ok := d.tables[role]
	if !ok {
		return nil, &RoutingError{Verb: string(verb), UnknownVerb: true}
	}
	descs, ok := table[verb]
	if !ok {
		return nil, &RoutingError{Verb: string(verb), UnknownVerb: true}
	}
	rt, ok := descs[description]
	if !ok {
		return nil, &RoutingError{Verb: string(verb), Description: description}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered",
				"role", role, "verb", verb, "description", description, "panic", r)
			result = nil
			err = &ValidationError{Reason: "request could not be processed"}
		}
	}()

	if rt.enrich != nil {
		details, err = rt.enrich(identity, details)
		if err != nil {
			return nil, err
		}
	}

	result, err = rt.handler(ctx, identity, details)
	if err != nil {
		return nil, err
	}

	if result != nil && result.Push != nil {
		d.pushEvent(ctx, result.Push)
	}

	return result, nil
}

// pushEvent delivers a derived event to its secondary recipient. Best-effort:
// a failed push never fails the originating frame.
func (d *Dispatcher) pushEvent(ctx context.Context, push *Push) {
	payload, err := json.Marshal(push.Event)
	if err != nil {
		d.logger.Error("failed to marshal push event", "error", err)
		return
	}
	d.registry.Send(ctx, push.Recipient, payload)
}
