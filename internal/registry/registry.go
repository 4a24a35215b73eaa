package registry

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
)

const shardCount = 32

// shard holds the presence entries for a slice of the account space. Locking
// per shard keeps unrelated accounts' traffic from serializing on one mutex.
type shard struct {
	mu    sync.RWMutex
	conns map[string]map[string]Conn // accountID -> connID -> Conn
}

// Registry is the in-process presence table: which connections are live for
// which account. Pushes for accounts held by sibling processes travel through
// the Broadcaster.
type Registry struct {
	shards      [shardCount]*shard
	broadcaster Broadcaster
	logger      *slog.Logger
}

func New(broadcaster Broadcaster, logger *slog.Logger) *Registry {
	r := &Registry{
		broadcaster: broadcaster,
		logger:      logger,
	}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string]map[string]Conn)}
	}
	return r
}

// Start wires the broadcaster's inbound stream into local delivery. Must be
// called once before traffic flows; Close on the broadcaster stops it.
func (r *Registry) Start(ctx context.Context) error {
	return r.broadcaster.Subscribe(ctx, r.deliverLocal)
}

func (r *Registry) shardFor(accountID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return r.shards[h.Sum32()%shardCount]
}

// Connect registers a connection under the account's presence entry, creating
// the entry if absent. Registering the same handle twice is a no-op.
func (r *Registry) Connect(accountID string, conn Conn) {
	s := r.shardFor(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.conns[accountID]
	if entry == nil {
		entry = make(map[string]Conn)
		s.conns[accountID] = entry
	}
	entry[conn.ID()] = conn

	r.logger.Debug("connection registered", "accountID", accountID, "connID", conn.ID())
}

// Disconnect removes the connection from the account's entry. Unconditional
// and idempotent; the entry itself is pruned once empty.
func (r *Registry) Disconnect(accountID string, conn Conn) {
	s := r.shardFor(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.conns[accountID]
	if !ok {
		return
	}
	delete(entry, conn.ID())
	if len(entry) == 0 {
		delete(s.conns, accountID)
	}

	r.logger.Debug("connection unregistered", "accountID", accountID, "connID", conn.ID())
}

// Send delivers payload to every local connection for the account and
// publishes it exactly once so sibling processes can do the same. A publish
// failure is logged and swallowed; local delivery already happened.
func (r *Registry) Send(ctx context.Context, accountID string, payload []byte) {
	r.deliverLocal(accountID, payload)

	if err := r.broadcaster.Publish(ctx, accountID, payload); err != nil {
		r.logger.Warn("broadcast publish failed, remote delivery dropped",
			"accountID", accountID, "error", err)
	}
}

// deliverLocal fans payload out to the local connections only. Connections
// that fail mid-delivery drop that one message.
func (r *Registry) deliverLocal(accountID string, payload []byte) {
	s := r.shardFor(accountID)

	s.mu.RLock()
	entry := s.conns[accountID]
	targets := make([]Conn, 0, len(entry))
	for _, c := range entry {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.Deliver(payload); err != nil {
			r.logger.Debug("delivery dropped", "accountID", accountID, "connID", c.ID(), "error", err)
		}
	}
}

// LocalConns returns the number of live local connections for the account.
func (r *Registry) LocalConns(accountID string) int {
	s := r.shardFor(accountID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[accountID])
}

// Len returns the number of accounts with at least one local connection.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.conns)
		s.mu.RUnlock()
	}
	return total
}
