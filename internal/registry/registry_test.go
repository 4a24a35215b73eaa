package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	got  [][]byte
	fail bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return ErrConnClosed
	}
	c.got = append(c.got, payload)
	return nil
}

func (c *fakeConn) Close(string) {}

func (c *fakeConn) deliveries() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.got))
	copy(out, c.got)
	return out
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	published int
	err       error
	handler   func(accountID string, payload []byte)
}

func (b *fakeBroadcaster) Publish(_ context.Context, _ string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published++
	return nil
}

func (b *fakeBroadcaster) Subscribe(_ context.Context, handler func(string, []byte)) error {
	b.handler = handler
	return nil
}

func (b *fakeBroadcaster) Close() error { return nil }

func (b *fakeBroadcaster) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendReachesAllLocalConns(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	reg := New(broadcaster, testLogger())

	conns := []*fakeConn{newFakeConn("c1"), newFakeConn("c2"), newFakeConn("c3")}
	for _, c := range conns {
		reg.Connect("acct-1", c)
	}

	reg.Send(context.Background(), "acct-1", []byte("hello"))

	for _, c := range conns {
		got := c.deliveries()
		require.Len(t, got, 1)
		assert.Equal(t, "hello", string(got[0]))
	}
	assert.Equal(t, 1, broadcaster.publishCount(), "exactly one publish per send")
}

func TestSendDoesNotCrossAccounts(t *testing.T) {
	reg := New(&fakeBroadcaster{}, testLogger())

	mine := newFakeConn("c1")
	theirs := newFakeConn("c2")
	reg.Connect("acct-1", mine)
	reg.Connect("acct-2", theirs)

	reg.Send(context.Background(), "acct-1", []byte("private"))

	assert.Len(t, mine.deliveries(), 1)
	assert.Empty(t, theirs.deliveries())
}

func TestDisconnectRemovesEntry(t *testing.T) {
	reg := New(&fakeBroadcaster{}, testLogger())

	c := newFakeConn("c1")
	reg.Connect("acct-1", c)
	require.Equal(t, 1, reg.LocalConns("acct-1"))

	reg.Disconnect("acct-1", c)

	reg.Send(context.Background(), "acct-1", []byte("late"))
	assert.Empty(t, c.deliveries(), "disconnected conn must never be delivered to")
	assert.Equal(t, 0, reg.LocalConns("acct-1"))
	assert.Equal(t, 0, reg.Len(), "empty entries are pruned")

	// Idempotent.
	reg.Disconnect("acct-1", c)
}

func TestDuplicateConnectIsNoOp(t *testing.T) {
	reg := New(&fakeBroadcaster{}, testLogger())

	c := newFakeConn("c1")
	reg.Connect("acct-1", c)
	reg.Connect("acct-1", c)

	assert.Equal(t, 1, reg.LocalConns("acct-1"))

	reg.Send(context.Background(), "acct-1", []byte("once"))
	assert.Len(t, c.deliveries(), 1, "duplicate registration must not double-deliver")
}

func TestPublishFailureKeepsLocalDelivery(t *testing.T) {
	broadcaster := &fakeBroadcaster{err: errors.New("redis down")}
	reg := New(broadcaster, testLogger())

	c := newFakeConn("c1")
	reg.Connect("acct-1", c)

	reg.Send(context.Background(), "acct-1", []byte("still here"))

	require.Len(t, c.deliveries(), 1)
	assert.Equal(t, "still here", string(c.deliveries()[0]))
}

func TestFailedDeliveryIsDroppedSilently(t *testing.T) {
	reg := New(&fakeBroadcaster{}, testLogger())

	healthy := newFakeConn("c1")
	broken := newFakeConn("c2")
	broken.fail = true
	reg.Connect("acct-1", healthy)
	reg.Connect("acct-1", broken)

	reg.Send(context.Background(), "acct-1", []byte("best effort"))

	assert.Len(t, healthy.deliveries(), 1, "one conn failing must not block the rest")
}

func TestRemoteBroadcastFeedsLocalConns(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	reg := New(broadcaster, testLogger())
	require.NoError(t, reg.Start(context.Background()))

	c := newFakeConn("c1")
	reg.Connect("acct-1", c)

	// Simulate a push published by a sibling process.
	broadcaster.handler("acct-1", []byte("from afar"))

	require.Len(t, c.deliveries(), 1)
	assert.Equal(t, "from afar", string(c.deliveries()[0]))
	assert.Equal(t, 0, broadcaster.publishCount(), "remote delivery must not republish")
}

func TestConcurrentConnectSendDisconnect(t *testing.T) {
	reg := New(&fakeBroadcaster{}, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := fmt.Sprintf("acct-%d", i%7)
			c := newFakeConn(fmt.Sprintf("conn-%d", i))
			reg.Connect(account, c)
			reg.Send(context.Background(), account, []byte("x"))
			reg.Disconnect(account, c)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
}
