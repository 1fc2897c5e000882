package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carexpert/client/domain"
	"carexpert/client/service"
)

type memoryBroadcaster struct {
	mu        sync.Mutex
	published []string
	onSignal  func(reason string)
}

func (b *memoryBroadcaster) Broadcast(_ context.Context, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, reason)
	return nil
}

func (b *memoryBroadcaster) Listen(_ context.Context, onSignal func(reason string)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSignal = onSignal
	return func() {}, nil
}

func (b *memoryBroadcaster) signal(reason string) {
	b.mu.Lock()
	fn := b.onSignal
	b.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (b *memoryBroadcaster) broadcasts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.published))
	copy(out, b.published)
	return out
}

type countingConn struct {
	mu          sync.Mutex
	disconnects int
}

func (c *countingConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *countingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type countingResetter struct {
	mu     sync.Mutex
	resets int
}

func (r *countingResetter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func newLoggedInStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(service.NewAPIClient("http://localhost:0"), t.TempDir())
	store.mu.Lock()
	store.user = &domain.User{ID: "u1", Name: "Alice"}
	store.mu.Unlock()
	return store
}

func TestTeardownRunsOnce(t *testing.T) {
	store := newLoggedInStore(t)
	conn := &countingConn{}
	chats := &countingResetter{}
	broadcast := &memoryBroadcaster{}
	syn := NewSynchronizer(store, conn, chats, broadcast, nil)
	require.NoError(t, syn.Start(context.Background()))

	broadcast.signal("logout")
	broadcast.signal("logout")
	broadcast.signal("session expired")

	assert.Equal(t, 1, conn.count())
	assert.Nil(t, store.CurrentUser())
	chats.mu.Lock()
	assert.Equal(t, 1, chats.resets)
	chats.mu.Unlock()
}

func TestPeerSignalDoesNotRebroadcast(t *testing.T) {
	store := newLoggedInStore(t)
	broadcast := &memoryBroadcaster{}
	syn := NewSynchronizer(store, &countingConn{}, &countingResetter{}, broadcast, nil)
	require.NoError(t, syn.Start(context.Background()))

	broadcast.signal("logout")
	assert.Empty(t, broadcast.broadcasts())
}

func TestLocalLogoutBroadcasts(t *testing.T) {
	store := newLoggedInStore(t)
	broadcast := &memoryBroadcaster{}
	expired := make(chan string, 1)
	syn := NewSynchronizer(store, &countingConn{}, &countingResetter{}, broadcast, func(reason string) { expired <- reason })
	require.NoError(t, syn.Start(context.Background()))

	syn.Logout()

	assert.Equal(t, []string{"logout"}, broadcast.broadcasts())
	select {
	case reason := <-expired:
		assert.Equal(t, "logout", reason)
	default:
		t.Fatal("expected expiry callback")
	}

	// a second logout is a no-op
	syn.Logout()
	assert.Equal(t, []string{"logout"}, broadcast.broadcasts())
}

func TestSessionExpiryFromAPI(t *testing.T) {
	store := newLoggedInStore(t)
	conn := &countingConn{}
	broadcast := &memoryBroadcaster{}
	syn := NewSynchronizer(store, conn, &countingResetter{}, broadcast, nil)
	require.NoError(t, syn.Start(context.Background()))

	syn.HandleSessionExpiry("session expired")

	assert.Equal(t, 1, conn.count())
	assert.Equal(t, []string{"session expired"}, broadcast.broadcasts())
}

func TestFileBroadcasterSignals(t *testing.T) {
	dir := t.TempDir()
	sender := &fileBroadcaster{path: dir + "/logout.sentinel"}
	receiver := &fileBroadcaster{path: dir + "/logout.sentinel"}

	got := make(chan string, 1)
	stop, err := receiver.Listen(context.Background(), func(reason string) { got <- reason })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, sender.Broadcast(context.Background(), "logout"))

	select {
	case reason := <-got:
		assert.Equal(t, "logout", reason)
	case <-time.After(3 * time.Second):
		t.Fatal("sentinel signal not observed")
	}
}

func TestFileBroadcasterIgnoresStaleMarker(t *testing.T) {
	dir := t.TempDir()
	b := &fileBroadcaster{path: dir + "/logout.sentinel"}
	require.NoError(t, b.Broadcast(context.Background(), "old"))

	got := make(chan string, 1)
	stop, err := b.Listen(context.Background(), func(reason string) { got <- reason })
	require.NoError(t, err)
	defer stop()

	select {
	case reason := <-got:
		t.Fatalf("stale marker observed: %s", reason)
	case <-time.After(1200 * time.Millisecond):
	}
}
