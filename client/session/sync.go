package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "carexpert/common/log"
)

const (
	logoutChannel    = "carexpert:logout"
	sentinelFile     = "logout.sentinel"
	sentinelPoll     = 500 * time.Millisecond
	probeTimeout     = 2 * time.Second
	broadcastTimeout = 3 * time.Second
)

// Broadcaster propagates a logout signal to the user's other running
// clients and surfaces signals they emit.
type Broadcaster interface {
	Broadcast(ctx context.Context, reason string) error
	Listen(ctx context.Context, onSignal func(reason string)) (stop func(), err error)
}

// NewBroadcaster probes redis and falls back to a shared sentinel file when
// redis is unreachable. Either way every client of the same user sees the
// same signal path.
func NewBroadcaster(rdb *redis.Client, stateDir string) Broadcaster {
	if rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err == nil {
			commonlog.Infof("event=session_sync action=probe transport=redis status=success")
			return &redisBroadcaster{rdb: rdb}
		} else {
			commonlog.Warnf("event=session_sync action=probe transport=redis status=failed error=%v", err)
		}
	}
	commonlog.Infof("event=session_sync action=probe transport=file status=fallback dir=%s", stateDir)
	return &fileBroadcaster{path: filepath.Join(stateDir, sentinelFile)}
}

type redisBroadcaster struct {
	rdb *redis.Client
}

func (b *redisBroadcaster) Broadcast(ctx context.Context, reason string) error {
	return b.rdb.Publish(ctx, logoutChannel, reason).Err()
}

func (b *redisBroadcaster) Listen(ctx context.Context, onSignal func(reason string)) (func(), error) {
	sub := b.rdb.Subscribe(ctx, logoutChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	go func() {
		for msg := range sub.Channel() {
			onSignal(msg.Payload)
		}
	}()
	return func() { _ = sub.Close() }, nil
}

// fileBroadcaster writes a monotonically increasing marker to a sentinel
// file in the shared state directory and polls it for changes. The marker is
// left in place; listeners track the last value they acted on, so a signal
// is observed exactly once per process regardless of poll timing.
type fileBroadcaster struct {
	path string
}

func (b *fileBroadcaster) Broadcast(_ context.Context, reason string) error {
	payload := fmt.Sprintf("%d %s", time.Now().UnixNano(), reason)
	return os.WriteFile(b.path, []byte(payload), 0o600)
}

func (b *fileBroadcaster) Listen(ctx context.Context, onSignal func(reason string)) (func(), error) {
	done := make(chan struct{})
	var once sync.Once
	last := b.readMarker()

	go func() {
		ticker := time.NewTicker(sentinelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				seq, reason := b.read()
				if seq > last {
					last = seq
					onSignal(reason)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }, nil
}

func (b *fileBroadcaster) readMarker() int64 {
	seq, _ := b.read()
	return seq
}

func (b *fileBroadcaster) read() (int64, string) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		return 0, ""
	}
	parts := strings.SplitN(strings.TrimSpace(string(raw)), " ", 2)
	seq, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, ""
	}
	reason := ""
	if len(parts) == 2 {
		reason = parts[1]
	}
	return seq, reason
}

// Disconnecter is the realtime teardown hook the synchronizer drives.
type Disconnecter interface {
	Disconnect()
}

// Resetter clears in-memory chat state during teardown.
type Resetter interface {
	Reset()
}

// Synchronizer ties session expiry together: a local logout, a 401 from the
// API, or a signal from another client all funnel into one idempotent
// teardown.
type Synchronizer struct {
	store     *Store
	conn      Disconnecter
	chats     Resetter
	broadcast Broadcaster
	onExpired func(reason string)

	stopListen func()
}

func NewSynchronizer(store *Store, conn Disconnecter, chats Resetter, broadcast Broadcaster, onExpired func(reason string)) *Synchronizer {
	return &Synchronizer{
		store:     store,
		conn:      conn,
		chats:     chats,
		broadcast: broadcast,
		onExpired: onExpired,
	}
}

// Start subscribes to peer logout signals. Signals observed from peers tear
// the local session down without re-broadcasting.
func (s *Synchronizer) Start(ctx context.Context) error {
	stop, err := s.broadcast.Listen(ctx, func(reason string) {
		commonlog.Infof("event=session_sync action=signal_received reason=%s", reason)
		s.teardown(reason, false)
	})
	if err != nil {
		return err
	}
	s.stopListen = stop
	return nil
}

func (s *Synchronizer) Stop() {
	if s.stopListen != nil {
		s.stopListen()
		s.stopListen = nil
	}
}

// Logout is a user-initiated logout: tear down locally and tell the user's
// other clients to do the same.
func (s *Synchronizer) Logout() {
	s.teardown("logout", true)
}

// HandleSessionExpiry is wired to the API client's unauthorized hook.
func (s *Synchronizer) HandleSessionExpiry(reason string) {
	s.teardown(reason, true)
}

func (s *Synchronizer) teardown(reason string, propagate bool) {
	if !s.store.Clear() {
		return
	}
	commonlog.Infof("event=session action=teardown reason=%s propagate=%t", reason, propagate)
	if s.chats != nil {
		s.chats.Reset()
	}
	if s.conn != nil {
		s.conn.Disconnect()
	}
	if propagate {
		ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
		defer cancel()
		if err := s.broadcast.Broadcast(ctx, reason); err != nil {
			commonlog.Warnf("event=session_sync action=broadcast status=failed error=%v", err)
		}
	}
	if s.onExpired != nil {
		s.onExpired(reason)
	}
}
