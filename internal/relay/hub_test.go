package relay

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Akshad135/tailsync/internal/protocol"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, frame := range f.frames {
		out[i] = string(frame)
	}
	return out
}

func dataFrame(t *testing.T, source, plain string) []byte {
	t.Helper()
	raw, err := protocol.SyncMessage{
		PlainText: plain,
		HTMLText:  "<p>" + plain + "</p>",
		Source:    source,
		Timestamp: 1700000000,
	}.Encode()
	require.NoError(t, err)
	return raw
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	sender := &fakeTransport{}
	peerA := &fakeTransport{}
	peerB := &fakeTransport{}
	senderID := hub.Register(sender)
	hub.Register(peerA)
	hub.Register(peerB)

	raw := dataFrame(t, "A", "hello")
	hub.HandleInbound(senderID, raw)

	require.Empty(t, sender.received())
	require.Equal(t, []string{string(raw)}, peerA.received())
	require.Equal(t, []string{string(raw)}, peerB.received())
}

func TestLateJoinerReceivesCachedMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	sender := &fakeTransport{}
	senderID := hub.Register(sender)

	raw := dataFrame(t, "A", "hello")
	hub.HandleInbound(senderID, raw)

	late := &fakeTransport{}
	hub.Register(late)
	require.Equal(t, []string{string(raw)}, late.received())
}

// A connection registering while broadcast traffic is in flight must get
// the cached message as its first frame; live broadcasts may only follow
// it. Sequence numbers in the payload make a swap visible as a decrease.
func TestRegisterReplayOrderedBeforeBroadcasts(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	sender := &fakeTransport{}
	senderID := hub.Register(sender)
	hub.HandleInbound(senderID, dataFrame(t, "A", "0"))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			hub.Broadcast(dataFrame(t, "A", strconv.Itoa(i)), senderID)
		}
	}()

	joiners := make([]*fakeTransport, 0, 50)
	for i := 0; i < 50; i++ {
		joiner := &fakeTransport{}
		hub.Register(joiner)
		joiners = append(joiners, joiner)
	}
	close(stop)
	wg.Wait()

	for _, joiner := range joiners {
		frames := joiner.received()
		require.NotEmpty(t, frames, "cache was non-empty, replay must be delivered")
		prev := -1
		for _, frame := range frames {
			kind, msg := protocol.Classify([]byte(frame))
			require.Equal(t, protocol.KindData, kind)
			seq, err := strconv.Atoi(msg.PlainText)
			require.NoError(t, err)
			require.Greater(t, seq, prev, "stale replay delivered after a live broadcast")
			prev = seq
		}
	}
}

func TestEmptyCacheNoReplay(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	joiner := &fakeTransport{}
	hub.Register(joiner)
	require.Empty(t, joiner.received())
}

func TestHeartbeatNeverCached(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	ping, err := protocol.NewPing().Encode()
	require.NoError(t, err)
	hub.Broadcast(ping, uuid.Nil)

	joiner := &fakeTransport{}
	hub.Register(joiner)
	require.Empty(t, joiner.received())
}

func TestPingSwallowedNotForwarded(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	sender := &fakeTransport{}
	peer := &fakeTransport{}
	senderID := hub.Register(sender)
	hub.Register(peer)

	ping, err := protocol.NewPing().Encode()
	require.NoError(t, err)
	hub.HandleInbound(senderID, ping)

	require.Empty(t, peer.received())
}

func TestOversizedMessageDropped(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	sender := &fakeTransport{}
	peer := &fakeTransport{}
	senderID := hub.Register(sender)
	hub.Register(peer)

	huge := make([]byte, protocol.MaxMessageSize+1)
	hub.HandleInbound(senderID, huge)

	require.Empty(t, peer.received())

	// The cache must stay empty too: a late joiner sees nothing.
	late := &fakeTransport{}
	hub.Register(late)
	require.Empty(t, late.received())
}

func TestMissingSourceDropped(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	sender := &fakeTransport{}
	peer := &fakeTransport{}
	senderID := hub.Register(sender)
	hub.Register(peer)

	hub.HandleInbound(senderID, []byte(`{"plain_text":"x"}`))
	hub.HandleInbound(senderID, []byte(`not json`))

	require.Empty(t, peer.received())
}

func TestMalformedBroadcastForwardedNotCached(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	peer := &fakeTransport{}
	hub.Register(peer)

	hub.Broadcast([]byte("garbage"), uuid.Nil)
	require.Equal(t, []string{"garbage"}, peer.received())

	late := &fakeTransport{}
	hub.Register(late)
	require.Empty(t, late.received())
}

func TestSendFailureDisconnectsOnlyBadPeer(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	sender := &fakeTransport{}
	bad := &fakeTransport{fail: true}
	good := &fakeTransport{}
	senderID := hub.Register(sender)
	hub.Register(bad)
	hub.Register(good)

	raw := dataFrame(t, "A", "hello")
	hub.HandleInbound(senderID, raw)

	require.Equal(t, []string{string(raw)}, good.received())
	require.Equal(t, 2, hub.ClientCount())
	require.True(t, bad.closed)
}

func TestUnregisterIdempotent(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	tr := &fakeTransport{}
	id := hub.Register(tr)

	hub.Unregister(id)
	hub.Unregister(id)
	hub.Unregister(uuid.New())
	require.Equal(t, 0, hub.ClientCount())
}

func TestCacheOverwrittenByLaterBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	sender := &fakeTransport{}
	senderID := hub.Register(sender)

	hub.HandleInbound(senderID, dataFrame(t, "A", "first"))
	second := dataFrame(t, "A", "second")
	hub.HandleInbound(senderID, second)

	late := &fakeTransport{}
	hub.Register(late)
	require.Equal(t, []string{string(second)}, late.received())
}

func TestHeartbeatDelivery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hub := NewHub(zerolog.Nop(), WithClock(clock))

	peer := &fakeTransport{}
	hub.Register(peer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- hub.RunHeartbeat(ctx)
	}()

	clock.BlockUntil(1)
	clock.Advance(heartbeatInterval)

	require.Eventually(t, func() bool {
		frames := peer.received()
		if len(frames) != 1 {
			return false
		}
		kind, msg := protocol.Classify([]byte(frames[0]))
		return kind == protocol.KindPing && msg.Source == protocol.SourceServer
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("heartbeat task did not stop after cancellation")
	}
}

func TestHeartbeatSkippedWhenIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	hub := NewHub(zerolog.Nop(), WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.RunHeartbeat(ctx)

	clock.BlockUntil(1)
	clock.Advance(heartbeatInterval)
	clock.BlockUntil(1)

	// Nothing to assert on delivery; joining afterwards must not replay
	// anything either, since pings are never cached.
	late := &fakeTransport{}
	hub.Register(late)
	require.Empty(t, late.received())
}

func TestBroadcastToNobodyIsSafe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	require.NotPanics(t, func() {
		hub.Broadcast(dataFrame(t, "A", "x"), uuid.Nil)
	})
}
