package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Akshad135/tailsync/internal/protocol"
)

// heartbeatInterval is how often the hub pings connected clients to keep
// idle NAT/VPN paths from closing their websockets.
const heartbeatInterval = 20 * time.Second

// Transport is the hub's view of one live connection. *websocket.Conn
// satisfies it; tests substitute in-memory fakes.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// member is one entry in the hub's active set. Writes to a single
// transport are serialized with a per-member mutex so heartbeat and
// broadcast traffic never interleave frames on the same connection.
type member struct {
	id uuid.UUID
	tr Transport

	mu sync.Mutex
}

func (m *member) send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks the set of open connections, rebroadcasts inbound messages to
// every other connection, caches the most recent non-heartbeat message for
// late joiners, and emits periodic heartbeats.
//
// The hub has no clipboard semantics: payloads are forwarded unmodified and
// a single bad peer never affects the others.
type Hub struct {
	log   zerolog.Logger
	clock clockwork.Clock

	mu      sync.Mutex
	members map[uuid.UUID]*member
	cache   []byte
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides the wall clock used for heartbeat scheduling.
func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) {
		h.clock = clock
	}
}

// NewHub creates an empty hub. All state (active set, cache slot) is owned
// by the instance, so multiple hubs stay isolated.
func NewHub(log zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		log:     log,
		clock:   clockwork.NewRealClock(),
		members: make(map[uuid.UUID]*member),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a connection to the active set and returns its generated
// id. If the cache slot is non-empty the cached message is delivered to
// this connection alone, before any broadcast traffic reaches it. A replay
// failure is logged, not fatal.
func (h *Hub) Register(tr Transport) uuid.UUID {
	m := &member{id: uuid.New(), tr: tr}

	// The member's write lock is held from before it becomes visible in the
	// active set until the replay completes: a broadcast that snapshots the
	// new member cannot deliver its frame ahead of the cached one.
	m.mu.Lock()
	defer m.mu.Unlock()

	h.mu.Lock()
	h.members[m.id] = m
	total := len(h.members)
	cached := h.cache
	h.mu.Unlock()

	h.log.Info().Str("conn", m.id.String()).Int("total", total).Msg("connection accepted")

	if len(cached) > 0 {
		if err := m.tr.WriteMessage(websocket.TextMessage, cached); err != nil {
			h.log.Warn().Err(err).Str("conn", m.id.String()).Msg("cache replay failed")
		}
	}
	return m.id
}

// Unregister removes a connection from the active set and closes its
// transport. It is idempotent: removing an unknown or already-removed id is
// a no-op.
func (h *Hub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	m, ok := h.members[id]
	if ok {
		delete(h.members, id)
	}
	total := len(h.members)
	h.mu.Unlock()

	if !ok {
		return
	}
	m.tr.Close()
	h.log.Info().Str("conn", id.String()).Int("total", total).Msg("connection closed")
}

// ClientCount returns the size of the active set.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// Broadcast sends raw to every active connection except sender (uuid.Nil
// excludes nobody). Well-formed non-heartbeat messages become the new cache
// value; malformed payloads are tolerated and forwarded without caching.
// Forwarding is best-effort per recipient: a connection whose send fails is
// unregistered as a side effect and the failure is not reported back.
func (h *Hub) Broadcast(raw []byte, sender uuid.UUID) {
	kind, _ := protocol.Classify(raw)

	h.mu.Lock()
	if kind == protocol.KindData {
		h.cache = raw
	}
	// Snapshot membership so sends happen outside the lock and a slow
	// recipient cannot block unrelated connections.
	targets := make([]*member, 0, len(h.members))
	for id, m := range h.members {
		if id != sender {
			targets = append(targets, m)
		}
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		h.log.Debug().Msg("no other clients connected to receive broadcast")
		return
	}

	for _, m := range targets {
		if err := m.send(raw); err != nil {
			h.log.Warn().Err(err).Str("conn", m.id.String()).Msg("send failed, disconnecting client")
			h.Unregister(m.id)
		}
	}
}

// HandleInbound is the top-level handler for a frame received from sender.
// Oversized payloads are dropped and never broadcast; heartbeats are
// swallowed; messages without a recognizable source are dropped. Everything
// else is forwarded with the sender excluded.
func (h *Hub) HandleInbound(sender uuid.UUID, raw []byte) {
	if len(raw) > protocol.MaxMessageSize {
		h.log.Warn().
			Str("conn", sender.String()).
			Int("size", len(raw)).
			Int("limit", protocol.MaxMessageSize).
			Msg("dropping oversized message")
		return
	}

	kind, msg := protocol.Classify(raw)
	switch kind {
	case protocol.KindPing:
		return
	case protocol.KindInvalid:
		h.log.Debug().Str("conn", sender.String()).Msg("dropping message without a recognizable source")
		return
	}

	h.log.Debug().
		Str("source", msg.Source).
		Str("preview", preview(msg.PlainText)).
		Msg("forwarding message")
	h.Broadcast(raw, sender)
}

// RunHeartbeat broadcasts a ping every heartbeat interval while the active
// set is non-empty. It returns once ctx is cancelled, so callers can await
// it during shutdown and know no heartbeat is still in flight. Heartbeats
// never populate the cache.
func (h *Hub) RunHeartbeat(ctx context.Context) error {
	ticker := h.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ping, err := protocol.NewPing().Encode()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if h.ClientCount() == 0 {
				continue
			}
			h.Broadcast(ping, uuid.Nil)
		}
	}
}

// preview truncates message content for log lines, mirroring what the relay
// is allowed to see (ciphertext or opaque text).
func preview(s string) string {
	const max = 20
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
