// Package sync implements the client side of the clipboard synchronization
// protocol: a reconnecting websocket session to the relay, application of
// remote updates to the local clipboard, and debounce/echo suppression for
// locally-originated changes.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Akshad135/tailsync/internal/clipboard"
	"github.com/Akshad135/tailsync/internal/crypto"
	"github.com/Akshad135/tailsync/internal/protocol"
)

const (
	defaultHandshakeTimeout  = 2 * time.Second
	defaultKeepaliveInterval = 20 * time.Second
	defaultKeepaliveTimeout  = 20 * time.Second
	defaultReconnectBackoff  = 3 * time.Second
	defaultPausedPoll        = time.Second
	defaultIgnoreWindow      = time.Second
	defaultDebounce          = 500 * time.Millisecond

	// defaultQueueSize is the dispatcher mailbox size.
	defaultQueueSize = 64
)

// transport is the engine's view of the active connection. *websocket.Conn
// satisfies it; unit tests substitute in-memory fakes.
type transport interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Config configures an Engine. URL, DeviceID, Transform and Clipboard are
// required; durations default to the protocol constants when zero.
type Config struct {
	// URL is the relay websocket endpoint (ws[s]://host:port/ws).
	URL string
	// DeviceID identifies this client in message sources.
	DeviceID string
	// Transform encrypts/decrypts the payload text fields.
	Transform *crypto.Transform
	// Clipboard is the local read/write surface.
	Clipboard clipboard.Clipboard
	// OnPhaseChange, when set, is invoked on every phase transition. It
	// must not block; it may be called from engine goroutines.
	OnPhaseChange func(Phase)

	Logger zerolog.Logger
	Clock  clockwork.Clock

	// Debounce is the minimum spacing between locally-originated sends.
	Debounce time.Duration
	// IgnoreWindow suppresses the local-change echo fired right after a
	// remote update is applied.
	IgnoreWindow      time.Duration
	HandshakeTimeout  time.Duration
	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	ReconnectBackoff  time.Duration
	PausedPoll        time.Duration
}

// Engine owns one logical connection to the relay at a time and keeps the
// local clipboard consistent with the network.
//
// Two execution contexts exist: the session loop (Run) drives the network
// connection, and the clipboard monitor calls NotifyLocalChange from its
// own goroutine. All shared state below the dispatcher is mutated only on
// the dispatch goroutine.
type Engine struct {
	cfg      Config
	log      zerolog.Logger
	clock    clockwork.Clock
	dispatch *dispatcher

	desiredActive atomic.Bool
	phase         atomic.Int32

	// Dispatcher-owned state.
	conn             transport
	lastSentAt       time.Time
	ignoreUntil      time.Time
	lastAppliedPlain string
	applied          bool
}

// New validates cfg and creates an engine in the Disconnected phase with
// desiredActive set.
func New(cfg Config) (*Engine, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay URL is required")
	}
	if cfg.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	if cfg.Transform == nil {
		return nil, errors.New("transform is required")
	}
	if cfg.Clipboard == nil {
		return nil, errors.New("clipboard is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.IgnoreWindow <= 0 {
		cfg.IgnoreWindow = defaultIgnoreWindow
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaultKeepaliveTimeout
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectBackoff
	}
	if cfg.PausedPoll <= 0 {
		cfg.PausedPoll = defaultPausedPoll
	}

	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger,
		clock:    cfg.Clock,
		dispatch: newDispatcher(defaultQueueSize),
	}
	e.desiredActive.Store(true)
	return e, nil
}

// Run drives the reconnect loop until ctx is cancelled. Connection failures
// are retried after a fixed backoff; while paused the loop only polls the
// user's intent.
func (e *Engine) Run(ctx context.Context) error {
	defer e.dispatch.stop()
	defer e.setPhase(PhaseDisconnected)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !e.desiredActive.Load() {
			e.setPhase(PhasePaused)
			if !e.sleep(ctx, e.cfg.PausedPoll) {
				return ctx.Err()
			}
			continue
		}

		e.setPhase(PhaseConnecting)
		conn, err := e.dial(ctx)
		if err != nil {
			e.log.Warn().Err(err).Str("url", e.cfg.URL).Msg("connect failed")
			e.setPhase(PhaseDisconnected)
			if !e.sleep(ctx, e.cfg.ReconnectBackoff) {
				return ctx.Err()
			}
			continue
		}

		e.runSession(ctx, conn)
		e.setPhase(PhaseDisconnected)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.desiredActive.Load() {
			if !e.sleep(ctx, e.cfg.ReconnectBackoff) {
				return ctx.Err()
			}
		}
	}
}

// NotifyLocalChange is the Local Change Source callback. It is safe to call
// from any goroutine: the actual work is handed off to the dispatch
// context, never executed against the transport inline.
func (e *Engine) NotifyLocalChange() {
	if !e.desiredActive.Load() {
		return
	}
	e.dispatch.do(e.sendLocalChange)
}

// Pause stops syncing: the open session is actively closed and the
// reconnect loop parks until Resume.
func (e *Engine) Pause() {
	if !e.desiredActive.CompareAndSwap(true, false) {
		return
	}
	e.dispatch.do(func() {
		if e.conn != nil {
			e.conn.Close()
		}
	})
}

// Resume re-enables syncing after Pause.
func (e *Engine) Resume() {
	e.desiredActive.Store(true)
}

// Active reports the user's connect intent.
func (e *Engine) Active() bool {
	return e.desiredActive.Load()
}

// Phase returns the current connection phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	if Phase(e.phase.Swap(int32(p))) == p {
		return
	}
	e.log.Info().Stringer("phase", p).Msg("connection phase changed")
	if e.cfg.OnPhaseChange != nil {
		e.cfg.OnPhaseChange(p)
	}
}

func (e *Engine) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: e.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, e.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("failed to dial %s: %w", e.cfg.URL, err)
	}
	return conn, nil
}

// runSession owns one live connection: it confirms liveness, installs the
// transport into the dispatch context, runs keepalive pings and the read
// loop, and tears everything down on the first error.
func (e *Engine) runSession(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	// Close the transport as the first step of shutdown so the read loop
	// unblocks immediately on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Immediate ping to confirm liveness before reporting connected.
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(e.cfg.KeepaliveTimeout)); err != nil {
		e.log.Warn().Err(err).Msg("liveness ping failed")
		return
	}

	readWait := e.cfg.KeepaliveInterval + e.cfg.KeepaliveTimeout
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	e.dispatch.call(func() { e.conn = conn })
	defer e.dispatch.call(func() {
		if e.conn == transport(conn) {
			e.conn = nil
		}
	})

	// A Pause that landed while dialing had no transport to close; honor it
	// now instead of reporting a connection the user no longer wants.
	if !e.desiredActive.Load() {
		return
	}

	e.setPhase(PhaseConnected)

	pingDone := make(chan struct{})
	defer close(pingDone)
	go e.keepalive(conn, pingDone)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if e.desiredActive.Load() && ctx.Err() == nil {
				e.log.Warn().Err(err).Msg("session ended")
			}
			return
		}
		if !e.desiredActive.Load() {
			return
		}

		var msg protocol.SyncMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// A decode error ends the session; the reconnect loop
			// brings up a fresh one.
			e.log.Warn().Err(err).Int("size", len(raw)).Msg("malformed message, closing session")
			return
		}
		e.dispatch.do(func() { e.applyRemote(msg) })
	}
}

// keepalive sends protocol-level pings so intermediary NAT/VPN paths keep
// the connection alive. WriteControl is safe to call concurrently with the
// dispatcher's data writes.
func (e *Engine) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := e.clock.NewTicker(e.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(e.cfg.KeepaliveTimeout)); err != nil {
				return
			}
		}
	}
}

// applyRemote applies an inbound message to the local clipboard. Runs on
// the dispatch goroutine.
func (e *Engine) applyRemote(msg protocol.SyncMessage) {
	if msg.IsPing() || msg.Source == e.cfg.DeviceID {
		return
	}

	plain, err := e.cfg.Transform.Decrypt(msg.PlainText)
	if err != nil {
		e.log.Warn().Err(err).Str("source", msg.Source).Msg("failed to decrypt plain text field")
	}
	html, err := e.cfg.Transform.Decrypt(msg.HTMLText)
	if err != nil {
		e.log.Warn().Err(err).Str("source", msg.Source).Msg("failed to decrypt html field")
	}

	// Idempotent re-delivery of the value we already applied is a no-op.
	if e.applied && plain == e.lastAppliedPlain {
		return
	}

	// The OS will fire a change notification for the value we are about
	// to write; the ignore window keeps it from echoing back out.
	e.ignoreUntil = e.clock.Now().Add(e.cfg.IgnoreWindow)
	e.lastAppliedPlain = plain
	e.applied = true

	if err := e.cfg.Clipboard.Write(clipboard.Content{Plain: plain, HTML: html}); err != nil {
		e.log.Warn().Err(err).Msg("failed to apply remote update to clipboard")
	}
}

// sendLocalChange encodes the current clipboard value and sends it over the
// active connection. Runs on the dispatch goroutine.
func (e *Engine) sendLocalChange() {
	now := e.clock.Now()
	if now.Before(e.ignoreUntil) {
		return
	}
	if now.Sub(e.lastSentAt) < e.cfg.Debounce {
		return
	}

	content, err := e.cfg.Clipboard.Read()
	if err != nil {
		e.log.Debug().Err(err).Msg("clipboard read failed")
		return
	}
	if e.applied && content.Plain == e.lastAppliedPlain {
		// Value already known to the network, even outside the ignore
		// window (the user copied the same text again).
		return
	}

	if e.conn == nil {
		// No session: the change is dropped, not queued. The next
		// change after reconnection propagates normally.
		e.log.Debug().Msg("no active connection, dropping local change")
		return
	}

	msg := protocol.SyncMessage{
		PlainText: e.cfg.Transform.Encrypt(content.Plain),
		HTMLText:  e.cfg.Transform.Encrypt(content.HTML),
		Source:    e.cfg.DeviceID,
		Timestamp: protocol.Timestamp(now),
	}
	raw, err := msg.Encode()
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to encode message")
		return
	}

	// This value is now what the network knows about, whether or not the
	// send below succeeds.
	e.lastAppliedPlain = content.Plain
	e.applied = true

	if err := e.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		e.log.Warn().Err(err).Msg("send failed, reconnect loop will recover the session")
		return
	}
	e.lastSentAt = now
}

// sleep waits for d or cancellation, whichever comes first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.clock.After(d):
		return true
	}
}
