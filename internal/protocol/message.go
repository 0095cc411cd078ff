package protocol

import (
	"encoding/json"
	"time"
)

const (
	// MaxMessageSize is the relay-enforced limit on a single inbound
	// message. Oversized payloads are dropped and never broadcast.
	MaxMessageSize = 10 << 20

	// HardReadLimit is the transport-level read limit. It sits above
	// MaxMessageSize so the relay can reject an oversized payload itself
	// and keep the connection open instead of letting the transport tear
	// it down.
	HardReadLimit = 16 << 20

	// TypePing marks a heartbeat frame. Heartbeats carry no text fields
	// and are never cached or replayed.
	TypePing = "ping"

	// SourceServer is the source id the relay stamps on heartbeats. It
	// never collides with a client device id.
	SourceServer = "server"
)

// SyncMessage is the unit exchanged over the wire. The text fields hold
// ciphertext (or plaintext when encryption is not configured); the relay
// forwards them opaquely and never inspects their content.
type SyncMessage struct {
	PlainText string  `json:"plain_text,omitempty"`
	HTMLText  string  `json:"html_text,omitempty"`
	Source    string  `json:"source"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Type      string  `json:"type,omitempty"`
}

// NewPing builds a relay heartbeat frame.
func NewPing() SyncMessage {
	return SyncMessage{Type: TypePing, Source: SourceServer}
}

// IsPing reports whether the message is a heartbeat.
func (m SyncMessage) IsPing() bool {
	return m.Type == TypePing
}

// Encode serializes the message for the wire.
func (m SyncMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Timestamp converts a wall-clock time into the advisory wire timestamp
// (seconds since epoch, fractional).
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Kind classifies a raw frame for relay routing decisions.
type Kind int

const (
	// KindData is a well-formed non-heartbeat message with a source.
	KindData Kind = iota
	// KindPing is a heartbeat. Swallowed by the relay, never rebroadcast.
	KindPing
	// KindInvalid is malformed JSON or a message without a recognizable
	// source. Dropped at the inbound boundary; tolerated (forwarded but
	// never cached) when handed to broadcast directly.
	KindInvalid
)

// Classify parses raw just enough to route it. It never fails: malformed
// input classifies as KindInvalid.
func Classify(raw []byte) (Kind, SyncMessage) {
	var msg SyncMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return KindInvalid, SyncMessage{}
	}
	if msg.IsPing() {
		return KindPing, msg
	}
	if msg.Source == "" {
		return KindInvalid, msg
	}
	return KindData, msg
}
