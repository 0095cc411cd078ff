package sync

// Phase is the client-side connection lifecycle state. It governs what the
// reconnect loop does and is the only connection signal surfaced to the
// user.
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseConnecting:
		return "Connecting"
	case PhaseConnected:
		return "Connected"
	case PhasePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}
