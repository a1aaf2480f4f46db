package client

// Status is the lifecycle state of a client session.
type Status uint8

const (
	StatusDisconnected   Status = iota // not started
	StatusConnecting                   // dialing
	StatusAuthenticating               // credentials sent, waiting for the snapshot
	StatusEstablished                  // snapshot received
	StatusRunning                      // receive loop active
	StatusStopped                      // closed locally
	StatusDropped                      // closed by the server or a read error
	StatusRejected                     // refused at authentication
	StatusFailed                       // dial or handshake error
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusAuthenticating:
		return "authenticating"
	case StatusEstablished:
		return "established"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusDropped:
		return "dropped"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusDropped, StatusRejected, StatusFailed:
		return true
	}
	return false
}
