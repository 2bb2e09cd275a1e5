package mailsync

// ConnState is the coarse connection state of the engine.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Refreshing
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Refreshing:
		return "refreshing"
	}
	return "disconnected"
}

// Online reports whether requests can be issued.
func (s ConnState) Online() bool {
	return s == Connected || s == Refreshing
}

// Status is the load status of one mailbox.
type Status struct {
	Loading bool
	// Err is the last error of a user visible load, cleared by the next
	// successful one.
	Err error
}

type mailboxStatus struct {
	loading int
	err     error
}
