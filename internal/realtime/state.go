package realtime

type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingConnected
	Subscribing
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingConnected:
		return "awaiting connected"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}
