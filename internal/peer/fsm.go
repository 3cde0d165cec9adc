package peer

// State is the RFC 4271 session state, extended with the passive-wait
// meaning of ACTIVE.
type State uint8

const (
	Idle State = iota
	Active
	Connect
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Connect:
		return "connect"
	case OpenSent:
		return "opensent"
	case OpenConfirm:
		return "openconfirm"
	case Established:
		return "established"
	}
	return "unknown"
}
