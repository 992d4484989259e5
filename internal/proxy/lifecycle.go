package proxy

// State is the lifecycle state of the offline cache worker
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	// install failed, the worker never serves
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
