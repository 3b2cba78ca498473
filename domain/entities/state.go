package entities

// Connectivity is the user-visible health of the server channel
type Connectivity string

const (
	ConnectivityConnecting   Connectivity = "connecting"
	ConnectivityConnected    Connectivity = "connected"
	ConnectivityDisconnected Connectivity = "disconnected"
)

// Phase is the conversational phase derived from a SessionState
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRecording        Phase = "recording"
	PhaseAwaitingResponse Phase = "awaiting_response"
)

// SessionState is the observable state of a conversation session.
// Recording and AwaitingResponse are never both true.
type SessionState struct {
	Recording        bool         `json:"recording"`
	AwaitingResponse bool         `json:"awaiting_response"`
	Connectivity     Connectivity `json:"connectivity"`
}

// Phase reports which conversational phase the state is in
func (s SessionState) Phase() Phase {
	switch {
	case s.Recording:
		return PhaseRecording
	case s.AwaitingResponse:
		return PhaseAwaitingResponse
	default:
		return PhaseIdle
	}
}

// CanStartRecording reports whether a new utterance may begin
func (s SessionState) CanStartRecording() bool {
	return s.Phase() == PhaseIdle && s.Connectivity == ConnectivityConnected
}
