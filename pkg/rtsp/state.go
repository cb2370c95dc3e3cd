package rtsp

// SessionState represents the current state of an RTSP session
type SessionState int

const (
	StateInit SessionState = iota
	StateReady
	StatePlaying
	StateTornDown
)

// String returns the string representation of the session state
func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StateTornDown:
		return "TornDown"
	default:
		return "Unknown"
	}
}

// Effect is the side effect a transition asks the session to perform
type Effect int

const (
	EffectNone Effect = iota
	EffectOpen        // open the media resource and negotiate transport
	EffectStart       // start the delivery loop
	EffectStop        // stop the delivery loop
	EffectRelease     // stop the delivery loop and release every resource
)

// String returns the string representation of the effect
func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "None"
	case EffectOpen:
		return "Open"
	case EffectStart:
		return "Start"
	case EffectStop:
		return "Stop"
	case EffectRelease:
		return "Release"
	default:
		return "Unknown"
	}
}

// Transition looks up the session state table. An invalid request leaves the
// state unchanged and answers 500; TEARDOWN always ends in StateTornDown.
// A failed EffectOpen is the caller's business: the state then stays put and
// the status becomes 404.
func Transition(state SessionState, method string) (SessionState, int, Effect) {
	if method == MethodTeardown {
		if state == StateTornDown {
			return StateTornDown, StatusOK, EffectNone
		}
		return StateTornDown, StatusOK, EffectRelease
	}

	switch state {
	case StateInit:
		if method == MethodSetup {
			return StateReady, StatusOK, EffectOpen
		}

	case StateReady:
		switch method {
		case MethodSetup:
			return StateReady, StatusOK, EffectNone
		case MethodPlay:
			return StatePlaying, StatusOK, EffectStart
		case MethodPause:
			return StateReady, StatusOK, EffectNone
		}

	case StatePlaying:
		switch method {
		case MethodPlay:
			return StatePlaying, StatusOK, EffectNone
		case MethodPause:
			return StateReady, StatusOK, EffectStop
		}
	}

	return state, StatusInternalServerError, EffectNone
}
