package rtsp

// SessionTerminated is emitted once a session has released its resources
// and closed its connection
type SessionTerminated struct {
	Session    *Session
	SessionId  uint64
	RemoteAddr string
}

// PlayStarted represents PLAY start
type PlayStarted struct {
	SessionId uint64
	Resource  string
}

// PlayStopped represents PAUSE or TEARDOWN of a playing session
type PlayStopped struct {
	SessionId uint64
	Resource  string
	Method    string
}

// DeliveryHalted is emitted when the delivery loop ends by itself, either at
// the end of the stream or after a send failure
type DeliveryHalted struct {
	SessionId uint64
	Resource  string
	Frames    int
	Err       error
}
