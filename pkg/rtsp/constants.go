package rtsp

// RTSP Methods
const (
	MethodOptions  = "OPTIONS"
	MethodDescribe = "DESCRIBE"
	MethodSetup    = "SETUP"
	MethodPlay     = "PLAY"
	MethodPause    = "PAUSE"
	MethodTeardown = "TEARDOWN"
)

// RTSP Status Codes
const (
	StatusOK                        = 200
	StatusBadRequest                = 400
	StatusNotFound                  = 404
	StatusMethodNotAllowed          = 405
	StatusSessionNotFound           = 454
	StatusMethodNotValidInThisState = 455
	StatusUnsupportedTransport      = 461
	StatusInternalServerError       = 500
	StatusNotImplemented            = 501
	StatusRTSPVersionNotSupported   = 505
)

// RTSP Headers
const (
	HeaderContentBase   = "Content-Base"
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
	HeaderCSeq          = "CSeq"
	HeaderPublic        = "Public"
	HeaderRTPInfo       = "RTP-Info"
	HeaderServer        = "Server"
	HeaderSession       = "Session"
	HeaderTransport     = "Transport"
)

// RTSP Version
const RTSPVersion = "RTSP/1.0"

// Default Values
const (
	DefaultRTSPPort   = 8554
	DefaultClientPort = 25000
	DefaultTimeout    = 60 // seconds
	ServerName        = "reel RTSP server"
)
