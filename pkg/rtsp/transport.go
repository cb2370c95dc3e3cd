package rtsp

import (
	"regexp"
	"strconv"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
)

// clients like "Transport: RTP/UDP; client_port=25000" are not RFC 2326
// compliant, so a plain scan backs up the header parser
var clientPortPattern = regexp.MustCompile(`(?i)client_port\s*=\s*(\d+)`)

// NegotiateClientPort returns the client's RTP port from a Transport header
// value. Absent, malformed or out of range values yield fallback and false.
func NegotiateClientPort(transport string, fallback int) (int, bool) {
	if transport == "" {
		return fallback, false
	}

	var th headers.Transport
	if err := th.Unmarshal(base.HeaderValue{transport}); err == nil && th.ClientPorts != nil {
		if port := th.ClientPorts[0]; validPort(port) {
			return port, true
		}
	}

	if m := clientPortPattern.FindStringSubmatch(transport); m != nil {
		if port, err := strconv.Atoi(m[1]); err == nil && validPort(port) {
			return port, true
		}
	}

	return fallback, false
}

// buildTransportResponse builds the Transport response header
func buildTransportResponse(clientPort, serverPort int) string {
	delivery := headers.TransportDeliveryUnicast
	th := headers.Transport{
		Protocol:    headers.TransportProtocolUDP,
		Delivery:    &delivery,
		ClientPorts: &[2]int{clientPort, clientPort + 1},
	}
	if validPort(serverPort) {
		th.ServerPorts = &[2]int{serverPort, serverPort + 1}
	}
	return th.Marshal()[0]
}

func validPort(port int) bool {
	return port > 0 && port < 65535
}
