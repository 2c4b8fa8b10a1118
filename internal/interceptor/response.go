package interceptor

import (
	"net"
	"strconv"
)

const statusLine = "HTTP/1.1 200 OK\r\n\r\n"

// Interception identifies one intercepted connection.
type Interception struct {
	// Remote is the client, as seen from the accepted connection's peer.
	Remote *net.TCPAddr
	// Dest is the original destination the client dialed.
	Dest *net.TCPAddr
}

// Body is the diagnostic line sent to the client, without trailing newline.
func (i Interception) Body() string {
	return "Intercepted connection from " + FormatEndpoint(i.Remote) + " destined for " + FormatEndpoint(i.Dest)
}

// Response is the full HTTP response written to the client. It
// has no headers: it is meant for curl and netcat, not for real clients.
func (i Interception) Response() []byte {
	body := i.Body()
	b := make([]byte, 0, len(statusLine)+len(body)+1)
	b = append(b, statusLine...)
	b = append(b, body...)
	return append(b, '\n')
}

// FormatEndpoint renders addr as ip:port. IPv6 addresses are not bracketed and
// IPv4-mapped IPv6 addresses (from dual-stack sockets) are shown as IPv4.
func FormatEndpoint(addr *net.TCPAddr) string {
	if addr == nil {
		return "<nil>"
	}
	ip := addr.IP
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return ip.String() + ":" + strconv.Itoa(addr.Port)
}
