package interceptor

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/die-net/tproxydebug/internal/testutil"
)

func TestResponse(t *testing.T) {
	t.Parallel()

	ic := Interception{
		Remote: testutil.MustTCPAddr("192.168.1.10:54321"),
		Dest:   testutil.MustTCPAddr("10.0.0.5:80"),
	}

	assert.Equal(t, "Intercepted connection from 192.168.1.10:54321 destined for 10.0.0.5:80", ic.Body())
	assert.Equal(t,
		"HTTP/1.1 200 OK\r\n\r\nIntercepted connection from 192.168.1.10:54321 destined for 10.0.0.5:80\n",
		string(ic.Response()))
}

func TestFormatEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr *net.TCPAddr
		want string
	}{
		{name: "ipv4", addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 80}, want: "10.0.0.5:80"},
		{name: "ipv4-mapped", addr: &net.TCPAddr{IP: net.ParseIP("::ffff:192.168.1.10"), Port: 54321}, want: "192.168.1.10:54321"},
		{name: "ipv6 unbracketed", addr: &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 443}, want: "2001:db8::1:443"},
		{name: "zone dropped", addr: &net.TCPAddr{IP: net.ParseIP("fe80::1"), Port: 22, Zone: "eth0"}, want: "fe80::1:22"},
		{name: "nil", addr: nil, want: "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatEndpoint(tt.addr))
		})
	}
}
