package tproxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/tproxydebug/internal/testutil"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "tproxy", want: ModeTProxy},
		{in: " REDIRECT ", want: ModeRedirect},
		{in: "", wantErr: true},
		{in: "dnat", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestLocalAddrDstReadsAcceptedConn(t *testing.T) {
	t.Parallel()

	client, conn := testutil.InterceptedPipe("192.168.1.10:54321", "10.0.0.5:80")
	defer client.Close()
	defer conn.Close()

	r, err := NewResolver(ModeTProxy)
	require.NoError(t, err)

	dst, err := r.OriginalDst(conn)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:80", dst.String())
}

func TestNewResolverRedirect(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(ModeRedirect)
	if RedirectSupported {
		assert.NoError(t, err)
	} else {
		assert.Error(t, err)
	}

	_, err = NewResolver(Mode("bogus"))
	assert.Error(t, err)
}

type stringAddr string

func (a stringAddr) Network() string { return "mem" }
func (a stringAddr) String() string  { return string(a) }

func TestTCPAddr(t *testing.T) {
	t.Parallel()

	a, err := TCPAddr(stringAddr("[2001:db8::1]:443"))
	require.NoError(t, err)
	assert.Equal(t, net.ParseIP("2001:db8::1"), a.IP)
	assert.Equal(t, 443, a.Port)

	_, err = TCPAddr(stringAddr("no-port-here"))
	assert.Error(t, err)

	_, err = TCPAddr(nil)
	assert.Error(t, err)

	var nilTCP *net.TCPAddr
	_, err = TCPAddr(nilTCP)
	assert.Error(t, err)
}

func TestListenPlainAcceptsAndAppliesKeepAlive(t *testing.T) {
	t.Parallel()

	ln, err := Listen(ListenConfig{
		Addr:      "127.0.0.1:0",
		Backlog:   DefaultBacklog,
		KeepAlive: net.KeepAliveConfig{Enable: true},
	})
	require.NoError(t, err)
	defer ln.Close()

	_, ok := ln.(*KeepAliveListener)
	require.True(t, ok)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	c, err := ln.Accept()
	require.NoError(t, err)
	defer c.Close()

	_, ok = c.(*net.TCPConn)
	assert.True(t, ok)

	dst, err := LocalAddrDst(c)
	require.NoError(t, err)
	assert.Equal(t, ln.Addr().String(), dst.String())
	assert.Equal(t, client.LocalAddr().String(), c.RemoteAddr().String())
}

func TestListenInvalidAddr(t *testing.T) {
	t.Parallel()

	_, err := Listen(ListenConfig{Addr: "not-an-address"})
	assert.Error(t, err)
}
