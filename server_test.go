package synctree

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.Host = "127.0.0.1"
	srv, err := NewServer(cfg, NewConsoleJournal("test", "", false), nil)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func doRequest(t *testing.T, srv *Server, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort(srv.Host(), itoa(srv.Port())))
	require.NoError(t, err)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)

	buf := make([]byte, 8192)
	n, _ := conn.Read(buf)
	return string(buf[:n])
}

func TestFlagSemantics_NoDispatchResponse(t *testing.T) {
	srv := testServer(t)
	ep := EndpointFunc(func(req *RequestMsg, conn net.Conn, params URLParameters) (HandleFlags, *ResponseMsg) {
		srv.SetStopFlag()
		return NoDispatchResponse | KeepClientConnection, nil
	})
	routes := []RouteEntry{{Route: NewExactRoute("r", "/x"), Endpoint: ep}}

	go srv.Run(routes)
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", net.JoinHostPort(srv.Host(), itoa(srv.Port())))
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(200 * time.Millisecond))
	conn.Write([]byte("GET /x HTTP/1.1\r\n\r\n"))

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err) // nothing written: deadline exceeded
}

func TestFlagSemantics_StopServer(t *testing.T) {
	srv := testServer(t)
	ep := EndpointFunc(func(req *RequestMsg, conn net.Conn, params URLParameters) (HandleFlags, *ResponseMsg) {
		return StopServer, NewResponseMsg(200)
	})
	routes := []RouteEntry{{Route: NewExactRoute("r", "/stop"), Endpoint: ep}}

	done := make(chan struct{})
	go func() { srv.Run(routes); close(done) }()
	time.Sleep(20 * time.Millisecond)

	resp := doRequest(t, srv, "GET /stop HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "200")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after StopServer flag")
	}
}

func TestNoMatchingRoute404(t *testing.T) {
	srv := testServer(t)
	go srv.Run(nil)
	defer srv.SetStopFlag()
	time.Sleep(20 * time.Millisecond)

	resp := doRequest(t, srv, "GET /nope HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "404")
	assert.Contains(t, resp, "Invalid path, no matching route.")
}
