package synctree

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConns(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return
}

func TestHeaderCaseInsensitive(t *testing.T) {
	m := newMsg()
	m.SetHeader("Content-Type", "application/json")
	assert.Equal(t, "application/json", m.GetHeader("content-TYPE", ""))
}

func TestReceiveExactContentLength(t *testing.T) {
	client, server := pipeConns(t)

	body := []byte(`{"name":"worker"}`)
	req := []byte("POST /api/proc HTTP/1.1\r\nContent-Length: " +
		itoa(len(body)) + "\r\nContent-Type: application/json\r\n\r\n")
	req = append(req, body...)

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.SetWriteDeadline(time.Now().Add(2 * time.Second))
		client.Write(req)
	}()

	buf := make([]byte, 4096)
	got, err := ReceiveRequest(server, buf, 1<<20, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, MethodPost, got.Method)
	assert.Equal(t, int64(len(body)), got.Content().Size())

	dest := make([]byte, len(body))
	n, _ := got.Content().CopyTo(dest, 0)
	assert.Equal(t, body, dest[:n])

	<-done
}

func TestReceiveHeaderTooLong(t *testing.T) {
	client, server := pipeConns(t)

	go func() {
		client.SetWriteDeadline(time.Now().Add(2 * time.Second))
		client.Write([]byte("GET /api/proc HTTP/1.1\r\nX-Pad: "))
		client.Write(make([]byte, 64))
	}()

	buf := make([]byte, 32)
	_, err := ReceiveRequest(server, buf, 1<<20, "127.0.0.1")
	assert.ErrorAs(t, err, &errRequestHeaderTooLongPtr)
}

var errRequestHeaderTooLongPtr RequestHeaderIsTooLong

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
