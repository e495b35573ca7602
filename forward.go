package synctree

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// ForwardingEndpoint is the per-request detached proxy worker of §4.7: it
// looks up a named child, then either redirects (forwarding disabled) or
// spawns a goroutine that owns the client socket end to end, streaming the
// request downstream and the response back.
type ForwardingEndpoint struct {
	pm      *ProcessManager
	journal Journal
	metrics *Metrics

	ioBufSize          int
	maxInMemContentLen int64

	wg sync.WaitGroup
}

// NewForwardingEndpoint builds a ForwardingEndpoint. ioBufSize == 0 disables
// proxying (§4.7 step 3): every request then gets a 301 redirect instead.
func NewForwardingEndpoint(pm *ProcessManager, journal Journal, metrics *Metrics, ioBufSize int) *ForwardingEndpoint {
	return &ForwardingEndpoint{
		pm:                 pm,
		journal:            journal,
		metrics:            metrics,
		ioBufSize:          ioBufSize,
		maxInMemContentLen: 10 * 1024 * 1024,
	}
}

func (fe *ForwardingEndpoint) Handle(req *RequestMsg, conn net.Conn, params URLParameters) (HandleFlags, *ResponseMsg) {
	procID := params["procID"]
	remainder := params["remainder"]

	cp, ok := fe.pm.Get(procID)
	if !ok {
		return 0, jsonErrorResponse(404, "No such child process.")
	}
	if !cp.IsRunning {
		return 0, jsonErrorResponse(410, "Child process is no longer running.")
	}

	host := cp.Host
	if host == "" {
		host = "localhost"
	}
	targetURL := fmt.Sprintf("http://%s:%d%s", host, cp.Port, remainder)

	if fe.ioBufSize == 0 {
		resp := jsonErrorResponse(301, fmt.Sprintf("Forwarding disabled; access %s directly.", targetURL))
		resp.SetHeader("Location", targetURL)
		return 0, resp
	}

	fe.wg.Add(1)
	go fe.runForward(conn, req, host, cp.Port, remainder)

	return KeepClientConnection | NoDispatchResponse, nil
}

// runForward owns clientConn from this point on: it never touches server
// state, the route table, or the children map (§5).
func (fe *ForwardingEndpoint) runForward(clientConn net.Conn, req *RequestMsg, host string, port int, remainder string) {
	defer fe.wg.Done()
	defer clientConn.Close()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	downstream, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		fe.metrics.recordForwardError("connect")
		fe.bestEffortError(clientConn, 500, fmt.Sprintf("failed to connect to child: %v", err))
		return
	}
	defer downstream.Close()

	fwdReq := *req
	fwdReq.Target = remainder

	if err := fwdReq.Dispatch(downstream, fe.ioBufSize); err != nil {
		fe.metrics.recordForwardError("dispatch")
		fe.bestEffortError(clientConn, 500, fmt.Sprintf("failed to forward request: %v", err))
		return
	}

	buf := make([]byte, fe.ioBufSize)
	resp, err := ReceiveResponse(downstream, buf, fe.maxInMemContentLen)
	if err != nil {
		fe.metrics.recordForwardError("receive")
		fe.bestEffortError(clientConn, 500, fmt.Sprintf("failed to receive child response: %v", err))
		return
	}

	if err := resp.Dispatch(clientConn, fe.ioBufSize); err != nil {
		fe.metrics.recordForwardError("relay")
		fe.journal.Warn(fmt.Sprintf("failed to relay response to client: %v", err))
	}
}

// bestEffortError synthesizes and tries to dispatch a 500 JSON error to the
// client; failures here are logged and dropped per §7's send-path policy.
func (fe *ForwardingEndpoint) bestEffortError(conn net.Conn, status int, msg string) {
	resp := jsonErrorResponse(status, msg)
	resp.SetHeader("Access-Control-Allow-Origin", "*")
	resp.Finalize()
	if err := resp.Dispatch(conn, fe.ioBufSize); err != nil {
		fe.journal.Warn(fmt.Sprintf("failed to dispatch synthesized error to client: %v", err))
	}
}

// Drain blocks until every in-flight forwarding worker has finished, or ctx
// is done. This is this module's chosen resolution of §9's "no barrier"
// open question: ProcessManager.ForkServer calls Drain before re-exec'ing so
// in-flight proxy connections cannot outlive the fork undetected.
func (fe *ForwardingEndpoint) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		fe.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
