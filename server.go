package synctree

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// RouteEntry pairs a Route with the Endpoint it dispatches to, in the order
// they are tried (§4.3: first match wins, no collision detection).
type RouteEntry struct {
	Route    Route
	Endpoint Endpoint
}

// Server is the single-threaded, blocking accept/receive/route/dispatch loop
// of §4.4. It owns its listening socket. It holds no I/O buffers: a receive
// buffer of IOBufSize bytes is allocated for each request, and a send buffer
// of IOBufSize bytes for each dispatch.
type Server struct {
	cfg     *Config
	journal Journal
	metrics *Metrics

	listener *net.TCPListener
	host     string
	port     int

	keepGoing bool
}

// NewServer binds host:port (port 0 lets the kernel choose) and returns a
// Server with its effective port discovered via the listener's address,
// exactly as §4.6 step 1 requires before a child is "forked".
func NewServer(cfg *Config, journal Journal, metrics *Metrics) (*Server, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", addr, err)
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", addr, err)
	}

	effectivePort := ln.Addr().(*net.TCPAddr).Port

	return &Server{
		cfg:       cfg,
		journal:   journal,
		metrics:   metrics,
		listener:  ln,
		host:      cfg.Host,
		port:      effectivePort,
		keepGoing: true,
	}, nil
}

// NewServerFromListener wraps an already-bound listener (the re-exec'd
// child's inherited fd 3, recovered via net.FileListener — §4.6).
func NewServerFromListener(cfg *Config, journal Journal, metrics *Metrics, ln *net.TCPListener) *Server {
	return &Server{
		cfg:       cfg,
		journal:   journal,
		metrics:   metrics,
		listener:  ln,
		host:      cfg.Host,
		port:      ln.Addr().(*net.TCPAddr).Port,
		keepGoing: true,
	}
}

// Host is the server's bind host.
func (s *Server) Host() string { return s.host }

// Port is the effective bound port (may differ from the requested one when
// the requested port was 0).
func (s *Server) Port() int { return s.port }

// Listener exposes the underlying *net.TCPListener. The process manager does
// not use it: ForkServer binds a separate listener for each child (§4.6).
func (s *Server) Listener() *net.TCPListener { return s.listener }

// Journal exposes the server's journal for endpoints constructed around it.
func (s *Server) Journal() Journal { return s.journal }

// Config exposes the server's configuration.
func (s *Server) Config() *Config { return s.cfg }

// SetStopFlag is the external entry point endpoints use to break the accept
// loop after the current request completes.
func (s *Server) SetStopFlag() { s.keepGoing = false }

// Close closes the listening socket.
func (s *Server) Close() error { return s.listener.Close() }

// Run accepts connections until SetStopFlag is called (directly, or via an
// endpoint returning StopServer), processing exactly one request at a time
// per §4.4/§5.
func (s *Server) Run(routes []RouteEntry) error {
	for s.keepGoing {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.keepGoing {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.journal.Warn(fmt.Sprintf("accept error: %v", err))
			continue
		}

		if s.cfg.ConnectionTimeoutS > 0 {
			deadline := time.Now().Add(time.Duration(s.cfg.ConnectionTimeoutS) * time.Second)
			conn.SetDeadline(deadline)
		}

		s.serveOne(conn, routes)
	}
	return nil
}

// serveOne implements the body of §4.4's accept loop for a single accepted
// connection.
func (s *Server) serveOne(conn net.Conn, routes []RouteEntry) {
	clientIP := "unknown"
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		clientIP = ta.IP.String()
	}

	buf := make([]byte, s.cfg.IOBufSize)
	req, err := ReceiveRequest(conn, buf, s.cfg.MaxInMemContentLen, clientIP)
	if err != nil {
		s.metrics.recordRequest("", 0)
		switch {
		case errors.As(err, new(ClientClosedConnection)):
			s.journal.Debug("client closed connection before sending a request")
			conn.Close()
			return
		case isClientSocketError(err):
			s.journal.Warn(fmt.Sprintf("client socket error: %v", err))
			conn.Close()
			return
		default:
			status := statusOf(err)
			resp := jsonErrorResponse(status, err.Error())
			s.dispatchAndClose(conn, resp, 0)
			return
		}
	}

	var flags HandleFlags
	var resp *ResponseMsg
	matchedName := ""

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.journal.Error(fmt.Sprintf("endpoint panic: %v", r))
				resp = jsonErrorResponse(400, fmt.Sprintf("%v", r))
				flags = 0
			}
		}()

		for _, re := range routes {
			params, ok := re.Route.CanHandle(req.URI.Path())
			if !ok {
				continue
			}
			matchedName = re.Route.Name()
			flags, resp = re.Endpoint.Handle(req, conn, params)
			return
		}

		resp = jsonErrorResponse(404, "Invalid path, no matching route.")
	}()

	s.metrics.recordRouteMatch(matchedName)
	if resp != nil {
		s.metrics.recordRequest(string(req.Method), resp.Status)
		resp.SetHeader("Access-Control-Allow-Origin", "*")
	}

	if flags&NoDispatchResponse == 0 && resp != nil {
		resp.Finalize()
		if err := resp.Dispatch(conn, s.cfg.IOBufSize); err != nil {
			s.journal.Warn(fmt.Sprintf("dispatch error: %v", err))
		}
	}

	if flags&KeepClientConnection == 0 {
		conn.Close()
	}

	if flags&StopServer != 0 {
		s.keepGoing = false
	}
}

func (s *Server) dispatchAndClose(conn net.Conn, resp *ResponseMsg, ioBufSize int) {
	if ioBufSize == 0 {
		ioBufSize = s.cfg.IOBufSize
	}
	resp.SetHeader("Access-Control-Allow-Origin", "*")
	resp.Finalize()
	if err := resp.Dispatch(conn, ioBufSize); err != nil {
		s.journal.Warn(fmt.Sprintf("error-response dispatch failed: %v", err))
	}
	conn.Close()
}

func isClientSocketError(err error) bool {
	var cse *ClientSocketError
	return errors.As(err, &cse)
}

// jsonErrorResponse builds the `{"errors":["..."]}` body §7 mandates for
// every synthesized error response.
func jsonErrorResponse(status int, msg string) *ResponseMsg {
	resp := NewResponseMsg(status)
	body := fmt.Sprintf(`{"errors":[%q]}`, msg)
	content := NewInMemoryContent()
	content.Append([]byte(body))
	resp.SetContent(content)
	resp.SetHeader("Content-Type", "application/json")
	return resp
}
