package synctree

import "net"

// HandleFlags is a bitset returned by an Endpoint alongside its response,
// instructing the server loop how to proceed.
type HandleFlags uint16

const (
	// NoDispatchResponse suppresses writing the returned ResponseMsg (or
	// any response at all) back to the client; the endpoint has already
	// taken ownership of the socket or simply has nothing to say.
	NoDispatchResponse HandleFlags = 0x1
	// StopServer tells the accept loop to exit after this request.
	StopServer HandleFlags = 0x2
	// KeepClientConnection tells the accept loop not to close the client
	// socket; some other owner (typically a detached forwarding worker)
	// has taken responsibility for it.
	KeepClientConnection HandleFlags = 0x4
)

// Endpoint is the handler contract every route is bound to.
type Endpoint interface {
	// Handle processes req, received over conn with URL parameters params,
	// returning control flags and, unless NoDispatchResponse is set, a
	// response to dispatch.
	Handle(req *RequestMsg, conn net.Conn, params URLParameters) (HandleFlags, *ResponseMsg)
}

// EndpointFunc adapts a plain function to the Endpoint interface.
type EndpointFunc func(req *RequestMsg, conn net.Conn, params URLParameters) (HandleFlags, *ResponseMsg)

func (f EndpointFunc) Handle(req *RequestMsg, conn net.Conn, params URLParameters) (HandleFlags, *ResponseMsg) {
	return f(req, conn, params)
}
