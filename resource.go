package synctree

import "net"

// ResourceContext is the scoped state a RESTHandler method sees during one
// call: the current request and the in-progress response, mutable so a
// handler can set a status code or header (e.g. Location + 201) before the
// adapter fills in content (§4.5).
type ResourceContext struct {
	Request  *RequestMsg
	Response *ResponseMsg
}

// RESTHandler is the payload-agnostic business-logic contract a Resource
// dispatches to by HTTP method (§4.5, grounded on resource.hh's
// SpecializedResource<T>). BaseResource supplies a MethodNotAllowed default
// for every method so implementations only override what they support.
type RESTHandler interface {
	Get(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error)
	Post(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error)
	Put(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error)
	Patch(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error)
	Delete(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error)
	Unknown(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error)
}

// BaseResource implements RESTHandler with every method defaulting to 405
// Method Not Allowed; embed it and override the methods a concrete resource
// supports.
type BaseResource struct {
	Codec PayloadCodec
}

func (b BaseResource) methodNotAllowed(ctx *ResourceContext) (interface{}, error) {
	ctx.Response.Status = 405
	ctx.Response.Reason = reasonPhrase(405)
	return b.Codec.MethodNotAllowed(), nil
}

func (b BaseResource) Get(v interface{}, p URLParameters, ctx *ResourceContext) (interface{}, error) {
	return b.methodNotAllowed(ctx)
}
func (b BaseResource) Post(v interface{}, p URLParameters, ctx *ResourceContext) (interface{}, error) {
	return b.methodNotAllowed(ctx)
}
func (b BaseResource) Put(v interface{}, p URLParameters, ctx *ResourceContext) (interface{}, error) {
	return b.methodNotAllowed(ctx)
}
func (b BaseResource) Patch(v interface{}, p URLParameters, ctx *ResourceContext) (interface{}, error) {
	return b.methodNotAllowed(ctx)
}
func (b BaseResource) Delete(v interface{}, p URLParameters, ctx *ResourceContext) (interface{}, error) {
	return b.methodNotAllowed(ctx)
}
func (b BaseResource) Unknown(v interface{}, p URLParameters, ctx *ResourceContext) (interface{}, error) {
	return b.methodNotAllowed(ctx)
}

// Resource adapts a RESTHandler and a PayloadCodec into an Endpoint,
// dispatching by HTTP method (§4.5).
type Resource struct {
	Handler RESTHandler
	Codec   PayloadCodec
}

// NewResource builds a Resource endpoint.
func NewResource(handler RESTHandler, codec PayloadCodec) *Resource {
	return &Resource{Handler: handler, Codec: codec}
}

func (r *Resource) Handle(req *RequestMsg, conn net.Conn, params URLParameters) (HandleFlags, *ResponseMsg) {
	if req.Method == MethodOptions {
		return 0, r.options(req)
	}

	value, err := r.Codec.ParseRequestBody(req.Content())
	if err != nil {
		return 0, r.codecError(statusOf(err), err.Error())
	}

	resp := NewResponseMsg(200)
	ctx := &ResourceContext{Request: req, Response: resp}

	var out interface{}
	switch req.Method {
	case MethodGet:
		out, err = r.Handler.Get(value, params, ctx)
	case MethodPost:
		out, err = r.Handler.Post(value, params, ctx)
	case MethodPut:
		out, err = r.Handler.Put(value, params, ctx)
	case MethodPatch:
		out, err = r.Handler.Patch(value, params, ctx)
	case MethodDelete:
		out, err = r.Handler.Delete(value, params, ctx)
	default:
		out, err = r.Handler.Unknown(value, params, ctx)
	}

	if err != nil {
		return 0, r.codecError(statusOf(err), err.Error())
	}

	if !resp.HasContent() {
		if err := r.Codec.SetResponseContent(resp, out); err != nil {
			return 0, r.codecError(500, err.Error())
		}
		if resp.HasContent() && resp.GetHeader("Content-Type", "none") == "none" {
			resp.SetHeader("Content-Type", r.Codec.ContentType())
		}
	}

	return 0, resp
}

// options answers the §9 OPTIONS/CORS-preflight policy decision: echo back
// the requested method/headers as the allowed set, answer 204.
func (r *Resource) options(req *RequestMsg) *ResponseMsg {
	resp := NewResponseMsg(204)
	if m := req.GetHeader("Access-Control-Request-Method", ""); m != "" {
		resp.SetHeader("Access-Control-Allow-Methods", m)
	} else {
		resp.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	}
	if h := req.GetHeader("Access-Control-Request-Headers", ""); h != "" {
		resp.SetHeader("Access-Control-Allow-Headers", h)
	}
	return resp
}

func (r *Resource) codecError(status int, msg string) *ResponseMsg {
	resp := NewResponseMsg(status)
	errVal := map[string]interface{}{"errors": []string{msg}}
	r.Codec.SetResponseContent(resp, errVal)
	resp.SetHeader("Content-Type", r.Codec.ContentType())
	return resp
}
