package synctree

// PayloadCodec abstracts the payload format (JSON/YAML) a REST resource
// dispatches request/response bodies through (§4.5, §11). The core depends
// only on this shim; no payload-format library is part of the core itself.
type PayloadCodec interface {
	ContentType() string
	ParseRequestBody(content Content) (interface{}, error)
	SetResponseContent(resp *ResponseMsg, value interface{}) error
	MethodNotAllowed() interface{}
}
