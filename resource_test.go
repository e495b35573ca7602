package synctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoResource struct {
	BaseResource
}

func (echoResource) Get(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}

func TestResourceGetSetsContentType(t *testing.T) {
	res := NewResource(echoResource{BaseResource{Codec: JSONCodec{}}}, JSONCodec{})

	req := &RequestMsg{Msg: Msg{headers: newHeaders()}, Method: MethodGet}
	flags, resp := res.Handle(req, nil, URLParameters{})

	assert.Equal(t, HandleFlags(0), flags)
	require.NotNil(t, resp)
	assert.Equal(t, "application/json", resp.GetHeader("Content-Type", ""))
	assert.True(t, resp.HasContent())
}

func TestResourceMethodNotAllowed(t *testing.T) {
	res := NewResource(echoResource{BaseResource{Codec: JSONCodec{}}}, JSONCodec{})

	req := &RequestMsg{Msg: Msg{headers: newHeaders()}, Method: MethodDelete}
	_, resp := res.Handle(req, nil, URLParameters{})

	assert.Equal(t, 405, resp.Status)
}

func TestResourceOptions(t *testing.T) {
	res := NewResource(echoResource{BaseResource{Codec: JSONCodec{}}}, JSONCodec{})

	req := &RequestMsg{Msg: Msg{headers: newHeaders()}, Method: MethodOptions}
	req.SetHeader("Access-Control-Request-Method", "GET")

	_, resp := res.Handle(req, nil, URLParameters{})
	assert.Equal(t, 204, resp.Status)
	assert.Equal(t, "GET", resp.GetHeader("Access-Control-Allow-Methods", ""))
}
