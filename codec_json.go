package synctree

import "encoding/json"

// JSONCodec is a PayloadCodec backed by the standard library's
// encoding/json. No third-party JSON library appears anywhere in the
// example pack for this concern, so the standard library is the right
// choice here (see DESIGN.md).
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json" }

func (JSONCodec) ParseRequestBody(content Content) (interface{}, error) {
	if content == nil || content.Size() == 0 {
		return map[string]interface{}{}, nil
	}

	b := contentBytes(content)
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, NewRequestError("malformed JSON request body: " + err.Error())
	}
	return v, nil
}

func (JSONCodec) SetResponseContent(resp *ResponseMsg, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c := NewInMemoryContent()
	if err := c.Append(b); err != nil {
		return err
	}
	resp.SetContent(c)
	return nil
}

func (JSONCodec) MethodNotAllowed() interface{} {
	return map[string]interface{}{"errors": []string{"Method not allowed"}}
}

// contentBytes drains a Content fully into a byte slice.
func contentBytes(c Content) []byte {
	size := c.Size()
	buf := make([]byte, size)
	n, _ := c.CopyTo(buf, 0)
	return buf[:n]
}
