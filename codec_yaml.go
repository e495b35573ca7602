package synctree

import "gopkg.in/yaml.v3"

// YAMLCodec is a PayloadCodec backed by gopkg.in/yaml.v3. The original
// implementation's process-resource code exclusively used YAML::Node for
// every payload (§12.3); this module's ProcessResource keeps that default.
type YAMLCodec struct{}

func (YAMLCodec) ContentType() string { return "application/yaml" }

func (YAMLCodec) ParseRequestBody(content Content) (interface{}, error) {
	if content == nil || content.Size() == 0 {
		return map[string]interface{}{}, nil
	}

	b := contentBytes(content)
	var v interface{}
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, NewRequestError("malformed YAML request body: " + err.Error())
	}
	if v == nil {
		v = map[string]interface{}{}
	}
	return v, nil
}

func (YAMLCodec) SetResponseContent(resp *ResponseMsg, value interface{}) error {
	b, err := yaml.Marshal(value)
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

func (YAMLCodec) MethodNotAllowed() interface{} {
	return map[string]interface{}{"errors": []string{"Method not allowed"}}
}
