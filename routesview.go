package synctree

import (
	"encoding/json"
	"fmt"
	"net"
)

// RoutesView is a read-only debug endpoint over a live route table,
// restored from original_source/routes-view.* (§4.9). GET only; any other
// method is 405.
type RoutesView struct {
	routes []RouteEntry
}

// NewRoutesView builds a RoutesView over routes. The slice is read, not
// copied, so registering the RoutesView after the rest of the route table
// is built lets it reflect the final table (including itself).
func NewRoutesView(routes []RouteEntry) *RoutesView {
	return &RoutesView{routes: routes}
}

func (v *RoutesView) Handle(req *RequestMsg, conn net.Conn, params URLParameters) (HandleFlags, *ResponseMsg) {
	if req.Method != MethodGet {
		return 0, jsonErrorResponse(405, "Method not allowed")
	}

	type groupEntry struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	}
	type routeEntry struct {
		Name        string       `json:"name"`
		Type        string       `json:"type"`
		PathPattern string       `json:"pathPattern,omitempty"`
		PathTemplate string      `json:"pathTemplate,omitempty"`
		Groups      []groupEntry `json:"groups,omitempty"`
	}

	out := make([]routeEntry, 0, len(v.routes))
	for _, re := range v.routes {
		switch r := re.Route.(type) {
		case *RegexRoute:
			groups := make([]groupEntry, 0, len(r.Groups()))
			for idx, name := range r.Groups() {
				groups = append(groups, groupEntry{Index: idx, Name: name})
			}
			out = append(out, routeEntry{
				Name:         r.Name(),
				Type:         "regex-based",
				PathPattern:  r.Pattern(),
				PathTemplate: r.Template(),
				Groups:       groups,
			})
		default:
			out = append(out, routeEntry{Name: re.Route.Name(), Type: "exact"})
		}
	}

	body, err := json.Marshal(map[string]interface{}{"routes": out})
	if err != nil {
		return 0, jsonErrorResponse(500, fmt.Sprintf("marshalling routes: %v", err))
	}

	resp := NewResponseMsg(200)
	c := NewInMemoryContent()
	c.Append(body)
	resp.SetContent(c)
	resp.SetHeader("Content-Type", "application/json")
	return 0, resp
}
