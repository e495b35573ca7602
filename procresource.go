package synctree

import (
	"context"
	"fmt"
	"time"
)

// ProcResourceVersion is the version string reported by GET /api/proc.
const ProcResourceVersion = "1"

// ProcessResource is the REST view over a ProcessManager (§4.8). It defaults
// to the YAML codec, matching the original's process-resource payloads
// (§12.3).
type ProcessResource struct {
	BaseResource

	pm           *ProcessManager
	srv          *Server
	forwardRoute Route // nil when forwarding is disabled
	childHost    string
}

// NewProcessResource builds a ProcessResource. forwardRoute is the bound
// "proc-fwd" route, or nil if the server has forwarding disabled — in
// either case child_url (§4.8) adapts accordingly.
func NewProcessResource(pm *ProcessManager, srv *Server, forwardRoute Route, childHost string) *ProcessResource {
	r := &ProcessResource{pm: pm, srv: srv, forwardRoute: forwardRoute, childHost: childHost}
	r.BaseResource = BaseResource{Codec: YAMLCodec{}}
	return r
}

// childURL computes the `_link` a client should use to reach a running
// child (§4.8): through the parent's forwarding route when one is bound,
// otherwise directly at the child's own host/port/api-prefix.
func (r *ProcessResource) childURL(name string, cp *ChildProcess) (string, error) {
	if r.forwardRoute != nil {
		path, err := r.forwardRoute.PathFor(URLParameters{"procID": name, "remainder": "/"})
		if err != nil {
			return "", fmt.Errorf("computing forwarding path for %q: %w", name, err)
		}
		// Self-check: the generated path must route back to this same
		// child through can_handle, exactly as the original asserts.
		if params, ok := r.forwardRoute.CanHandle(path); !ok || params["procID"] != name {
			return "", fmt.Errorf("forwarding route does not resolve its own generated path for %q", name)
		}
		return fmt.Sprintf("http://%s:%d%s", r.srv.Host(), r.srv.Port(), path), nil
	}
	return fmt.Sprintf("http://%s:%d%s", cp.Host, cp.Port, cp.APIPrefix), nil
}

func childDetails(cp *ChildProcess, link string) map[string]interface{} {
	d := map[string]interface{}{
		"port":          cp.Port,
		"isRunning":     cp.IsRunning,
		"host":          cp.Host,
		"procAPIPrefix": cp.APIPrefix,
	}
	switch {
	case cp.IsRunning:
		d["_link"] = link
	case cp.StopSignal != 0:
		d["stopSignal"] = cp.StopSignal
	default:
		d["exitCode"] = cp.ExitCode
	}
	return d
}

func (r *ProcessResource) Get(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error) {
	if procID := params["procID"]; procID != "" {
		if err := r.pm.Refresh(procID); err != nil {
			return nil, err
		}
		cp, ok := r.pm.Get(procID)
		if !ok {
			return nil, &NoSuchChildProcess{Name: procID}
		}
		link, err := r.childURL(procID, cp)
		if err != nil {
			return nil, err
		}
		return childDetails(cp, link), nil
	}

	r.pm.RefreshAll()
	children := map[string]interface{}{}
	for name, cp := range r.pm.All() {
		link, err := r.childURL(name, cp)
		if err != nil {
			return nil, err
		}
		children[name] = childDetails(cp, link)
	}
	return map[string]interface{}{
		"version":  ProcResourceVersion,
		"children": children,
	}, nil
}

func (r *ProcessResource) Post(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error) {
	body, _ := value.(map[string]interface{})

	base := "worker"
	if v, ok := body["name"].(string); ok && v != "" {
		base = v
	}
	apiPrefix := r.srv.Config().APIPrefix
	if v, ok := body["procAPIPrefix"].(string); ok && v != "" {
		apiPrefix = v
	}

	name, err := r.pm.VacantName(base)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(r.srv.Config().ConnectionTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	forkCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var link string
	buildDetails := func(effectivePort int) *SpawnRequestDetails {
		if r.forwardRoute != nil {
			path, perr := r.forwardRoute.PathFor(URLParameters{"procID": name, "remainder": "/"})
			if perr == nil {
				link = fmt.Sprintf("http://%s:%d%s", r.srv.Host(), r.srv.Port(), path)
			}
		} else {
			link = fmt.Sprintf("http://%s:%d%s", r.childHost, effectivePort, apiPrefix)
		}
		return &SpawnRequestDetails{
			SubprocessName: name,
			SubprocessURL:  link,
			URLParams:      params,
			ParsedBody:     body,
		}
	}

	if _, err := r.pm.ForkServer(forkCtx, name, r.childHost, 0, apiPrefix, buildDetails); err != nil {
		return nil, err
	}

	ctx.Response.Status = 201
	ctx.Response.Reason = reasonPhrase(201)
	ctx.Response.SetHeader("Location", link)
	return map[string]interface{}{}, nil
}

func (r *ProcessResource) Delete(value interface{}, params URLParameters, ctx *ResourceContext) (interface{}, error) {
	ctx.Response.Status = 501
	ctx.Response.Reason = reasonPhrase(501)
	return map[string]interface{}{"errors": []string{"Not implemented"}}, nil
}
