package synctree

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
)

// Environment variables a re-exec'd child reads at startup to recover the
// inherited listener and the post-fork reconfiguration handshake record
// (§4.6, §9).
const (
	EnvChildMarker  = "SYNCTREE_CHILD"
	EnvSpawnDetails = "SYNCTREE_SPAWN_DETAILS"
	EnvChildName    = "SYNCTREE_CHILD_NAME"
	EnvChildAPI     = "SYNCTREE_CHILD_API_PREFIX"

	childListenerFD = 3 // first entry of cmd.ExtraFiles
)

// ChildProcess is the process manager's record of one forked child (§3).
type ChildProcess struct {
	Name      string
	Pid       int
	Port      int
	Host      string
	APIPrefix string
	IsRunning bool
	ExitCode  int
	StopSignal int

	cmd *exec.Cmd
}

// SpawnRequestDetails is the post-fork handshake record (§3, §9): created
// only in the spawning request's handler, carried to the new child process
// via an environment variable, and decoded exactly once at child startup.
type SpawnRequestDetails struct {
	SubprocessName string                 `json:"subprocessName"`
	SubprocessURL  string                 `json:"subprocessURL"`
	URLParams      URLParameters          `json:"urlParams"`
	ParsedBody     map[string]interface{} `json:"parsedBody"`
}

// ProcessManager owns the map of children, allocates their names, and forks
// (via re-exec + fd handover) new child server processes (§4.6).
type ProcessManager struct {
	mu       sync.Mutex // guards children; §9 open question notes the base
	         // design needs none since the server is single-threaded, but a
	         // mutex costs nothing and protects RefreshAll/Get from a future
	         // forwarding worker touching this map (they currently don't).
	children map[string]*ChildProcess

	forwarding *ForwardingEndpoint
	journal    Journal
	metrics    *Metrics
	execPath   string
}

// NewProcessManager returns an empty ProcessManager.
func NewProcessManager(journal Journal, metrics *Metrics) *ProcessManager {
	execPath, err := os.Executable()
	if err != nil {
		execPath = os.Args[0]
	}
	return &ProcessManager{
		children: map[string]*ChildProcess{},
		journal:  journal,
		metrics:  metrics,
		execPath: execPath,
	}
}

// BindForwardingEndpoint registers fw as the process manager's forwarding
// endpoint, used only to drain in-flight proxy workers before a fork (§9).
// Binding twice is RepeatativeBinding, matching the original's own guard.
func (pm *ProcessManager) BindForwardingEndpoint(fw *ForwardingEndpoint) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.forwarding != nil {
		return RepeatativeBinding{}
	}
	pm.forwarding = fw
	return nil
}

// VacantName probes base, base-1, base-2, ... until an unused name is found.
// The name is not reserved: ForkServer records it later, so concurrent callers
// can be handed the same name.
func (pm *ProcessManager) VacantName(base string) (string, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, taken := pm.children[base]; !taken {
		return base, nil
	}
	for i := 1; i < 1<<31-1; i++ {
		name := fmt.Sprintf("%s-%d", base, i)
		if _, taken := pm.children[name]; !taken {
			return name, nil
		}
	}
	return "", &MaxProcessNumberExceed{Base: base}
}

// Get returns the named child, if present.
func (pm *ProcessManager) Get(name string) (*ChildProcess, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	cp, ok := pm.children[name]
	return cp, ok
}

// All returns a snapshot of every tracked child, keyed by name.
func (pm *ProcessManager) All() map[string]*ChildProcess {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make(map[string]*ChildProcess, len(pm.children))
	for k, v := range pm.children {
		out[k] = v
	}
	return out
}

// ForkServer implements §4.6's fork_server: it binds the child's listening
// socket in this process first (so the effective port is known before the
// child exists), drains any in-flight forwarding workers, then re-execs the
// current binary, handing the bound listener's duplicated file descriptor
// to the child via ExtraFiles and the spawn handshake record via an
// environment variable.
func (pm *ProcessManager) ForkServer(ctx context.Context, name, host string, port int, apiPrefix string, buildDetails func(effectivePort int) *SpawnRequestDetails) (*ChildProcess, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, &ForkFailed{Err: err}
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, &ForkFailed{Err: err}
	}
	effectivePort := ln.Addr().(*net.TCPAddr).Port

	if pm.forwarding != nil {
		pm.forwarding.Drain(ctx)
	}

	var details *SpawnRequestDetails
	if buildDetails != nil {
		details = buildDetails(effectivePort)
	}

	lf, err := ln.File()
	if err != nil {
		ln.Close()
		return nil, &ForkFailed{Err: err}
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		ln.Close()
		lf.Close()
		return nil, &ForkFailed{Err: err}
	}

	cmd := exec.Command(pm.execPath, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{lf}
	cmd.Env = append(os.Environ(),
		EnvChildMarker+"=1",
		EnvSpawnDetails+"="+base64.StdEncoding.EncodeToString(detailsJSON),
		EnvChildName+"="+name,
		EnvChildAPI+"="+apiPrefix,
	)

	if err := cmd.Start(); err != nil {
		ln.Close()
		lf.Close()
		return nil, &ForkFailed{Err: err}
	}

	// The parent's handle to the listening socket is dropped here; the
	// child already holds its own independent duplicate of the fd, so
	// this Close only affects this address space (§4.6 step 4).
	ln.Close()
	lf.Close()

	cp := &ChildProcess{
		Name:      name,
		Pid:       cmd.Process.Pid,
		Port:      effectivePort,
		Host:      host,
		APIPrefix: apiPrefix,
		IsRunning: true,
		cmd:       cmd,
	}

	pm.mu.Lock()
	pm.children[name] = cp
	total := len(pm.children)
	pm.mu.Unlock()

	pm.metrics.setChildrenTotal(total)
	pm.journal.Info(fmt.Sprintf("forked child %q pid=%d port=%d", name, cp.Pid, cp.Port))

	return cp, nil
}

// Refresh polls the named child's status via a non-blocking waitpid,
// matching §4.6's reaping rules exactly.
func (pm *ProcessManager) Refresh(name string) error {
	pm.mu.Lock()
	cp, ok := pm.children[name]
	pm.mu.Unlock()
	if !ok {
		return &NoSuchChildProcess{Name: name}
	}
	if !cp.IsRunning {
		return nil
	}

	var ws unix.WaitStatus
	pid, err := unix.Wait4(cp.Pid, &ws, unix.WNOHANG, nil)
	switch {
	case err != nil:
		pm.journal.Warn(fmt.Sprintf("waitpid(%d) failed: %v", cp.Pid, err))
	case pid == 0:
		// still running
	case pid == cp.Pid:
		switch {
		case ws.Exited():
			cp.ExitCode = ws.ExitStatus()
			cp.IsRunning = false
		case ws.Signaled():
			cp.StopSignal = int(ws.Signal())
			cp.IsRunning = false
		default:
			pm.journal.Warn(fmt.Sprintf("child %q: unexpected wait status %v", name, ws))
		}
	}
	return nil
}

// RefreshAll calls Refresh for every currently-running child.
func (pm *ProcessManager) RefreshAll() {
	pm.mu.Lock()
	names := make([]string, 0, len(pm.children))
	for name, cp := range pm.children {
		if cp.IsRunning {
			names = append(names, name)
		}
	}
	pm.mu.Unlock()

	for _, name := range names {
		pm.Refresh(name)
	}
}

// RecoverChildListener recovers the listener a re-exec'd child inherited on
// fd 3 (§4.6). Ok is false when this process was not launched as a child.
func RecoverChildListener() (ln *net.TCPListener, details *SpawnRequestDetails, name, apiPrefix string, ok bool, err error) {
	if os.Getenv(EnvChildMarker) != "1" {
		return nil, nil, "", "", false, nil
	}

	f := os.NewFile(childListenerFD, "synctree-inherited-listener")
	l, lerr := net.FileListener(f)
	if lerr != nil {
		return nil, nil, "", "", true, fmt.Errorf("recovering inherited listener: %w", lerr)
	}
	tln, isTCP := l.(*net.TCPListener)
	if !isTCP {
		return nil, nil, "", "", true, fmt.Errorf("inherited listener is not TCP")
	}

	raw, derr := base64.StdEncoding.DecodeString(os.Getenv(EnvSpawnDetails))
	if derr != nil {
		return nil, nil, "", "", true, fmt.Errorf("decoding spawn details: %w", derr)
	}
	var sd SpawnRequestDetails
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, nil, "", "", true, fmt.Errorf("unmarshalling spawn details: %w", err)
	}

	return tln, &sd, os.Getenv(EnvChildName), os.Getenv(EnvChildAPI), true, nil
}
