package synctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardingEndpointNoSuchChild(t *testing.T) {
	pm := testProcessManager()
	fe := NewForwardingEndpoint(pm, NewConsoleJournal("test", "", false), nil, 4096)

	_, resp := fe.Handle(&RequestMsg{}, nil, URLParameters{"procID": "ghost", "remainder": "/x"})
	assert.Equal(t, 404, resp.Status)
}

func TestForwardingEndpointChildGone(t *testing.T) {
	pm := testProcessManager()
	pm.children["w"] = &ChildProcess{Name: "w", IsRunning: false}
	fe := NewForwardingEndpoint(pm, NewConsoleJournal("test", "", false), nil, 4096)

	_, resp := fe.Handle(&RequestMsg{}, nil, URLParameters{"procID": "w", "remainder": "/x"})
	assert.Equal(t, 410, resp.Status)
}

func TestForwardingEndpointDisabledRedirect(t *testing.T) {
	pm := testProcessManager()
	pm.children["w"] = &ChildProcess{Name: "w", IsRunning: true, Host: "127.0.0.1", Port: 9999}
	fe := NewForwardingEndpoint(pm, NewConsoleJournal("test", "", false), nil, 0)

	flags, resp := fe.Handle(&RequestMsg{}, nil, URLParameters{"procID": "w", "remainder": "/anything"})
	require.NotNil(t, resp)
	assert.Equal(t, HandleFlags(0), flags)
	assert.Equal(t, 301, resp.Status)
	assert.Equal(t, "http://127.0.0.1:9999/anything", resp.GetHeader("Location", ""))
}
