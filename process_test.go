package synctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProcessManager() *ProcessManager {
	return NewProcessManager(NewConsoleJournal("test", "", false), nil)
}

func TestVacantNameSequence(t *testing.T) {
	pm := testProcessManager()

	name1, err := pm.VacantName("worker")
	require.NoError(t, err)
	assert.Equal(t, "worker", name1)
	pm.children[name1] = &ChildProcess{Name: name1, IsRunning: true}

	name2, err := pm.VacantName("worker")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", name2)
	pm.children[name2] = &ChildProcess{Name: name2, IsRunning: true}

	name3, err := pm.VacantName("worker")
	require.NoError(t, err)
	assert.Equal(t, "worker-2", name3)
}

func TestRefreshNoSuchChild(t *testing.T) {
	pm := testProcessManager()
	err := pm.Refresh("ghost")
	assert.Error(t, err)
	assert.Equal(t, 404, statusOf(err))
}

func TestBindForwardingEndpointTwiceFails(t *testing.T) {
	pm := testProcessManager()
	fw := NewForwardingEndpoint(pm, NewConsoleJournal("test", "", false), nil, 4096)

	require.NoError(t, pm.BindForwardingEndpoint(fw))
	err := pm.BindForwardingEndpoint(fw)
	assert.Error(t, err)
}
