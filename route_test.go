package synctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexRouteInverse(t *testing.T) {
	route, err := NewRegexRoute(
		"proc-fwd",
		`^/api/proc/([0-9A-Za-z\-_]+)(/.+)$`,
		map[int]string{1: "procID", 2: "remainder"},
		"/api/proc/{procID}{remainder}",
	)
	require.NoError(t, err)

	paths := []string{
		"/api/proc/worker/anything",
		"/api/proc/worker-1/a/b/c",
	}

	for _, path := range paths {
		params, ok := route.CanHandle(path)
		require.True(t, ok)

		got, err := route.PathFor(params)
		require.NoError(t, err)
		assert.Equal(t, path, got)
	}
}

func TestRegexRouteNoMatch(t *testing.T) {
	route, err := NewRegexRoute("proc", `^/api/proc(?:/([0-9A-Za-z\-_]+))?$`, map[int]string{1: "procID"}, "/api/proc/{procID}")
	require.NoError(t, err)

	_, ok := route.CanHandle("/api/other")
	assert.False(t, ok)
}

func TestRegexRoutePathForUnresolvedPlaceholder(t *testing.T) {
	route, err := NewRegexRoute("proc", `^/api/proc/([0-9A-Za-z\-_]+)$`, map[int]string{1: "procID"}, "/api/proc/{procID}")
	require.NoError(t, err)

	_, err = route.PathFor(URLParameters{})
	assert.Error(t, err)
}

func TestExactRoute(t *testing.T) {
	route := NewExactRoute("routes", "/api/routes")
	params, ok := route.CanHandle("/api/routes")
	require.True(t, ok)
	assert.Empty(t, params)

	_, ok = route.CanHandle("/api/other")
	assert.False(t, ok)

	path, err := route.PathFor(nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/routes", path)
}
