package synctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURIRoundTrip(t *testing.T) {
	cases := []string{
		"http://example.com:8080/api/proc/w?name=worker#frag",
		"/api/proc/w-1/anything",
		"https://user@host/path",
	}

	for _, raw := range cases {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			u, err := NewURI(raw)
			assert.NoError(t, err)

			s, err := u.ToStr(false)
			assert.NoError(t, err)

			u2, err := NewURI(s)
			assert.NoError(t, err)

			assert.Equal(t, u.Scheme(), u2.Scheme())
			assert.Equal(t, u.Userinfo(), u2.Userinfo())
			assert.Equal(t, u.Host(), u2.Host())
			assert.Equal(t, u.Port(), u2.Port())
			assert.Equal(t, u.Path(), u2.Path())
			assert.Equal(t, u.QueryStr(), u2.QueryStr())
			assert.Equal(t, u.Fragment(), u2.Fragment())
		})
	}
}

func TestEncodeDecodeInvolution(t *testing.T) {
	cases := []string{
		"hello world",
		"a/b?c=d&e=f",
		"worker-1",
		"%unreserved.~_-",
	}

	for _, s := range cases {
		enc := EncodeURIComponent(s)
		dec, err := DecodeURIComponent(enc)
		assert.NoError(t, err)
		assert.Equal(t, s, dec)
	}
}

func TestDecodeURIComponentPlusAndTruncated(t *testing.T) {
	dec, err := DecodeURIComponent("a+b%20c")
	assert.NoError(t, err)
	assert.Equal(t, "a b c", dec)

	_, err = DecodeURIComponent("%2")
	assert.Error(t, err)

	_, err = DecodeURIComponent("%ZZ")
	assert.Error(t, err)
}

func TestAuthorityLocalhostFallback(t *testing.T) {
	u := &URI{port: "8080", query: newQueryValues()}
	assert.Equal(t, "localhost:8080", u.Authority())

	u2 := &URI{query: newQueryValues()}
	assert.Equal(t, "", u2.Authority())
}
