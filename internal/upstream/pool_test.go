package upstream

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsTightenedForSharedPort(t *testing.T) {
	opts := DefaultOptions()
	tightened := opts.TightenForSharedPort()

	assert.Equal(t, 10, tightened.MaxIdlePerHost)
	assert.Equal(t, 15*time.Second, tightened.IdleTimeout)
	assert.Equal(t, opts.ConnectTimeout, tightened.ConnectTimeout, "only the idle pool knobs are tightened")
}

func TestClientFallsBackToHTTPForUnknownScheme(t *testing.T) {
	pool := New(DefaultOptions(), func(string) *tls.Config { return &tls.Config{} })
	assert.Same(t, pool.Client("http"), pool.Client("ftp"))
}

func TestPoolForwardsPlainHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	pool := New(DefaultOptions(), func(string) *tls.Config { return &tls.Config{} })
	resp, err := pool.Client("http").Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode, "no handler registered, but the round trip itself must succeed")
}

func TestNoFollowRedirectsStopsAtFirstHop(t *testing.T) {
	err := noFollowRedirects(nil, nil)
	assert.NotNil(t, err)
}
