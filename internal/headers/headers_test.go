package headers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterRequestDropsHopByHopAndProxyOwned(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive")
	h.Set("Proxy-Authorization", "Basic xyz")
	h.Set("Host", "origin.test")
	h.Set("Content-Length", "42")
	h.Set("X-Forwarded-For", "1.2.3.4")
	h.Set("Sec-Ch-Ua", `"Chromium";v="120"`)
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("X-Client-Data", "abc")
	h.Set("Accept", "text/html")

	out := FilterRequest(h)

	assert.Empty(t, out.Get("Connection"))
	assert.Empty(t, out.Get("Proxy-Authorization"))
	assert.Empty(t, out.Get("Host"))
	assert.Empty(t, out.Get("Content-Length"))
	assert.Empty(t, out.Get("X-Forwarded-For"))
	assert.Empty(t, out.Get("Sec-Ch-Ua"))
	assert.Empty(t, out.Get("Sec-Fetch-Mode"))
	assert.Empty(t, out.Get("X-Client-Data"))
	assert.Equal(t, "text/html", out.Get("Accept"))
}

func TestFilterResponseOnlyStripsHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Forwarded-For", "1.2.3.4") // not hop-by-hop, must survive on responses
	h.Set("Content-Type", "application/json")

	out := FilterResponse(h)

	assert.Empty(t, out.Get("Transfer-Encoding"))
	assert.Equal(t, "1.2.3.4", out.Get("X-Forwarded-For"))
	assert.Equal(t, "application/json", out.Get("Content-Type"))
}

func TestSynthesizeEgress(t *testing.T) {
	h := http.Header{}
	SynthesizeEgress(h, "origin.test:443", 11)

	assert.Equal(t, "origin.test", h.Get("Host"), "default TLS port must be stripped from the authority")
	assert.Equal(t, "11", h.Get("Content-Length"))
	assert.Equal(t, DefaultUserAgent, h.Get("User-Agent"))
}

func TestSynthesizeEgressKeepsExistingUserAgent(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "custom-client/1.0")
	SynthesizeEgress(h, "origin.test:8080", 0)

	assert.Equal(t, "custom-client/1.0", h.Get("User-Agent"))
	assert.Equal(t, "origin.test:8080", h.Get("Host"), "non-default ports are kept")
}
