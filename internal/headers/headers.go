// Package headers implements the hop-by-hop strip list, the additional
// request-only drops, and the egress synthesis rules applied before a
// request is forwarded to an origin.
package headers

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultUserAgent is synthesized onto egress requests that arrive
// without one.
const DefaultUserAgent = "interceptproxy"

// hopByHop is dropped from both requests and responses, case-insensitive.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":           true,
	"proxy-authenticate":   true,
	"proxy-authorization":  true,
	"te":                   true,
	"trailers":             true,
	"transfer-encoding":    true,
	"upgrade":              true,
}

// requestOnlyDrop is dropped additionally from requests before
// forwarding: headers the proxy owns and recomputes itself, plus
// client-hint headers known to break some origins when relayed through
// a MITM proxy.
var requestOnlyDrop = map[string]bool{
	"host":                      true,
	"content-length":            true,
	"x-forwarded-for":           true,
	"x-forwarded-proto":         true,
	"x-real-ip":                 true,
	"x-client-data":             true,
	"upgrade-insecure-requests": true,
	"rtt":                       true,
	"downlink":                  true,
	"priority":                  true,
	"ect":                       true,
}

// requestOnlyDropPrefix covers client-hint header families by prefix.
var requestOnlyDropPrefix = []string{
	"sec-ch-ua",
	"sec-fetch-",
	"sec-ch-prefers-",
	"x-browser-",
}

func isHopByHop(name string) bool {
	return hopByHop[strings.ToLower(name)]
}

func isRequestOnlyDrop(name string) bool {
	lower := strings.ToLower(name)
	if requestOnlyDrop[lower] {
		return true
	}
	for _, prefix := range requestOnlyDropPrefix {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// FilterRequest strips hop-by-hop and proxy-owned headers from an
// inbound request's header set before it is forwarded to the origin.
// The result is an http.Header map, so the original order of the
// surviving headers is not preserved.
func FilterRequest(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if isHopByHop(name) || isRequestOnlyDrop(name) {
			continue
		}
		out[name] = values
	}
	return out
}

// FilterResponse strips only hop-by-hop headers; everything else from
// the origin passes through unchanged.
func FilterResponse(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if isHopByHop(name) {
			continue
		}
		out[name] = values
	}
	return out
}

// SynthesizeEgress resets Host to the authority without a default port,
// recomputes Content-Length from the exact forwarded byte count, and
// sets a default User-Agent when none survived filtering.
func SynthesizeEgress(h http.Header, authority string, contentLength int64) {
	// net/http's client writes the wire Host line from req.Host /
	// req.URL.Host, not this header map, so this Set is inert; kept for
	// a correct, inspectable header set on the outgoing *http.Request.
	h.Set("Host", stripDefaultPort(authority))
	if contentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", DefaultUserAgent)
	}
}

func stripDefaultPort(authority string) string {
	if strings.HasSuffix(authority, ":443") {
		return strings.TrimSuffix(authority, ":443")
	}
	if strings.HasSuffix(authority, ":80") {
		return strings.TrimSuffix(authority, ":80")
	}
	return authority
}

