//go:build !linux

package listener

import (
	"syscall"

	"github.com/relayforge/interceptproxy/internal/logging"
)

// SO_REUSEPORT's cross-process semantics are Linux-specific; on other
// platforms shared-port mode is simply unavailable.
func controlReusePort(network, address string, _ syscall.RawConn) error {
	logging.Log().Warn("reuseport requested but unsupported on this platform")
	return nil
}
