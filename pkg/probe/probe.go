// Package probe answers two questions about TCP ports: is something
// listening, and which port in a range is free to bind.
package probe

import (
	"errors"
	"fmt"
	"net"
	"time"

	"wtunnel/pkg/logging"
)

// ErrNoFreePort is returned when the configured port range is exhausted.
var ErrNoFreePort = errors.New("no free port available in the configured range")

// DefaultDialTimeout bounds a single connect probe.
const DefaultDialTimeout = 500 * time.Millisecond

// TCPProber probes real sockets. The manager depends on the Prober
// interface it defines, so tests can swap this out.
type TCPProber struct{}

// IsPortOpen reports whether a TCP connect to host:port succeeds within
// timeout. Reachable means something is listening there.
func (TCPProber) IsPortOpen(host string, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	address := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// FindFreePort scans [start, end) and returns the first port that can
// actually be bound and is not in reserved. The bind check catches
// unrelated processes; reserved carries ports already promised to other
// tunnels, which must be recomputed from live records on every
// allocation.
func (TCPProber) FindFreePort(start, end int, reserved map[int]bool) (int, error) {
	for port := start; port < end; port++ {
		if reserved[port] {
			continue
		}
		if !isBindable(port) {
			continue
		}
		logging.LogDebug("Port probe: allocated free port %d", port)
		return port, nil
	}
	return 0, fmt.Errorf("%w: %d-%d", ErrNoFreePort, start, end)
}

// isBindable checks that we can listen on the port right now.
func isBindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		logging.LogDebug("Port probe: cannot listen on %d: %v", port, err)
		return false
	}
	_ = listener.Close()
	return true
}
