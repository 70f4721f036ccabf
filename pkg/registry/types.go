package registry

import (
	"fmt"
	"time"
)

// Status is the persisted lifecycle state of a tunnel.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDegraded Status = "degraded"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the reconciler leaves the status alone.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// Tunnel is the unit of persisted state. Name is immutable after
// creation; everything else is mutated by the manager and the
// reconciler. Zero PIDs and an empty ExternalURL mean "absent" and are
// stored as NULL.
type Tunnel struct {
	Name          string
	LocalPort     int
	PublicPort    int
	Subdomain     string
	Hostname      string
	PublicEnabled bool
	ExternalURL   string
	LocalPID      int
	PublicPID     int
	Status        Status
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LogPath       string
	PublicLogPath string
}

// GatewayURL is the hostname-based URL of the local gateway.
func (t Tunnel) GatewayURL() string {
	return fmt.Sprintf("http://%s:%d", t.Hostname, t.PublicPort)
}

// LoopbackURL always resolves, regardless of the user's DNS/hosts setup.
func (t Tunnel) LoopbackURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", t.PublicPort)
}

// CurlResolveExample shows how to exercise the hostname URL without
// touching the OS resolver.
func (t Tunnel) CurlResolveExample() string {
	return fmt.Sprintf("curl --resolve %s:%d:127.0.0.1 %s", t.Hostname, t.PublicPort, t.GatewayURL())
}

// Uptime returns the time since creation, zero for non-live records.
func (t Tunnel) Uptime(now time.Time) time.Duration {
	if t.Status.Terminal() {
		return 0
	}
	return now.Sub(t.CreatedAt)
}
