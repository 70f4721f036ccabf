// Package supervisor owns the OS-level lifecycle of the subprocesses a
// tunnel is made of: the local forwarder and the optional public
// exposure helper. Both kinds go through the same spawn / liveness /
// terminate / output-capture path; the manager layers kind-specific
// meaning (URL extraction) on top.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"wtunnel/pkg/logging"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
)

// Kind tags the two subprocess variants the supervisor tracks.
type Kind int

const (
	KindForwarder Kind = iota
	KindPublicHelper
)

func (k Kind) String() string {
	switch k {
	case KindForwarder:
		return "forwarder"
	case KindPublicHelper:
		return "public-helper"
	default:
		return "unknown"
	}
}

// DefaultRingSize is how many recent output lines are kept in memory
// per subprocess.
const DefaultRingSize = 200

// ErrSpawn wraps every failure to get a subprocess started.
var ErrSpawn = errors.New("failed to spawn subprocess")

// Spec describes a subprocess to spawn. LogPath receives every output
// line, append-only, for post-mortem inspection.
type Spec struct {
	Tunnel  string
	Kind    Kind
	Command string
	Args    []string
	LogPath string
}

// Handle tracks one spawned subprocess for the lifetime of this
// invocation. Processes inherited from earlier invocations are reached
// by PID alone (PIDAlive, Terminate).
type Handle struct {
	ID     string
	Tunnel string
	Kind   Kind
	PID    int

	cmd  *exec.Cmd
	ring *lineRing
	done chan struct{}
}

// Supervisor spawns and tracks subprocesses. The zero value is not
// usable; call New.
type Supervisor struct{}

func New() *Supervisor { return &Supervisor{} }

// Spawn starts the subprocess in its own process group (so killing it
// takes its children, e.g. npx's node, along) and begins streaming its
// combined output into the log file and an in-memory ring buffer.
func (s *Supervisor) Spawn(spec Spec) (*Handle, error) {
	logFile, err := os.OpenFile(spec.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open log %s: %v", ErrSpawn, spec.LogPath, err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, spec.Command, err)
	}

	h := &Handle{
		ID:     uuid.NewString(),
		Tunnel: spec.Tunnel,
		Kind:   spec.Kind,
		PID:    cmd.Process.Pid,
		cmd:    cmd,
		ring:   newLineRing(DefaultRingSize),
		done:   make(chan struct{}),
	}

	go h.pump(stdout, logFile)

	logging.LogDebug("Spawned %s for tunnel %q: pid=%d cmd=%s", spec.Kind, spec.Tunnel, h.PID, spec.Command)
	return h, nil
}

// pump is the single writer of the log file and ring buffer. It also
// reaps the child when the stream closes, so this invocation never
// leaves zombies behind.
func (h *Handle) pump(stdout io.Reader, logFile *os.File) {
	defer close(h.done)
	defer logFile.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		h.ring.Append(line)
		fmt.Fprintf(logFile, "[%s] %s\n", time.Now().Format(time.RFC3339), line)
	}
	if err := scanner.Err(); err != nil {
		logging.LogDebug("Output pump for pid %d ended: %v", h.PID, err)
	}

	err := h.cmd.Wait()
	logging.LogDebug("Subprocess pid %d (%s, tunnel %q) exited: %v", h.PID, h.Kind, h.Tunnel, err)
}

// ProcessID returns the subprocess PID.
func (h *Handle) ProcessID() int { return h.PID }

// RecentOutput returns up to n of the most recent captured lines.
func (h *Handle) RecentOutput(n int) []string {
	return h.ring.Last(n)
}

// Exited reports whether the subprocess has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ScanOutput polls the captured output until match returns a result,
// the process exits, or ctx is done. match sees every buffered line,
// oldest first. This is how the manager waits for the helper's URL
// line without ever blocking on a hung subprocess.
func (h *Handle) ScanOutput(ctx context.Context, match func(line string) (string, bool)) (string, error) {
	seen := 0
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if total := h.ring.Total(); total > seen {
			for _, line := range h.ring.Last(total - seen) {
				if result, ok := match(line); ok {
					return result, nil
				}
			}
			seen = total
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-h.done:
			// Drain whatever arrived between the last poll and exit.
			for _, line := range h.ring.Last(0) {
				if result, ok := match(line); ok {
					return result, nil
				}
			}
			return "", fmt.Errorf("subprocess pid %d exited before producing a match", h.PID)
		case <-ticker.C:
		}
	}
}

// PIDAlive reports whether a process with this PID exists and is not a
// zombie. PID existence alone is not enough to call a tunnel healthy;
// the reconciler pairs this with a port reachability recheck.
func (s *Supervisor) PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	statuses, err := p.Status()
	if err != nil {
		// Process exists but is unreadable; assume alive.
		return true
	}
	for _, st := range statuses {
		if st == process.Zombie {
			return false
		}
	}
	return true
}

// Terminate sends SIGTERM to the process group, waits up to grace for a
// clean exit, then escalates to SIGKILL. Returns whether the process
// exited without the kill. Never blocks past grace plus a short kill
// confirmation window.
func (s *Supervisor) Terminate(pid int, grace time.Duration) (clean bool, err error) {
	if pid <= 0 {
		return true, nil
	}
	if !s.PIDAlive(pid) {
		return true, nil
	}

	// Negative pid addresses the whole process group created at spawn.
	target := -pid
	if err := syscall.Kill(target, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return true, nil
		}
		// Group may be gone while the leader lingers; fall back to the
		// single process.
		target = pid
		if err := syscall.Kill(target, syscall.SIGTERM); err != nil {
			if errors.Is(err, syscall.ESRCH) {
				return true, nil
			}
			return false, fmt.Errorf("failed to signal pid %d: %w", pid, err)
		}
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !s.PIDAlive(pid) {
			logging.LogDebug("Process %d exited cleanly after SIGTERM", pid)
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	logging.LogWarn("Process %d did not exit within %s, sending SIGKILL", pid, grace)
	if err := syscall.Kill(target, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return false, fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}

	confirm := time.Now().Add(time.Second)
	for time.Now().Before(confirm) {
		if !s.PIDAlive(pid) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false, nil
}

// ProcInfo is a point-in-time resource snapshot of one tracked PID.
type ProcInfo struct {
	PID        int
	Name       string
	CPUPercent float64
	MemoryMB   float64
	StartedAt  time.Time
}

// ProcessInfo samples CPU and memory for a PID, or returns an error if
// the process is gone.
func (s *Supervisor) ProcessInfo(pid int) (ProcInfo, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcInfo{}, fmt.Errorf("process %d not found: %w", pid, err)
	}

	info := ProcInfo{PID: pid}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if cpu, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		info.MemoryMB = float64(mem.RSS) / 1024 / 1024
	}
	if created, err := p.CreateTime(); err == nil {
		info.StartedAt = time.UnixMilli(created)
	}
	return info, nil
}
