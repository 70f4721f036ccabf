// Package manager is the control plane for tunnels: it owns every write
// to the registry, validates operations against registry plus live
// process state, drives the supervisor, and hands read-only snapshots
// to the front-ends.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wtunnel/pkg/config"
	"wtunnel/pkg/logging"
	"wtunnel/pkg/nodejs"
	"wtunnel/pkg/probe"
	"wtunnel/pkg/registry"
	"wtunnel/pkg/supervisor"
)

const (
	probeTimeout = 500 * time.Millisecond

	// spawnSettle is how long create waits before deciding a freshly
	// spawned forwarder survived its startup.
	spawnSettle = 300 * time.Millisecond
)

// Prober abstracts the port prober for tests.
type Prober interface {
	IsPortOpen(host string, port int, timeout time.Duration) bool
	FindFreePort(start, end int, reserved map[int]bool) (int, error)
}

// ProcessHandle is the slice of supervisor.Handle the manager needs.
type ProcessHandle interface {
	ProcessID() int
	RecentOutput(n int) []string
	Exited() bool
	ScanOutput(ctx context.Context, match func(line string) (string, bool)) (string, error)
}

// Runner abstracts the process supervisor for tests.
type Runner interface {
	Spawn(spec supervisor.Spec) (ProcessHandle, error)
	PIDAlive(pid int) bool
	Terminate(pid int, grace time.Duration) (bool, error)
	ProcessInfo(pid int) (supervisor.ProcInfo, error)
}

// supervisorRunner adapts *supervisor.Supervisor to the Runner
// interface (Spawn's concrete return type needs the lift).
type supervisorRunner struct {
	s *supervisor.Supervisor
}

func (r supervisorRunner) Spawn(spec supervisor.Spec) (ProcessHandle, error) {
	return r.s.Spawn(spec)
}
func (r supervisorRunner) PIDAlive(pid int) bool { return r.s.PIDAlive(pid) }
func (r supervisorRunner) Terminate(pid int, grace time.Duration) (bool, error) {
	return r.s.Terminate(pid, grace)
}
func (r supervisorRunner) ProcessInfo(pid int) (supervisor.ProcInfo, error) {
	return r.s.ProcessInfo(pid)
}

// Manager orchestrates tunnel lifecycle. Safe for use from one process;
// cross-process safety comes from the registry lock.
type Manager struct {
	cfg    *config.Config
	store  *registry.Store
	sup    Runner
	prober Prober
	npx    nodejs.Locator
	now    func() time.Time
}

// New wires a manager with the real supervisor, prober and npx locator.
func New(cfg *config.Config, store *registry.Store) *Manager {
	return NewWithDeps(cfg, store,
		supervisorRunner{s: supervisor.New()},
		probe.TCPProber{},
		nodejs.PathLocator{Bundled: cfg.BundledNode},
	)
}

// NewWithDeps injects collaborators; tests use fakes here.
func NewWithDeps(cfg *config.Config, store *registry.Store, sup Runner, prober Prober, npx nodejs.Locator) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		sup:    sup,
		prober: prober,
		npx:    npx,
		now:    time.Now,
	}
}

// CreateOptions parameterize Create.
type CreateOptions struct {
	Name       string
	LocalPort  int
	Subdomain  string // defaults to Name
	PublicPort int    // 0 = auto-assign from the configured range
	Public     bool   // request public exposure via the helper
	Force      bool   // skip the local-service reachability check

	// reusePort softens an explicit PublicPort into a preference:
	// restart falls back to allocation when the old port is taken.
	reusePort bool
}

// Create validates, records, and starts a new tunnel. Validation
// errors (duplicate name, unreachable service, no free port) surface
// before anything is spawned and leave no record behind. After the
// forwarder is spawned, failures are recorded on the returned record
// instead of rolling it back.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (registry.Tunnel, error) {
	if opts.Name == "" {
		return registry.Tunnel{}, fmt.Errorf("tunnel name must not be empty")
	}
	if opts.LocalPort <= 0 || opts.LocalPort > 65535 {
		return registry.Tunnel{}, fmt.Errorf("invalid local port %d", opts.LocalPort)
	}
	if opts.Subdomain == "" {
		opts.Subdomain = opts.Name
	}

	if err := m.reconcileAll(ctx); err != nil {
		return registry.Tunnel{}, err
	}

	// Reachability check before taking the registry lock; probing has
	// no business inside the critical section.
	if !opts.Force && !m.prober.IsPortOpen("127.0.0.1", opts.LocalPort, probeTimeout) {
		return registry.Tunnel{}, fmt.Errorf("%w (port %d)", ErrLocalServiceUnreachable, opts.LocalPort)
	}

	hostname := opts.Subdomain
	if m.cfg.Domain != "" {
		hostname = opts.Subdomain + "." + m.cfg.Domain
	}

	now := m.now()
	rec := registry.Tunnel{
		Name:          opts.Name,
		LocalPort:     opts.LocalPort,
		Subdomain:     opts.Subdomain,
		Hostname:      hostname,
		PublicEnabled: opts.Public,
		Status:        registry.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		LogPath:       m.cfg.TunnelLogPath(opts.Name),
		PublicLogPath: m.cfg.PublicLogPath(opts.Name),
	}

	// Name check, gateway port allocation, and the PENDING insert form
	// one locked read-modify-write cycle: two concurrent creates can
	// never double-allocate a port or race the same name.
	err := m.store.Mutate(func(tx *registry.Txn) error {
		if _, err := tx.Get(opts.Name); err == nil {
			return fmt.Errorf("%w: %q", registry.ErrDuplicateName, opts.Name)
		} else if !errors.Is(err, registry.ErrNotFound) {
			return err
		}

		reserved, err := livePublicPorts(tx)
		if err != nil {
			return err
		}

		switch {
		case opts.PublicPort == 0:
			port, err := m.prober.FindFreePort(m.cfg.PortRangeStart, m.cfg.PortRangeEnd, reserved)
			if err != nil {
				return err
			}
			rec.PublicPort = port
		case reserved[opts.PublicPort]:
			if !opts.reusePort {
				return fmt.Errorf("%w: %d", ErrGatewayPortBusy, opts.PublicPort)
			}
			port, err := m.prober.FindFreePort(m.cfg.PortRangeStart, m.cfg.PortRangeEnd, reserved)
			if err != nil {
				return err
			}
			rec.PublicPort = port
		default:
			rec.PublicPort = opts.PublicPort
		}

		return tx.Create(rec)
	})
	if err != nil {
		return registry.Tunnel{}, err
	}

	// Lock released; now spawn. From here on the record exists and all
	// failures are recorded on it.
	rec, err = m.startForwarder(rec, opts.Force)
	if err != nil {
		return rec, err
	}

	// Persist the forwarder PID before the public-helper wait. A stop
	// issued from another invocation while we are still polling must be
	// able to find and kill the process.
	if err := m.saveLive(rec); err != nil {
		return rec, err
	}

	if opts.Public {
		if pubErr := m.startPublicHelper(ctx, &rec); pubErr != nil {
			// Partial success is a first-class outcome: keep the local
			// forward, record the degradation.
			logging.LogWarn("Public exposure for %q degraded: %v", rec.Name, pubErr)
		}
	}

	if err := m.saveLive(rec); err != nil {
		return rec, err
	}
	logging.LogInfo("Created tunnel %q: local=%d gateway=%d status=%s", rec.Name, rec.LocalPort, rec.PublicPort, rec.Status)
	return rec, nil
}

// livePublicPorts computes the gateway ports already promised to
// records that may still own a listening socket. Recomputed on every
// allocation, never cached.
func livePublicPorts(tx *registry.Txn) (map[int]bool, error) {
	records, err := tx.List()
	if err != nil {
		return nil, err
	}
	reserved := make(map[int]bool)
	for _, t := range records {
		if !t.Status.Terminal() {
			reserved[t.PublicPort] = true
		}
	}
	return reserved, nil
}

// startForwarder spawns the local forwarder and settles the record into
// PENDING (forced create against a dead service) or RUNNING. A spawn
// failure marks the record FAILED with the captured output attached.
func (m *Manager) startForwarder(rec registry.Tunnel, forced bool) (registry.Tunnel, error) {
	argv := config.ExpandCommand(m.cfg.ForwarderCommand, rec.PublicPort, rec.LocalPort, rec.Subdomain)
	handle, err := m.sup.Spawn(supervisor.Spec{
		Tunnel:  rec.Name,
		Kind:    supervisor.KindForwarder,
		Command: argv[0],
		Args:    argv[1:],
		LogPath: rec.LogPath,
	})
	if err != nil {
		rec.Status = registry.StatusFailed
		rec.LastError = err.Error()
		rec.UpdatedAt = m.now()
		if saveErr := m.saveCurrent(rec); saveErr != nil {
			logging.LogError("Failed to record spawn failure for %q: %v", rec.Name, saveErr)
		}
		return rec, err
	}

	// Give the forwarder a moment; a bad argv or an occupied listen
	// port makes it exit immediately.
	time.Sleep(spawnSettle)
	if handle.Exited() {
		rec.Status = registry.StatusFailed
		rec.LastError = "local forwarder exited immediately\nlast output:\n" + strings.Join(handle.RecentOutput(10), "\n")
		rec.UpdatedAt = m.now()
		if saveErr := m.saveCurrent(rec); saveErr != nil {
			logging.LogError("Failed to record spawn failure for %q: %v", rec.Name, saveErr)
		}
		return rec, fmt.Errorf("%w: forwarder exited immediately", supervisor.ErrSpawn)
	}

	rec.LocalPID = handle.ProcessID()
	if forced && !m.prober.IsPortOpen("127.0.0.1", rec.LocalPort, probeTimeout) {
		// Service still down; reconciliation resolves this later.
		rec.Status = registry.StatusPending
	} else {
		rec.Status = registry.StatusRunning
	}
	rec.UpdatedAt = m.now()
	return rec, nil
}

// matchHelperOutput extracts the public URL from a helper output line,
// or surfaces an error indicator line verbatim (callers distinguish by
// the http prefix).
func matchHelperOutput(line string) (string, bool) {
	if url := urlPattern.FindString(line); url != "" {
		return url, true
	}
	lower := strings.ToLower(line)
	for _, indicator := range []string{"subdomain is already claimed", "error:", "econnrefused"} {
		if strings.Contains(lower, indicator) {
			return line, true
		}
	}
	return "", false
}

// startPublicHelper spawns the public exposure helper and waits, up to
// the configured timeout, for it to print a URL. On timeout or helper
// failure the record goes DEGRADED and the returned error says why; the
// caller decides whether that error reaches the user.
func (m *Manager) startPublicHelper(ctx context.Context, rec *registry.Tunnel) error {
	degrade := func(cause string) {
		rec.PublicEnabled = true
		rec.Status = registry.StatusDegraded
		rec.LastError = cause
		rec.UpdatedAt = m.now()
	}

	argv := config.ExpandCommand(m.cfg.HelperCommand, rec.PublicPort, rec.LocalPort, rec.Subdomain)
	if argv[0] == "npx" {
		npxPath, err := m.npx.Npx()
		if err != nil {
			degrade(err.Error())
			return err
		}
		argv[0] = npxPath
	}

	handle, err := m.sup.Spawn(supervisor.Spec{
		Tunnel:  rec.Name,
		Kind:    supervisor.KindPublicHelper,
		Command: argv[0],
		Args:    argv[1:],
		LogPath: rec.PublicLogPath,
	})
	if err != nil {
		degrade(err.Error())
		return err
	}
	rec.PublicPID = handle.ProcessID()

	// Bounded and cancellable: stop-while-pending cancels this wait
	// through ctx, and a silent helper cannot hold create hostage past
	// the timeout.
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.PublicURLTimeout)
	defer cancel()

	result, err := handle.ScanOutput(waitCtx, matchHelperOutput)
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		degrade(ErrPublicExposureTimeout.Error())
		return fmt.Errorf("%w (after %s)", ErrPublicExposureTimeout, m.cfg.PublicURLTimeout)
	case err != nil:
		degrade(fmt.Sprintf("public helper failed: %v", err))
		return err
	case !strings.HasPrefix(result, "http"):
		degrade(fmt.Sprintf("public helper reported: %s", result))
		return fmt.Errorf("public helper reported: %s", result)
	}

	rec.ExternalURL = result
	rec.LastError = ""
	if rec.Status != registry.StatusPending {
		rec.Status = registry.StatusRunning
	}
	rec.UpdatedAt = m.now()
	logging.LogInfo("Tunnel %q publicly exposed at %s", rec.Name, result)
	return nil
}

// saveCurrent persists rec under the registry lock.
func (m *Manager) saveCurrent(rec registry.Tunnel) error {
	return m.store.Mutate(func(tx *registry.Txn) error {
		return tx.Save(rec)
	})
}

// saveLive persists rec unless a concurrent invocation stopped or
// purged the tunnel in the meantime. Blindly saving would resurrect a
// stopped tunnel (or, after a purge, leak the spawned processes with no
// record pointing at them), so the loser of that race tears down
// whatever it spawned instead.
func (m *Manager) saveLive(rec registry.Tunnel) error {
	err := m.store.Mutate(func(tx *registry.Txn) error {
		current, err := tx.Get(rec.Name)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%w: %q", ErrStoppedDuringCreate, rec.Name)
		}
		return tx.Save(rec)
	})
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, ErrStoppedDuringCreate) {
		m.teardown(rec)
		return fmt.Errorf("%w: %q", ErrStoppedDuringCreate, rec.Name)
	}
	return err
}

// teardown kills the subprocesses of a half-created tunnel that lost
// the race with a concurrent stop.
func (m *Manager) teardown(rec registry.Tunnel) {
	for _, pid := range []int{rec.PublicPID, rec.LocalPID} {
		if pid == 0 {
			continue
		}
		if _, err := m.sup.Terminate(pid, m.cfg.GracePeriod); err != nil {
			logging.LogError("Failed to kill pid %d of tunnel %q after losing the stop race: %v", pid, rec.Name, err)
		}
	}
	logging.LogInfo("Tunnel %q was stopped during creation, spawned processes torn down", rec.Name)
}

// Stop terminates both subprocesses of a tunnel and marks it STOPPED.
// The record is kept for inspection unless purge is set.
func (m *Manager) Stop(ctx context.Context, name string, purge bool) error {
	if err := m.reconcileAll(ctx); err != nil {
		return err
	}

	rec, err := m.store.Get(name)
	if err != nil {
		return err
	}

	var killErrs []string
	for _, pid := range []int{rec.PublicPID, rec.LocalPID} {
		if pid == 0 {
			continue
		}
		clean, err := m.sup.Terminate(pid, m.cfg.GracePeriod)
		if err != nil {
			killErrs = append(killErrs, err.Error())
			continue
		}
		if !clean {
			logging.LogWarn("Process %d of tunnel %q needed SIGKILL", pid, name)
		}
	}

	if len(killErrs) > 0 {
		// Leave the record as-is: claiming STOPPED while a process may
		// still be alive would violate what the status promises.
		return fmt.Errorf("failed to stop tunnel %q: %s", name, strings.Join(killErrs, "; "))
	}

	return m.store.Mutate(func(tx *registry.Txn) error {
		current, err := tx.Get(name)
		if err != nil {
			return err
		}
		if purge {
			logging.LogInfo("Stopped and purged tunnel %q", name)
			return tx.Delete(name)
		}
		current.Status = registry.StatusStopped
		current.LocalPID = 0
		current.PublicPID = 0
		current.ExternalURL = ""
		current.UpdatedAt = m.now()
		logging.LogInfo("Stopped tunnel %q", name)
		return tx.Save(current)
	})
}

// Restart stops a tunnel and creates it again with the same name,
// local port, subdomain and public setting. The previous gateway port
// is reused unless something else claimed it in the meantime.
func (m *Manager) Restart(ctx context.Context, name string) (registry.Tunnel, error) {
	rec, err := m.store.Get(name)
	if err != nil {
		return registry.Tunnel{}, err
	}

	if err := m.Stop(ctx, name, true); err != nil {
		return registry.Tunnel{}, err
	}

	return m.Create(ctx, CreateOptions{
		Name:       rec.Name,
		LocalPort:  rec.LocalPort,
		Subdomain:  rec.Subdomain,
		PublicPort: rec.PublicPort,
		Public:     rec.PublicEnabled,
		Force:      true,
		reusePort:  true,
	})
}

// StartPublic attaches (or re-attaches) the public helper to an
// existing tunnel without touching the forwarder.
func (m *Manager) StartPublic(ctx context.Context, name string) (registry.Tunnel, error) {
	if err := m.reconcileAll(ctx); err != nil {
		return registry.Tunnel{}, err
	}

	rec, err := m.store.Get(name)
	if err != nil {
		return registry.Tunnel{}, err
	}
	if rec.LocalPID == 0 || !m.sup.PIDAlive(rec.LocalPID) {
		return rec, fmt.Errorf("%w: %q", ErrForwarderNotRunning, name)
	}
	if rec.PublicPID != 0 && m.sup.PIDAlive(rec.PublicPID) && rec.ExternalURL != "" {
		return rec, nil // already exposed
	}

	rec.PublicEnabled = true
	pubErr := m.startPublicHelper(ctx, &rec)
	if err := m.saveLive(rec); err != nil {
		return rec, err
	}
	return rec, pubErr
}

// StopPublic detaches the public helper, keeping the local forward up.
func (m *Manager) StopPublic(ctx context.Context, name string) (registry.Tunnel, error) {
	if err := m.reconcileAll(ctx); err != nil {
		return registry.Tunnel{}, err
	}

	rec, err := m.store.Get(name)
	if err != nil {
		return registry.Tunnel{}, err
	}

	if rec.PublicPID != 0 {
		if _, err := m.sup.Terminate(rec.PublicPID, m.cfg.GracePeriod); err != nil {
			return rec, fmt.Errorf("failed to stop public helper of %q: %w", name, err)
		}
	}

	rec.PublicPID = 0
	rec.ExternalURL = ""
	rec.PublicEnabled = false
	if rec.Status == registry.StatusDegraded {
		rec.Status = registry.StatusRunning
	}
	rec.LastError = ""
	rec.UpdatedAt = m.now()
	if err := m.saveLive(rec); err != nil {
		return rec, err
	}
	logging.LogInfo("Public exposure of %q stopped", name)
	return rec, nil
}

// List reconciles, then returns all records in creation order.
func (m *Manager) List(ctx context.Context) ([]registry.Tunnel, error) {
	if err := m.reconcileAll(ctx); err != nil {
		return nil, err
	}
	return m.store.List()
}

// Info reconciles, then returns one record.
func (m *Manager) Info(ctx context.Context, name string) (registry.Tunnel, error) {
	if err := m.reconcileAll(ctx); err != nil {
		return registry.Tunnel{}, err
	}
	return m.store.Get(name)
}

// StopOutcome is one tunnel's result within StopAll.
type StopOutcome struct {
	Name string
	Err  error
}

// StopAll stops every non-stopped tunnel. Outcomes are independent: a
// failing terminate on one tunnel never aborts the rest, and all
// failures are reported together.
func (m *Manager) StopAll(ctx context.Context) ([]StopOutcome, error) {
	records, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var outcomes []StopOutcome
	for _, rec := range records {
		if rec.Status == registry.StatusStopped {
			continue
		}
		outcomes = append(outcomes, StopOutcome{
			Name: rec.Name,
			Err:  m.Stop(ctx, rec.Name, false),
		})
	}
	return outcomes, nil
}

// Cleanup purges STOPPED and FAILED records. This is the only path that
// deletes without an explicit per-tunnel stop; reconciliation itself
// never removes records.
func (m *Manager) Cleanup(ctx context.Context) ([]string, error) {
	if err := m.reconcileAll(ctx); err != nil {
		return nil, err
	}

	var purged []string
	err := m.store.Mutate(func(tx *registry.Txn) error {
		records, err := tx.List()
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Status.Terminal() {
				if err := tx.Delete(rec.Name); err != nil {
					return err
				}
				purged = append(purged, rec.Name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purged, nil
}

// Logs returns the merged tail of a tunnel's forwarder and helper logs.
func (m *Manager) Logs(name string, n int) (string, error) {
	rec, err := m.store.Get(name)
	if err != nil {
		return "", err
	}

	var parts []string
	lines, err := supervisor.TailFile(rec.LogPath, n)
	if err != nil {
		return "", fmt.Errorf("failed to read logs for %q: %w", name, err)
	}
	parts = append(parts, strings.Join(lines, "\n"))

	if pubLines, err := supervisor.TailFile(rec.PublicLogPath, n); err == nil && len(pubLines) > 0 {
		parts = append(parts, "--- [public helper] ---", strings.Join(pubLines, "\n"))
	}
	return strings.Join(parts, "\n"), nil
}

// LogPath exposes the forwarder log location for `logs -f`.
func (m *Manager) LogPath(name string) (string, error) {
	rec, err := m.store.Get(name)
	if err != nil {
		return "", err
	}
	return rec.LogPath, nil
}
