package manager

import (
	"context"
	"regexp"
	"strings"
	"time"

	"wtunnel/pkg/logging"
	"wtunnel/pkg/registry"
	"wtunnel/pkg/supervisor"
)

// Facts is everything reconciliation knows about one tunnel's live
// state: process existence, socket reachability, and any public URL
// found in the helper's output. Gathering facts does I/O; applying them
// is a pure function, so the transition table is testable without
// spawning anything.
type Facts struct {
	Now          time.Time
	LocalAlive   bool
	PublicAlive  bool
	GatewayOpen  bool
	TargetOpen   bool
	PublicURL    string
	LastLogLines []string
}

// Reconcile derives the next record from the current one plus observed
// facts. It is idempotent: feeding the result back with the same facts
// yields the same record. It never deletes; dead tunnels become STOPPED
// or FAILED so their logs stay inspectable.
func Reconcile(t registry.Tunnel, f Facts) registry.Tunnel {
	if t.Status.Terminal() {
		return t
	}

	fail := func(cause string) registry.Tunnel {
		t.Status = registry.StatusFailed
		t.LastError = cause
		if len(f.LastLogLines) > 0 {
			t.LastError += "\nlast output:\n" + strings.Join(f.LastLogLines, "\n")
		}
		t.UpdatedAt = f.Now
		return t
	}

	switch t.Status {
	case registry.StatusPending:
		if t.LocalPID != 0 && !f.LocalAlive {
			return fail("local forwarder exited before the tunnel became ready")
		}
		if f.LocalAlive && f.TargetOpen && f.GatewayOpen {
			if t.PublicEnabled && f.PublicURL == "" && t.ExternalURL == "" {
				t.Status = registry.StatusDegraded
			} else {
				t.Status = registry.StatusRunning
			}
			if f.PublicURL != "" {
				t.ExternalURL = f.PublicURL
			}
			t.LastError = ""
			t.UpdatedAt = f.Now
		}

	case registry.StatusRunning:
		if !f.LocalAlive {
			return fail("local forwarder process died")
		}
		if !f.GatewayOpen {
			// PID exists but the listening socket is gone; that is not
			// a working tunnel.
			return fail("local forwarder is alive but its gateway port stopped answering")
		}
		if t.PublicEnabled && t.PublicPID != 0 && !f.PublicAlive {
			t.Status = registry.StatusDegraded
			t.LastError = "public exposure helper died"
			// The URL routed through the dead helper; showing it would
			// advertise an address that no longer answers.
			t.ExternalURL = ""
			t.UpdatedAt = f.Now
		} else if t.PublicEnabled && t.ExternalURL == "" && f.PublicURL != "" {
			t.ExternalURL = f.PublicURL
			t.UpdatedAt = f.Now
		}

	case registry.StatusDegraded:
		if !f.LocalAlive {
			return fail("local forwarder process died")
		}
		if !f.GatewayOpen {
			return fail("local forwarder is alive but its gateway port stopped answering")
		}
		// Deferred success: the helper came up (or reported its URL)
		// after create's bounded wait expired.
		if f.PublicAlive && f.PublicURL != "" {
			t.Status = registry.StatusRunning
			t.ExternalURL = f.PublicURL
			t.LastError = ""
			t.UpdatedAt = f.Now
		}
	}

	return t
}

var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

// gatherFacts collects liveness facts for one record. Bounded probes
// only; a hung subprocess cannot stall reconciliation of the others.
func (m *Manager) gatherFacts(t registry.Tunnel) Facts {
	f := Facts{Now: m.now()}

	if t.LocalPID != 0 {
		f.LocalAlive = m.sup.PIDAlive(t.LocalPID)
	}
	if t.PublicPID != 0 {
		f.PublicAlive = m.sup.PIDAlive(t.PublicPID)
	}
	f.GatewayOpen = m.prober.IsPortOpen("127.0.0.1", t.PublicPort, probeTimeout)
	f.TargetOpen = m.prober.IsPortOpen("127.0.0.1", t.LocalPort, probeTimeout)

	if t.ExternalURL != "" {
		f.PublicURL = t.ExternalURL
	} else if f.PublicAlive {
		// The helper may have printed its URL after create stopped
		// waiting; the log file is the durable place to look.
		if lines, err := supervisor.TailFile(t.PublicLogPath, 50); err == nil {
			for _, line := range lines {
				if url := urlPattern.FindString(line); url != "" {
					f.PublicURL = url
				}
			}
		}
	}

	if !f.LocalAlive {
		if lines, err := supervisor.TailFile(t.LogPath, 10); err == nil {
			f.LastLogLines = lines
		}
	}
	return f
}

// reconcileAll runs one reconciliation pass over every non-terminal
// record. Invoked at the start of every operation so callers never see
// status staler than one pass. Per-tunnel failures are logged and do
// not block the remaining tunnels.
func (m *Manager) reconcileAll(ctx context.Context) error {
	records, err := m.store.List()
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.Status.Terminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		facts := m.gatherFacts(rec)
		next := Reconcile(rec, facts)
		if next == rec {
			continue
		}

		err := m.store.Mutate(func(tx *registry.Txn) error {
			current, err := tx.Get(rec.Name)
			if err != nil {
				return err
			}
			// Another invocation may have moved the record since we
			// gathered facts; only apply our transition onto the state
			// we derived it from.
			if current.Status != rec.Status || current.UpdatedAt != rec.UpdatedAt {
				return nil
			}
			return tx.Save(next)
		})
		if err != nil {
			logging.LogError("Reconcile of %q failed: %v", rec.Name, err)
			continue
		}
		if next.Status != rec.Status {
			logging.LogInfo("Reconciled %q: %s -> %s", rec.Name, rec.Status, next.Status)
		}
	}
	return nil
}
