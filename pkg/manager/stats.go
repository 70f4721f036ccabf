package manager

import (
	"context"
	"time"

	"wtunnel/pkg/registry"
)

// TunnelStats is a point-in-time resource snapshot for one tunnel,
// summed over its tracked PIDs.
type TunnelStats struct {
	Name       string
	Status     registry.Status
	CPUPercent float64
	MemoryMB   float64
	Uptime     time.Duration
}

// Stats aggregates resource usage across all tunnels.
type Stats struct {
	Tunnels       []TunnelStats
	Total         int
	Active        int
	Dead          int
	TotalCPU      float64
	TotalMemoryMB float64
}

// Stats reconciles, then samples CPU/memory for every tracked PID.
// Unreadable processes contribute nothing rather than failing the
// whole report.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	records, err := m.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := m.now()
	stats := Stats{Total: len(records)}
	for _, rec := range records {
		ts := TunnelStats{
			Name:   rec.Name,
			Status: rec.Status,
			Uptime: rec.Uptime(now),
		}
		for _, pid := range []int{rec.LocalPID, rec.PublicPID} {
			if pid == 0 {
				continue
			}
			info, err := m.sup.ProcessInfo(pid)
			if err != nil {
				continue
			}
			ts.CPUPercent += info.CPUPercent
			ts.MemoryMB += info.MemoryMB
		}

		if rec.Status.Terminal() {
			stats.Dead++
		} else {
			stats.Active++
		}
		stats.TotalCPU += ts.CPUPercent
		stats.TotalMemoryMB += ts.MemoryMB
		stats.Tunnels = append(stats.Tunnels, ts)
	}
	return stats, nil
}
