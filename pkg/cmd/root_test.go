package cmd

import (
	"fmt"
	"testing"

	"wtunnel/pkg/manager"
	"wtunnel/pkg/registry"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("lookup: %w", registry.ErrNotFound), ExitTunnelNotFound},
		{"corrupt registry", fmt.Errorf("open: %w", registry.ErrStoreCorrupt), ExitRegistryUnavailable},
		{"lock timeout", registry.ErrLockTimeout, ExitRegistryUnavailable},
		{"unreachable service", manager.ErrLocalServiceUnreachable, ExitOperationFailed},
		{"anything else", fmt.Errorf("boom"), ExitOperationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRootRegistersSubcommands(t *testing.T) {
	for _, name := range []string{
		"start", "stop", "stopall", "restart", "list", "info", "logs",
		"stats", "cleanup", "config", "public", "dashboard", "webhook-server",
	} {
		cmd, _, err := rootCmd.Find([]string{name})
		assert.NoError(t, err, "command %q", name)
		assert.NotNil(t, cmd)
	}
}
