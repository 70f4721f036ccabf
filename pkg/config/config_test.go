package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"wtunnel/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Domain)
	assert.Equal(t, 8000, cfg.PortRangeStart)
	assert.Equal(t, 9000, cfg.PortRangeEnd)
	assert.Equal(t, 3*time.Second, cfg.GracePeriod)
	assert.Equal(t, 20*time.Second, cfg.PublicURLTimeout)
	assert.Equal(t, "socat", cfg.ForwarderCommand[0])
	assert.Equal(t, "npx", cfg.HelperCommand[0])

	// The directory tree and default config file now exist.
	assert.DirExists(t, filepath.Join(dir, "logs"))
	assert.DirExists(t, filepath.Join(dir, "tools"))
	assert.FileExists(t, cfg.Path())
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	cfg.Domain = "dev.test"
	cfg.PortRangeStart = 9100
	require.NoError(t, cfg.Save())

	reloaded, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "dev.test", reloaded.Domain)
	assert.Equal(t, 9100, reloaded.PortRangeStart)
	// Untouched fields keep their defaults.
	assert.Equal(t, 9000, reloaded.PortRangeEnd)
}

func TestLoadPartialFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("domain: example.dev\n"), 0600))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "example.dev", cfg.Domain)
	assert.Equal(t, 8000, cfg.PortRangeStart)
	assert.NotEmpty(t, cfg.ForwarderCommand)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{not yaml"), 0600))

	_, err := config.Load(dir)
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "registry.db"), cfg.RegistryPath())
	assert.Equal(t, filepath.Join(dir, "wtunnel.log"), cfg.AppLogPath())
	assert.Equal(t, filepath.Join(dir, "logs", "api.log"), cfg.TunnelLogPath("api"))
	assert.Equal(t, filepath.Join(dir, "logs", "api.public.log"), cfg.PublicLogPath("api"))
	assert.Equal(t, filepath.Join(dir, "tools"), cfg.ToolsDir())
}

func TestExpandCommand(t *testing.T) {
	template := []string{
		"socat",
		"TCP-LISTEN:{listen_port},fork,reuseaddr",
		"TCP:127.0.0.1:{target_port}",
	}

	got := config.ExpandCommand(template, 8042, 5000, "api")
	assert.Equal(t, []string{
		"socat",
		"TCP-LISTEN:8042,fork,reuseaddr",
		"TCP:127.0.0.1:5000",
	}, got)

	// The template itself is never mutated.
	assert.Equal(t, "TCP-LISTEN:{listen_port},fork,reuseaddr", template[1])
}

func TestExpandCommandSubdomain(t *testing.T) {
	got := config.ExpandCommand(
		[]string{"npx", "localtunnel", "--port", "{listen_port}", "--subdomain", "{subdomain}"},
		8042, 5000, "hooks")
	assert.Equal(t, []string{"npx", "localtunnel", "--port", "8042", "--subdomain", "hooks"}, got)
}
