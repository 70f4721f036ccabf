package registry_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"wtunnel/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLockTimeout = 2 * time.Second

func openTestStore(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), testLockTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleTunnel(name string) registry.Tunnel {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return registry.Tunnel{
		Name:          name,
		LocalPort:     5000,
		PublicPort:    8000,
		Subdomain:     name,
		Hostname:      name + ".localhost",
		PublicEnabled: true,
		ExternalURL:   "https://" + name + ".loca.lt",
		LocalPID:      1234,
		PublicPID:     5678,
		Status:        registry.StatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
		LogPath:       "/tmp/" + name + ".log",
		PublicLogPath: "/tmp/" + name + ".public.log",
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)

	want := sampleTunnel("api")
	require.NoError(t, store.Create(want))

	got, err := store.Get("api")
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.LocalPort, got.LocalPort)
	assert.Equal(t, want.PublicPort, got.PublicPort)
	assert.Equal(t, want.Subdomain, got.Subdomain)
	assert.Equal(t, want.Hostname, got.Hostname)
	assert.Equal(t, want.PublicEnabled, got.PublicEnabled)
	assert.Equal(t, want.ExternalURL, got.ExternalURL)
	assert.Equal(t, want.LocalPID, got.LocalPID)
	assert.Equal(t, want.PublicPID, got.PublicPID)
	assert.Equal(t, want.Status, got.Status)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at drifted: %v vs %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
	assert.Equal(t, want.LogPath, got.LogPath)
}

func TestStoreRoundTripAbsentFields(t *testing.T) {
	store := openTestStore(t)

	// A tunnel that was never exposed: no URL, no helper PID, no local
	// PID yet. These are stored as NULL and must come back as zero
	// values, not as the string "".
	rec := sampleTunnel("bare")
	rec.PublicEnabled = false
	rec.ExternalURL = ""
	rec.LocalPID = 0
	rec.PublicPID = 0
	rec.Status = registry.StatusPending
	require.NoError(t, store.Create(rec))

	got, err := store.Get("bare")
	require.NoError(t, err)
	assert.Empty(t, got.ExternalURL)
	assert.Zero(t, got.LocalPID)
	assert.Zero(t, got.PublicPID)
	assert.False(t, got.PublicEnabled)
	assert.Equal(t, registry.StatusPending, got.Status)
}

func TestStoreDuplicateName(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Create(sampleTunnel("api")))
	err := store.Create(sampleTunnel("api"))
	assert.ErrorIs(t, err, registry.ErrDuplicateName)

	// The original record is untouched.
	got, err := store.Get("api")
	require.NoError(t, err)
	assert.Equal(t, 5000, got.LocalPort)
}

func TestStoreGetNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("ghost")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStoreSave(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Create(sampleTunnel("api")))

	rec, err := store.Get("api")
	require.NoError(t, err)
	rec.Status = registry.StatusStopped
	rec.LocalPID = 0
	rec.PublicPID = 0
	rec.ExternalURL = ""
	require.NoError(t, store.Save(rec))

	got, err := store.Get("api")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusStopped, got.Status)
	assert.Zero(t, got.LocalPID)
	assert.Empty(t, got.ExternalURL)
}

func TestStoreSaveNotFound(t *testing.T) {
	store := openTestStore(t)

	err := store.Save(sampleTunnel("ghost"))
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Create(sampleTunnel("api")))

	require.NoError(t, store.Delete("api"))
	_, err := store.Get("api")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	assert.ErrorIs(t, store.Delete("api"), registry.ErrNotFound)
}

func TestStoreListCreationOrder(t *testing.T) {
	store := openTestStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, store.Create(sampleTunnel(name)))
	}

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "zeta", records[0].Name)
	assert.Equal(t, "alpha", records[1].Name)
	assert.Equal(t, "mid", records[2].Name)
}

func TestStoreMutateRollsBackOnError(t *testing.T) {
	store := openTestStore(t)

	err := store.Mutate(func(tx *registry.Txn) error {
		if err := tx.Create(sampleTunnel("api")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = store.Get("api")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStoreMutateReadModifyWrite(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Create(sampleTunnel("api")))

	err := store.Mutate(func(tx *registry.Txn) error {
		rec, err := tx.Get("api")
		if err != nil {
			return err
		}
		rec.Status = registry.StatusDegraded
		rec.LastError = "public exposure helper died"
		return tx.Save(rec)
	})
	require.NoError(t, err)

	got, err := store.Get("api")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusDegraded, got.Status)
	assert.Equal(t, "public exposure helper died", got.LastError)
}

func TestStoreTwoHandlesShareState(t *testing.T) {
	// Two Store handles on the same file stand in for two concurrent
	// CLI invocations.
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.db")

	a, err := registry.Open(path, testLockTimeout)
	require.NoError(t, err)
	defer a.Close()
	b, err := registry.Open(path, testLockTimeout)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Create(sampleTunnel("shared")))

	got, err := b.Get("shared")
	require.NoError(t, err)
	assert.Equal(t, "shared", got.Name)
}

func TestStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database, not even close"), 0600))

	_, err := registry.Open(path, testLockTimeout)
	assert.ErrorIs(t, err, registry.ErrStoreCorrupt)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, registry.StatusPending.Terminal())
	assert.False(t, registry.StatusRunning.Terminal())
	assert.False(t, registry.StatusDegraded.Terminal())
	assert.True(t, registry.StatusStopped.Terminal())
	assert.True(t, registry.StatusFailed.Terminal())
}

func TestTunnelURLs(t *testing.T) {
	rec := registry.Tunnel{Hostname: "api.localhost", PublicPort: 8042}
	assert.Equal(t, "http://api.localhost:8042", rec.GatewayURL())
	assert.Equal(t, "http://127.0.0.1:8042", rec.LoopbackURL())
	assert.Contains(t, rec.CurlResolveExample(), "--resolve api.localhost:8042:127.0.0.1")
}

func TestTunnelUptime(t *testing.T) {
	now := time.Now()
	rec := registry.Tunnel{Status: registry.StatusRunning, CreatedAt: now.Add(-time.Minute)}
	assert.Equal(t, time.Minute, rec.Uptime(now))

	rec.Status = registry.StatusStopped
	assert.Zero(t, rec.Uptime(now))
}
