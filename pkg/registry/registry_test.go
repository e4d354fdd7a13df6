package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetReusesInstances(t *testing.T) {
	r := New[string](context.Background(), Config{})
	t.Cleanup(func() { _ = r.ShutdownAll() })

	images, err := r.Get("images")
	require.NoError(t, err)
	code, err := r.Get("code")
	require.NoError(t, err)
	again, err := r.Get("images")
	require.NoError(t, err)

	assert.Same(t, images, again, "The same name must return the same instance")
	assert.NotSame(t, images, code)
	assert.ElementsMatch(t, []string{"images", "code"}, r.Names())
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	r := New[string](context.Background(), Config{})
	t.Cleanup(func() { _ = r.ShutdownAll() })
	_, err := r.Get("")
	assert.Error(t, err)
}

func TestRegistry_AppliesProfiles(t *testing.T) {
	conf := Config{
		Default:  Profile{MaxEntries: 100},
		Profiles: map[string]Profile{"tiny": {MaxEntries: 1}},
	}
	r := New[string](context.Background(), conf)
	t.Cleanup(func() { _ = r.ShutdownAll() })

	tiny, err := r.Get("tiny")
	require.NoError(t, err)
	require.NoError(t, tiny.Set("a", "1"))
	require.NoError(t, tiny.Set("b", "2"))
	assert.Equal(t, 1, tiny.Len(), "The per-name profile must cap the cache at one entry")
	assert.False(t, tiny.Has("a"))
	assert.True(t, tiny.Has("b"))
}

func TestRegistry_PersistenceRequiresDataDir(t *testing.T) {
	conf := Config{Default: Profile{Persist: true}}
	r := New[string](context.Background(), conf)
	t.Cleanup(func() { _ = r.ShutdownAll() })
	_, err := r.Get("images")
	assert.Error(t, err)
}

func TestRegistry_ShutdownAllFlushesAndClears(t *testing.T) {
	dataDir := t.TempDir()
	conf := Config{DataDir: dataDir, Default: Profile{Persist: true}}

	first := New[string](context.Background(), conf)
	images, err := first.Get("images")
	require.NoError(t, err)
	require.NoError(t, images.Set("thumb", "bytes"))
	require.NoError(t, first.ShutdownAll())

	// ShutdownAll is terminal for the registry.
	_, err = first.Get("images")
	assert.Error(t, err)
	require.NoError(t, first.ShutdownAll(), "Repeated shutdown must be harmless")

	// Each instance flushed into its own subdirectory.
	_, err = os.Stat(filepath.Join(dataDir, "images", "manifest.json"))
	require.NoError(t, err)

	// A fresh registry pointed at the same directory recovers the state.
	second := New[string](context.Background(), conf)
	t.Cleanup(func() { _ = second.ShutdownAll() })
	recovered, err := second.Get("images")
	require.NoError(t, err)
	got, found := recovered.Get("thumb")
	assert.True(t, found)
	assert.Equal(t, "bytes", got)
}

func TestLoadConfig(t *testing.T) {
	configYAML := `
data_dir: /var/lib/casket
default:
  max_size_bytes: 1048576
  max_entries: 500
  default_ttl: 1h
  sweep_interval: 30s
  persist: false
profiles:
  images:
    max_size_bytes: 52428800
    max_entries: 2000
    default_ttl: 24h
    persist_interval: 5m
    persist: true
`
	path := filepath.Join(t.TempDir(), "casket.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/casket", conf.DataDir)
	assert.Equal(t, int64(1<<20), conf.Default.MaxSizeBytes)
	assert.Equal(t, time.Hour, conf.Default.DefaultTTL)
	assert.Equal(t, 30*time.Second, conf.Default.SweepInterval)

	images := conf.profileFor("images")
	assert.True(t, images.Persist)
	assert.Equal(t, 24*time.Hour, images.DefaultTTL)
	assert.Equal(t, 5*time.Minute, images.PersistInterval)

	// Unknown names fall back to the default profile.
	assert.Equal(t, conf.Default, conf.profileFor("unknown"))
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
