package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reloadBase = `
identity:
  secret: s3cret
log:
  level: info
`

func newTestReloader(t *testing.T) (*Reloader, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fogbow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadBase), 0o600))

	loader := NewLoader().WithConfigPath(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	r, err := NewReloader(loader, cfg, nil)
	require.NoError(t, err)
	return r, path
}

func TestNewReloader_Rejects(t *testing.T) {
	_, err := NewReloader(NewLoader(), DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = NewReloader(NewLoader().WithConfigPath("fogbow.yaml"), nil, nil)
	assert.Error(t, err)
}

func TestReloader_AppliesValidChange(t *testing.T) {
	r, path := newTestReloader(t)

	var gotOld, gotNew *Config
	var gotChanged []string
	r.OnReload(func(oldCfg, newCfg *Config, changed []string) {
		gotOld, gotNew, gotChanged = oldCfg, newCfg, changed
	})

	require.NoError(t, os.WriteFile(path, []byte(`
identity:
  secret: s3cret
log:
  level: debug
manager:
  member_id: site-z
`), 0o600))
	require.NoError(t, r.Reload())

	require.NotNil(t, gotNew)
	assert.Equal(t, "info", gotOld.Log.Level)
	assert.Equal(t, "debug", gotNew.Log.Level)
	assert.Equal(t, []string{"log.level", "manager.member_id"}, gotChanged)
	assert.Same(t, gotNew, r.Current())
}

func TestReloader_KeepsConfigOnInvalidChange(t *testing.T) {
	r, path := newTestReloader(t)
	before := r.Current()

	called := false
	r.OnReload(func(*Config, *Config, []string) { called = true })

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	err := r.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity secret")
	assert.False(t, called)
	assert.Same(t, before, r.Current())
}

func TestReloader_NoChangeNoCallback(t *testing.T) {
	r, _ := newTestReloader(t)
	called := false
	r.OnReload(func(*Config, *Config, []string) { called = true })

	require.NoError(t, r.Reload())
	assert.False(t, called)
}

func TestReloader_IgnoresRemoval(t *testing.T) {
	r, _ := newTestReloader(t)
	before := r.Current()
	r.handleFileChange(FileEvent{Op: FileOpRemove})
	assert.Same(t, before, r.Current())
}

func TestIsHotReloadable(t *testing.T) {
	assert.True(t, IsHotReloadable("log.level"))
	assert.False(t, IsHotReloadable("server.addr"))
}
