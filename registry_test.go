package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterModuleClassification(t *testing.T) {
	d := testDispatcher()
	r := NewRegistry(t.TempDir(), d, zap.NewNop().Sugar())

	var onceRuns, alwaysRuns int
	r.RegisterModule(&HandlerModule{Trigger: "ready", Once: true, Actions: func(M) { onceRuns++ }})
	r.RegisterModule(&HandlerModule{Trigger: "message_create", Actions: func(M) { alwaysRuns++ }})
	r.RegisterModule(&HandlerModule{Name: "ping", Execute: func(M, ...string) {}})
	r.RegisterModule(&HandlerModule{Filename: "faq", Content: M{}})

	d.Emit("ready", M{})
	d.Emit("ready", M{})
	d.Emit("message_create", M{})

	assert.Equal(t, 1, onceRuns)
	assert.Equal(t, 1, alwaysRuns)
	assert.Equal(t, 1, d.CommandCount())
	assert.Equal(t, 1, d.SupportCount())
}

func TestLoadDataRegistersJSONFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.json"), []byte(`{"text":"hello"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	// skip-listed names never load
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"secret":true}`), 0644))

	d := testDispatcher()
	r := NewRegistry(dir, d, zap.NewNop().Sugar())

	require.NoError(t, r.LoadData())
	assert.Equal(t, 1, d.SupportCount())
}

func TestLoadDataMissingDirErrors(t *testing.T) {
	d := testDispatcher()
	r := NewRegistry(filepath.Join(t.TempDir(), "absent"), d, zap.NewNop().Sugar())
	assert.Error(t, r.LoadData())
}

func TestLoadDataSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.json"), []byte(`{}`), 0644))

	d := testDispatcher()
	r := NewRegistry(dir, d, zap.NewNop().Sugar())

	require.NoError(t, r.LoadData())
	assert.Equal(t, 1, d.SupportCount())
}
