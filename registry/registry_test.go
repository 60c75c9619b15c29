package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetherhq/tether/models"
	"github.com/tetherhq/tether/registry"
)

func TestFileName(t *testing.T) {
	assert.Equal(t, "storage_server.json", registry.FileName("storage"))
}

func TestWrite_ThenFind(t *testing.T) {
	dir := t.TempDir()
	reg := &registry.Registry{Dir: dir}

	info := models.ConnInfo{"host": "localhost", "port": float64(51820)}
	require.NoError(t, reg.Write("storage", info))

	assert.True(t, reg.Exists("storage"))

	found, err := reg.Find("storage", dir)
	require.NoError(t, err)
	assert.Equal(t, info, found)
}

func TestFind_WalksUpward(t *testing.T) {
	root := t.TempDir()
	reg := &registry.Registry{Dir: root}

	require.NoError(t, reg.Write("storage", models.ConnInfo{"port": float64(1)}))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := reg.Find("storage", nested)
	require.NoError(t, err)
	assert.Equal(t, float64(1), found["port"])
}

func TestFind_Missing(t *testing.T) {
	reg := &registry.Registry{Dir: t.TempDir()}

	_, err := reg.Find("storage", reg.Dir)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestFind_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	reg := &registry.Registry{Dir: dir}

	path := filepath.Join(dir, registry.FileName("storage"))
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	_, err := reg.Find("storage", dir)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, registry.ErrNotFound)
}

func TestDelete_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	reg := &registry.Registry{Dir: dir}

	require.NoError(t, reg.Write("storage", models.ConnInfo{}))
	require.NoError(t, reg.Delete("storage"))
	assert.False(t, reg.Exists("storage"))

	// deleting an absent file is not an error
	require.NoError(t, reg.Delete("storage"))
}

func TestWait_FileAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	reg := &registry.Registry{Dir: dir}

	require.NoError(t, reg.Write("storage", models.ConnInfo{"port": float64(7)}))

	info, err := reg.Wait(context.Background(), "storage", dir, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(7), info["port"])
}

func TestWait_ZeroTimeoutProbesOnce(t *testing.T) {
	dir := t.TempDir()
	reg := &registry.Registry{Dir: dir}

	start := time.Now()
	_, err := reg.Wait(context.Background(), "storage", dir, 0)

	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_FileAppearsLater(t *testing.T) {
	dir := t.TempDir()
	reg := &registry.Registry{Dir: dir}

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = reg.Write("storage", models.ConnInfo{"port": float64(9)})
	}()

	info, err := reg.Wait(context.Background(), "storage", dir, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(9), info["port"])
}

func TestWait_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	reg := &registry.Registry{Dir: dir}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := reg.Wait(ctx, "storage", dir, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
