package service_test

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
	"github.com/tetherhq/tether/service"
	"github.com/tetherhq/tether/supervisor"
)

// Each test uses a distinct service name: handles started here register
// in the package-wide singleton table.

const readyWorker = `echo '{"port": 5000}' >&3; exec 3>&-; trap 'exit 0' TERM; while true; do sleep 0.1; done`

func startWorker(t *testing.T, name, script string, config service.Config) *service.Handle {
	t.Helper()

	config.Name = name
	config.Start = supervisor.StartConfig{
		Cmd:  "sh",
		Args: []string{"-c", script},
	}
	if config.Registry == nil {
		config.Registry = &registry.Registry{Dir: t.TempDir()}
	}

	h, err := service.Start(config)
	require.NoError(t, err)
	t.Cleanup(func() { h.Shutdown() })

	return h
}

func TestStart_FetchConnInfo(t *testing.T) {
	h := startWorker(t, "fetch", readyWorker, service.Config{})

	info, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, float64(5000), info["port"])

	assert.True(t, h.Owned())
	assert.True(t, h.WaitUntilReady(context.Background(), 0))
}

func TestStart_SecondStartFails(t *testing.T) {
	reg := &registry.Registry{Dir: t.TempDir()}
	startWorker(t, "exclusive", readyWorker, service.Config{Registry: reg})

	_, err := service.Start(service.Config{
		Name:     "exclusive",
		Start:    supervisor.StartConfig{Cmd: "true"},
		Registry: reg,
	})
	assert.ErrorIs(t, err, service.ErrAlreadyRunning)
}

func TestStart_WritesRegistryFileWhenReady(t *testing.T) {
	reg := &registry.Registry{Dir: t.TempDir()}
	h := startWorker(t, "persisted", readyWorker, service.Config{Registry: reg})

	_, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)

	info, err := reg.Find("persisted", reg.Dir)
	require.NoError(t, err)
	assert.Equal(t, float64(5000), info["port"])
}

func TestStart_BootFailureSurfacesThroughConnInfo(t *testing.T) {
	h := startWorker(t, "bootfail", `exit 7`, service.Config{})

	_, err := h.ConnInfo(context.Background(), 0)
	assert.ErrorIs(t, err, supervisor.ErrBootFailure)
	assert.False(t, h.WaitUntilReady(context.Background(), 0))

	assert.Equal(t, 7, h.Shutdown())
}

func TestStart_SchemaViolationIsBootFailure(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {"port": {"type": "string"}},
		"required": ["port"]
	}`

	h := startWorker(t, "schema", readyWorker, service.Config{
		PayloadSchema: schema,
	})

	_, err := h.ConnInfo(context.Background(), 0)
	assert.ErrorIs(t, err, supervisor.ErrBootFailure)
}

func TestStart_AdoptsGivenConnInfo(t *testing.T) {
	reg := &registry.Registry{Dir: t.TempDir()}

	h, err := service.Start(service.Config{
		Name:     "adopted",
		Registry: reg,
		ConnInfo: models.ConnInfo{"port": float64(1234)},
	})
	require.NoError(t, err)
	defer h.Close()

	info, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, float64(1234), info["port"])

	// no worker was spawned and no file was written
	assert.False(t, h.Owned())
	assert.False(t, reg.Exists("adopted"))
	assert.Equal(t, service.NoProcessExitCode, h.Shutdown())
}

func TestShutdown_DeletesRegistryFile(t *testing.T) {
	reg := &registry.Registry{Dir: t.TempDir()}
	h := startWorker(t, "cleanup", readyWorker, service.Config{Registry: reg})

	_, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, reg.Exists("cleanup"))

	assert.Equal(t, 0, h.Shutdown())
	assert.False(t, reg.Exists("cleanup"))
}

func TestShutdown_AllowsRestart(t *testing.T) {
	reg := &registry.Registry{Dir: t.TempDir()}

	h := startWorker(t, "restart", readyWorker, service.Config{Registry: reg})
	_, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)
	h.Shutdown()

	// the singleton slot and the registry file are both released
	startWorker(t, "restart", readyWorker, service.Config{Registry: reg})
}

func TestConnect_ReturnsInProcessSingleton(t *testing.T) {
	h := startWorker(t, "local", readyWorker, service.Config{})

	got, err := service.Connect(context.Background(), "local", service.ConnectConfig{})
	require.NoError(t, err)
	assert.Same(t, h, got)
}

func TestConnect_DiscoversRegistryFile(t *testing.T) {
	dir := t.TempDir()
	reg := &registry.Registry{Dir: dir}
	require.NoError(t, reg.Write("remote", models.ConnInfo{"port": float64(4242)}))

	h, err := service.Connect(context.Background(), "remote", service.ConnectConfig{
		SearchRoot: dir,
	})
	require.NoError(t, err)
	defer h.Close()

	info, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, float64(4242), info["port"])
	assert.False(t, h.Owned())
}

func TestConnect_SearchesUpward(t *testing.T) {
	root := t.TempDir()
	reg := &registry.Registry{Dir: root}
	require.NoError(t, reg.Write("above", models.ConnInfo{"port": float64(1)}))

	nested := filepath.Join(root, "x", "y", "z")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	h, err := service.Connect(context.Background(), "above", service.ConnectConfig{
		SearchRoot: nested,
	})
	require.NoError(t, err)
	defer h.Close()

	info, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, float64(1), info["port"])
}

func TestConnect_TimesOut(t *testing.T) {
	_, err := service.Connect(context.Background(), "nowhere", service.ConnectConfig{
		SearchRoot: t.TempDir(),
		Timeout:    0,
	})
	assert.ErrorIs(t, err, service.ErrDiscoveryTimeout)
}

func TestConnectOrStart_StartsWhenAbsent(t *testing.T) {
	reg := &registry.Registry{Dir: t.TempDir()}

	h, err := service.ConnectOrStart(context.Background(), service.Config{
		Name:     "fallback",
		Start:    supervisor.StartConfig{Cmd: "sh", Args: []string{"-c", readyWorker}},
		Registry: reg,
	})
	require.NoError(t, err)
	defer h.Close()

	assert.True(t, h.Owned())
}

func TestConnectOrStart_ReusesRunningService(t *testing.T) {
	reg := &registry.Registry{Dir: t.TempDir()}
	require.NoError(t, reg.Write("shared", models.ConnInfo{"port": float64(8)}))

	h, err := service.ConnectOrStart(context.Background(), service.Config{
		Name:     "shared",
		Start:    supervisor.StartConfig{Cmd: "false"},
		Registry: reg,
	})
	require.NoError(t, err)
	defer h.Close()

	assert.False(t, h.Owned())

	info, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, float64(8), info["port"])
}

func TestConnInfo_BoundedWait(t *testing.T) {
	// the worker never completes its handshake
	h := startWorker(t, "slow", `sleep 30`, service.Config{})

	_, err := h.ConnInfo(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, service.ErrNotReady)
}

func TestConnInfo_ContextCancel(t *testing.T) {
	h := startWorker(t, "cancelled", `sleep 30`, service.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.ConnInfo(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetConnInfo_SecondSetRejected(t *testing.T) {
	h := startWorker(t, "oneshot", readyWorker, service.Config{})

	_, err := h.ConnInfo(context.Background(), 0)
	require.NoError(t, err)

	err = h.SetConnInfo(models.ConnInfo{"port": float64(9)}, nil)
	assert.ErrorIs(t, err, service.ErrConnInfoAlreadySet)
}
