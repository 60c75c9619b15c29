package worker_test

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetherhq/tether/models"
	"github.com/tetherhq/tether/supervisor"
	"github.com/tetherhq/tether/worker"
)

func TestSupervised(t *testing.T) {
	t.Run("without env", func(t *testing.T) {
		t.Setenv(supervisor.CommFdEnv, "")
		os.Unsetenv(supervisor.CommFdEnv)

		assert.False(t, worker.Supervised())
	})

	t.Run("with env", func(t *testing.T) {
		t.Setenv(supervisor.CommFdEnv, "3")

		assert.True(t, worker.Supervised())
	})
}

func TestCommFile_MissingEnv(t *testing.T) {
	t.Setenv(supervisor.CommFdEnv, "")
	os.Unsetenv(supervisor.CommFdEnv)

	_, err := worker.CommFile()
	assert.ErrorIs(t, err, worker.ErrNoCommFd)
}

func TestCommFile_MalformedEnv(t *testing.T) {
	t.Setenv(supervisor.CommFdEnv, "not-a-number")

	_, err := worker.CommFile()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, worker.ErrNoCommFd)
}

func TestPublish_WritesToCommFd(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	t.Setenv(supervisor.CommFdEnv, fmt.Sprint(w.Fd()))

	require.NoError(t, worker.Publish(models.ConnInfo{
		"host": "localhost",
		"port": float64(51820),
	}))

	// Publish closed the write end, so the read drains to EOF
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	var info models.ConnInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "localhost", info["host"])
	assert.Equal(t, float64(51820), info["port"])
}

func TestPublishTo_ClosesWriter(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, worker.PublishTo(w, models.ConnInfo{"port": float64(1)}))

	_, err = io.ReadAll(r)
	require.NoError(t, err)

	// a second close fails: the descriptor was released by PublishTo
	assert.Error(t, w.Close())
}

func TestPublishTo_UnencodablePayload(t *testing.T) {
	_, w, err := os.Pipe()
	require.NoError(t, err)

	err = worker.PublishTo(w, models.ConnInfo{"bad": make(chan int)})
	assert.Error(t, err)
}
