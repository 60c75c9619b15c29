// Package worker implements the worker side of the handshake contract.
// A supervised worker calls Publish exactly once, after its own
// initialisation has finished, to report how it can be reached:
//
//	if err := worker.Publish(models.ConnInfo{
//		"host": "localhost",
//		"port": port,
//	}); err != nil {
//		log.Fatal("publishing connection info", zap.Error(err))
//	}
//
// Publish writes one JSON object to the descriptor named by the
// TETHER_COMM_FD environment variable and closes it. Closing the
// descriptor is what tells the supervisor that initialisation is done.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tetherhq/tether/models"
	"github.com/tetherhq/tether/supervisor"
)

// ErrNoCommFd is returned when the process was not started by a tether
// supervisor, i.e. the handshake descriptor variable is absent.
var ErrNoCommFd = errors.New("no handshake descriptor in environment")

// Supervised reports whether this process was started by a tether
// supervisor.
func Supervised() bool {
	_, ok := os.LookupEnv(supervisor.CommFdEnv)
	return ok
}

// CommFile resolves the handshake descriptor passed down by the
// supervisor. The caller owns the returned file and must close it after
// writing the connection info.
func CommFile() (*os.File, error) {
	value, ok := os.LookupEnv(supervisor.CommFdEnv)
	if !ok || value == "" {
		return nil, ErrNoCommFd
	}

	fd, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", supervisor.CommFdEnv, value, err)
	}

	file := os.NewFile(uintptr(fd), "tether-comm")
	if file == nil {
		return nil, fmt.Errorf("descriptor %d is not open", fd)
	}

	return file, nil
}

// Publish writes the connection info over the handshake descriptor and
// closes it, signalling readiness to the supervisor.
func Publish(info models.ConnInfo) error {
	comm, err := CommFile()
	if err != nil {
		return err
	}

	return PublishTo(comm, info)
}

// PublishTo writes the connection info to the given writer and closes
// it. Split out from Publish for tests and custom descriptor plumbing.
func PublishTo(comm io.WriteCloser, info models.ConnInfo) error {
	if err := json.NewEncoder(comm).Encode(info); err != nil {
		comm.Close()
		return fmt.Errorf("encoding connection info: %w", err)
	}

	return comm.Close()
}
