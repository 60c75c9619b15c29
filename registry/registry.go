package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetherhq/tether/models"
)

var (
	// ErrNotFound is returned when no registry file could be discovered
	// within the given timeout.
	ErrNotFound = errors.New("no registry file found")
)

// Registry persists connection info to well-known JSON files so that
// unrelated processes on the same machine can discover a running worker.
// The presence of a registry file means "a worker of this kind claims to
// be running here"; its absence means no known instance.
//
// Writes and deletes are owned exclusively by the supervisor that spawned
// the matching process. The registry provides no locking; the pre-spawn
// existence check in the supervisor is a best-effort safety net, not a
// mutex.
type Registry struct {
	// Dir is the directory registry files are written to. Empty means
	// the process working directory.
	Dir string
}

// FileName returns the registry file name for a service name.
func FileName(name string) string {
	return fmt.Sprintf("%s_server.json", name)
}

func (r *Registry) dir() (string, error) {
	if r.Dir != "" {
		return r.Dir, nil
	}

	return os.Getwd()
}

// Path returns the absolute path of the registry file for a service name.
func (r *Registry) Path(name string) (string, error) {
	dir, err := r.dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, FileName(name)), nil
}

// Exists reports whether a registry file for the service is present in
// the registry directory.
func (r *Registry) Exists(name string) bool {
	path, err := r.Path(name)
	if err != nil {
		return false
	}

	_, err = os.Stat(path)

	return err == nil
}

// Write serializes the connection info to the registry file. Only the
// supervisor owning the worker process may call this, once, after a
// successful handshake.
func (r *Registry) Write(name string, info models.ConnInfo) error {
	path, err := r.Path(name)
	if err != nil {
		return err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Find looks for a registry file for the service, starting at startDir
// and walking upward through parent directories until the filesystem
// root. This lets tools invoked from a subdirectory of a project discover
// a worker started at the project root.
func (r *Registry) Find(name, startDir string) (models.ConnInfo, error) {
	if startDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		startDir = cwd
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	fileName := FileName(name)

	for {
		info, err := readFile(filepath.Join(dir, fileName))
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotFound
		}

		dir = parent
	}
}

// Delete removes the registry file for the service. Absence is not an
// error, deletion is best-effort.
func (r *Registry) Delete(name string) error {
	path, err := r.Path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func readFile(path string) (models.ConnInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var info models.ConnInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	return info, nil
}
