package registry

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tetherhq/tether/models"
)

// pollInterval is the fallback cadence for re-scanning the directory
// tree while waiting for a registry file to appear.
const pollInterval = time.Second

// Wait blocks until a registry file for the service can be discovered
// from startDir, or the timeout elapses. A timeout of zero still performs
// exactly one probe, so callers can use it as a non-blocking check.
//
// Between probes, Wait sleeps until the next poll tick or until an
// fsnotify event fires for startDir, whichever comes first. The watcher
// only covers startDir itself; files appearing in ancestor directories
// are picked up by the periodic re-scan.
func (r *Registry) Wait(
	ctx context.Context,
	name string,
	startDir string,
	timeout time.Duration,
) (models.ConnInfo, error) {
	if startDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		startDir = cwd
	}

	// scope the watcher goroutine to this call
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := watchDir(ctx, startDir, FileName(name))

	deadline := time.Now().Add(timeout)

	for {
		info, err := r.Find(name, startDir)
		if err == nil {
			return info, nil
		}
		if err != ErrNotFound {
			return nil, err
		}

		if !time.Now().Before(deadline) {
			return nil, ErrNotFound
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-events:
		case <-time.After(pollInterval):
		}
	}
}

// watchDir returns a channel that receives a signal whenever a file
// matching fileName is created or written in dir. If the watcher cannot
// be established the channel simply never fires and callers fall back to
// polling.
func watchDir(ctx context.Context, dir, fileName string) <-chan struct{} {
	events := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return events
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return events
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if !strings.HasSuffix(event.Name, fileName) {
					continue
				}
				select {
				case events <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return events
}
