package service

import (
	"fmt"
	"sync"
)

// instances is the process-wide table of live service handles, keyed by
// service name. It enforces "one supervised instance of a kind per
// process". Adopted handles are never entered here.
var (
	instancesMu sync.Mutex
	instances   = map[string]*Handle{}
)

func registerInstance(h *Handle) error {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	if _, ok := instances[h.name]; ok {
		return fmt.Errorf("%w: %s service already started in this process",
			ErrAlreadyRunning, h.name)
	}

	instances[h.name] = h

	return nil
}

func lookupInstance(name string) *Handle {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	return instances[name]
}

// removeInstance clears the singleton slot, but only if it still points
// at the given handle.
func removeInstance(name string, h *Handle) {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	if instances[name] == h {
		delete(instances, name)
	}
}
