// Package instance holds the process-wide instance metadata. The holder
// is set exactly once during startup and read thereafter; both a second
// Init and a read before Init fail loudly instead of returning zero
// values, so misordered wiring surfaces immediately.
package instance

import (
	"errors"
	"sync"
)

// ErrAlreadyInitialized is returned when Init is called a second time.
var ErrAlreadyInitialized = errors.New("instance metadata already initialized")

// ErrNotInitialized is returned when Get runs before Init.
var ErrNotInitialized = errors.New("instance metadata not initialized")

// Meta describes the running instance.
type Meta struct {
	Name string
	URL  string
	Dev  bool
}

type holder struct {
	mu   sync.RWMutex
	meta Meta
	set  bool
}

var global holder

// Init installs the instance metadata. Exactly one call succeeds.
func Init(meta Meta) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.set {
		return ErrAlreadyInitialized
	}
	global.meta = meta
	global.set = true
	return nil
}

// Get returns the installed metadata.
func Get() (Meta, error) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	if !global.set {
		return Meta{}, ErrNotInitialized
	}
	return global.meta, nil
}

// Reset clears the holder. Test hook; production code never calls it.
func Reset() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.meta = Meta{}
	global.set = false
}
