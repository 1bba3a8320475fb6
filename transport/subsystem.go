package transport

import (
	"sync"

	"go.uber.org/zap"
)

// The socket subsystem is process wide: it starts with the first
// connection and is torn down after the last one closes.
var subsystem struct {
	mu     sync.Mutex
	active int
	l      *zap.Logger
}

// Active returns the number of open connections holding the subsystem.
func Active() int {
	subsystem.mu.Lock()
	defer subsystem.mu.Unlock()
	return subsystem.active
}

// acquire registers a connection and returns the func that releases it.
// The returned func is safe to call more than once.
func acquire(l *zap.Logger) func() {
	subsystem.mu.Lock()
	if subsystem.active == 0 {
		subsystem.l = l
		l.Debug("socket subsystem started")
	}
	subsystem.active++
	subsystem.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(release)
	}
}

func release() {
	subsystem.mu.Lock()
	defer subsystem.mu.Unlock()

	subsystem.active--
	if subsystem.active == 0 {
		subsystem.l.Debug("socket subsystem stopped")
		subsystem.l = nil
	}
}
