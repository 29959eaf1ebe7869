package swarm

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SignalWatcher watches the .waggle/signals directory for operator
// control files: "kill" stops the swarm, "drain" pauses dispatch while
// running tasks finish. Removing the drain file resumes dispatch.
type SignalWatcher struct {
	signalsDir string

	mu    sync.RWMutex
	kill  bool
	drain bool

	watcher *fsnotify.Watcher
	done    chan struct{}

	// onKill and onDrain fire on signal transitions. Optional.
	onKill  func()
	onDrain func(active bool)
}

// NewSignalWatcher creates a watcher rooted at workDir/.waggle/signals.
// The directory is created if missing. If the filesystem watcher cannot
// be established the watcher degrades to explicit Check* polling.
func NewSignalWatcher(workDir string) (*SignalWatcher, error) {
	signalsDir := filepath.Join(workDir, ".waggle", "signals")
	if err := os.MkdirAll(signalsDir, 0755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{
		signalsDir: signalsDir,
		done:       make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Continue without watcher - callers fall back to polling
		return sw, nil
	}
	if err := watcher.Add(signalsDir); err != nil {
		watcher.Close()
		return sw, nil
	}
	sw.watcher = watcher

	go sw.watch()
	return sw, nil
}

// SetKillHook registers a callback fired once when a kill signal lands.
// Must be set before signals arrive.
func (sw *SignalWatcher) SetKillHook(fn func()) { sw.onKill = fn }

// SetDrainHook registers a callback fired on drain transitions.
// Must be set before signals arrive.
func (sw *SignalWatcher) SetDrainHook(fn func(active bool)) { sw.onDrain = fn }

// watch monitors the signals directory for kill/drain files.
func (sw *SignalWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handle(event)
		case <-sw.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

func (sw *SignalWatcher) handle(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	created := event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0
	removed := event.Op&fsnotify.Remove != 0

	switch base {
	case "kill":
		if !created {
			return
		}
		sw.mu.Lock()
		fresh := !sw.kill
		sw.kill = true
		sw.mu.Unlock()
		if fresh && sw.onKill != nil {
			sw.onKill()
		}
	case "drain":
		if !created && !removed {
			return
		}
		sw.mu.Lock()
		changed := sw.drain != created
		sw.drain = created
		sw.mu.Unlock()
		if changed && sw.onDrain != nil {
			sw.onDrain(created)
		}
	}
}

// ShouldStop returns true if a kill signal has been received.
func (sw *SignalWatcher) ShouldStop() bool {
	// Also check the file directly in case the watcher missed it
	if _, err := os.Stat(filepath.Join(sw.signalsDir, "kill")); err == nil {
		sw.mu.Lock()
		sw.kill = true
		sw.mu.Unlock()
	}

	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.kill
}

// Draining returns true if a drain signal is in effect.
func (sw *SignalWatcher) Draining() bool {
	if _, err := os.Stat(filepath.Join(sw.signalsDir, "drain")); err == nil {
		sw.mu.Lock()
		sw.drain = true
		sw.mu.Unlock()
	}

	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.drain
}

// SendKill creates a kill signal file.
func (sw *SignalWatcher) SendKill() error {
	return os.WriteFile(filepath.Join(sw.signalsDir, "kill"), nil, 0644)
}

// SendDrain creates a drain signal file.
func (sw *SignalWatcher) SendDrain() error {
	return os.WriteFile(filepath.Join(sw.signalsDir, "drain"), nil, 0644)
}

// ClearSignals removes all signal files and resets signal state.
func (sw *SignalWatcher) ClearSignals() {
	sw.mu.Lock()
	sw.kill = false
	sw.drain = false
	sw.mu.Unlock()

	os.Remove(filepath.Join(sw.signalsDir, "kill"))
	os.Remove(filepath.Join(sw.signalsDir, "drain"))
}

// Close shuts down the signal watcher.
func (sw *SignalWatcher) Close() {
	close(sw.done)
	if sw.watcher != nil {
		sw.watcher.Close()
	}
}
