package main

import (
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// fsChangeMsg is sent when the vivarium home directory changes (audit
// trail appended or pool state rewritten).
type fsChangeMsg struct{}

// debounceWindow coalesces a burst of writes into one refresh.
const debounceWindow = 100 * time.Millisecond

// trailWatcher owns a single fsnotify handle for the lifetime of the
// dashboard. Re-arming after an fsChangeMsg reuses this handle; opening a
// fresh watcher per refresh cycle would leak one inotify fd per cycle.
type trailWatcher struct {
	fs *fsnotify.Watcher
}

// newTrailWatcher watches homeDir. Returns nil when the directory does not
// exist or the watcher cannot be created; the dashboard then refreshes on
// the poll timer alone.
func newTrailWatcher(homeDir string) *trailWatcher {
	if _, err := os.Stat(homeDir); err != nil {
		return nil
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("fsnotify: create watcher: %v (polling only)", err)
		return nil
	}
	if err := fs.Add(homeDir); err != nil {
		_ = fs.Close()
		log.Printf("fsnotify: watch %s: %v (polling only)", homeDir, err)
		return nil
	}

	return &trailWatcher{fs: fs}
}

// waitForChange returns a command that blocks until the watched directory
// changes, absorbs the rest of the burst, and delivers one fsChangeMsg.
// Delivers nil once the watcher is closed, ending the watch loop.
func (w *trailWatcher) waitForChange() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case _, ok := <-w.fs.Events:
				if !ok {
					return nil
				}
				w.absorbBurst()
				return fsChangeMsg{}

			case err, ok := <-w.fs.Errors:
				if !ok {
					return nil
				}
				log.Printf("fsnotify: watcher error: %v", err)
			}
		}
	}
}

// absorbBurst swallows follow-up events until the debounce window passes
// without one.
func (w *trailWatcher) absorbBurst() {
	for {
		select {
		case _, ok := <-w.fs.Events:
			if !ok {
				return
			}
		case <-time.After(debounceWindow):
			return
		}
	}
}

// Close releases the inotify handle and unblocks any pending
// waitForChange. Safe on a nil watcher.
func (w *trailWatcher) Close() {
	if w == nil {
		return
	}
	_ = w.fs.Close()
}
