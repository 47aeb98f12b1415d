package app

import (
	"log/slog"
	"sync/atomic"
	"time"

	"escalation/internal/config"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// PolicyHolder publishes the active policy snapshot to the processor.
// Params: atomically swapped policy pointer.
// Returns: lock-free snapshot reads for every intake and sweep cycle.
type PolicyHolder struct {
	current atomic.Pointer[config.Policy]
}

// NewPolicyHolder creates the holder with an initial snapshot.
// Params: validated policy from the loaded config.
// Returns: initialized holder.
func NewPolicyHolder(policy config.Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(&policy)
	return holder
}

// Snapshot returns the active policy.
// Params: none.
// Returns: current policy value.
func (h *PolicyHolder) Snapshot() config.Policy {
	return *h.current.Load()
}

// Swap replaces the active policy.
// Params: next validated policy.
// Returns: none; in-flight readers keep their old snapshot.
func (h *PolicyHolder) Swap(policy config.Policy) {
	h.current.Store(&policy)
}

// PolicyWatcher reloads the policy when config files change on disk.
// Params: fsnotify watcher over the config source paths.
// Returns: background reload loop handle.
type PolicyWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchPolicy starts watching the config source for edits.
// Params: config source, holder receiving validated snapshots, and logger.
// Returns: watcher handle or setup error.
func WatchPolicy(source config.ConfigSource, holder *PolicyHolder, logger *slog.Logger) (*PolicyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, path := range source.Paths() {
		if err := watcher.Add(path); err != nil {
			_ = watcher.Close()
			return nil, err
		}
	}

	pw := &PolicyWatcher{
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go pw.run(source, holder, logger)
	return pw, nil
}

// run debounces change events and swaps in reloaded snapshots.
// Params: config source, holder, and logger.
// Returns: none; exits when the watcher closes.
func (w *PolicyWatcher) run(source config.ConfigSource, holder *PolicyHolder, logger *slog.Logger) {
	defer close(w.done)

	// Editors emit bursts of writes; wait for quiet before reloading.
	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if pending && !debounce.Stop() {
				<-debounce.C
			}
			debounce.Reset(reloadDebounce)
			pending = true
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watch error", "error", err.Error())
		case <-debounce.C:
			pending = false
			cfg, err := config.LoadSnapshot(source)
			if err != nil {
				// Keep the last good policy on broken edits.
				logger.Error("policy reload failed", "error", err.Error())
				continue
			}
			holder.Swap(cfg.Policy)
			logger.Info("policy reloaded", "severities", cfg.Policy.SeverityNames())
		}
	}
}

// Close stops the watcher and waits for the reload loop to exit.
// Params: none.
// Returns: watcher close error.
func (w *PolicyWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
