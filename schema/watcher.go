package schema

import (
	"context"
	"log/slog"

	"github.com/sroyama/dicom-server/errors"
	"github.com/sroyama/dicom-server/natsclient"
)

// Invalidator is anything holding a cached schema resolution.
type Invalidator interface {
	Invalidate()
}

// Watcher invalidates resolvers when the active version key changes.
type Watcher struct {
	kv      *natsclient.KVStore
	key     string
	targets []Invalidator
	logger  *slog.Logger
}

// NewWatcher creates a watcher over the given control bucket key.
func NewWatcher(kv *natsclient.KVStore, key string, logger *slog.Logger, targets ...Invalidator) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{kv: kv, key: key, targets: targets, logger: logger}
}

// Run watches the key until ctx is cancelled. The initial replay of the
// current value is skipped; only subsequent updates invalidate.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := w.kv.Watch(ctx, w.key)
	if err != nil {
		return errors.WrapTransient(err, "Watcher", "Run", "create key watcher")
	}
	defer func() { _ = watcher.Stop() }()

	// The watcher replays the current value first and then sends nil to
	// mark the end of the replay.
	replayDone := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-watcher.Updates():
			if !ok {
				return nil
			}
			if entry == nil {
				replayDone = true
				continue
			}
			if !replayDone {
				continue
			}

			w.logger.Info("active schema version changed",
				"key", w.key, "value", string(entry.Value()))
			for _, target := range w.targets {
				target.Invalidate()
			}
		}
	}
}
