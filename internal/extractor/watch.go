package extractor

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// watchDebounce coalesces the burst of writes SQLite makes to the main
// file, -wal and -shm into one wake.
const watchDebounce = 2 * time.Second

// startWatcher watches the source database directory and sends on the
// returned channel (debounced) when the source files change. Returns a nil
// channel when watch mode is disabled; selecting on a nil channel blocks,
// which leaves the timer as the only trigger.
func (p *Poller) startWatcher(ctx context.Context) (<-chan struct{}, func(), error) {
	if p.watchPath == "" {
		return nil, nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	dir := filepath.Dir(p.watchPath)
	base := filepath.Base(p.watchPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, err
	}

	wake := make(chan struct{}, 1)
	go func() {
		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.Contains(filepath.Base(event.Name), base) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					select {
					case wake <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("source watch error")
			}
		}
	}()

	log.WithField("dir", dir).Info("watching source for changes")
	return wake, func() { watcher.Close() }, nil
}
