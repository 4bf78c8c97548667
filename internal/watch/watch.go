// Package watch triggers a reconcile pass when the project configuration
// file or a plugin manifest changes on disk, for `asd net refresh`
// without `--once` (SPEC_FULL §12 item 2). It is a trigger only: the
// reconcile operation it fires is the same one spec §4.9 describes.
package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/schollz/logger"
)

const debounce = 300 * time.Millisecond

// Watcher watches a fixed set of files and plugin directories, calling
// onChange at most once per debounce window no matter how many
// individual fsnotify events land inside it.
type Watcher struct {
	configPath  string
	pluginDirs  []string
	manifestName string
}

// New builds a Watcher for the project config file at configPath plus the
// net.manifest.yaml file under each of pluginDirs.
func New(configPath string, pluginDirs []string, manifestName string) *Watcher {
	return &Watcher{configPath: configPath, pluginDirs: pluginDirs, manifestName: manifestName}
}

// Run blocks, calling onChange after every debounced burst of changes to
// the watched files, until ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	for _, dir := range w.pluginDirs {
		if err := fw.Add(dir); err != nil {
			log.Warnf("watch: failed to watch plugin dir %s: %v", dir, err)
		}
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	resetTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(debounce)
		timerC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev.Name) {
				resetTimer()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watch: fsnotify error: %v", err)
		case <-timerC:
			timerC = nil
			onChange()
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	if name == w.configPath || base == filepath.Base(w.configPath) {
		return true
	}
	return base == w.manifestName
}
