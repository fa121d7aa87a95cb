package shaderfile

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/skforge/skrender/internal/core"
)

// Watcher watches a directory of .skshader blobs and re-parses a file on
// write, delivering the new ShaderFile over Changed. It is a dev-mode
// convenience only; production use of skrender never touches the
// filesystem on its own (§6).
type Watcher struct {
	fsw     *fsnotify.Watcher
	Changed chan *ShaderFile
	done    chan struct{}
}

// NewWatcher starts watching dir for writes to files named *.skshader.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		Changed: make(chan *ShaderFile, 8),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Ext(ev.Name) != ".skshader" {
				continue
			}
			data, err := os.ReadFile(ev.Name)
			if err != nil {
				core.LogWarn("shaderfile watcher: read %s: %v", ev.Name, err)
				continue
			}
			sf, err := Load(data)
			if err != nil {
				core.LogWarn("shaderfile watcher: reload %s: %v", ev.Name, err)
				continue
			}
			select {
			case w.Changed <- sf:
			default:
				core.LogWarn("shaderfile watcher: dropped reload for %s, channel full", ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			core.LogWarn("shaderfile watcher: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
