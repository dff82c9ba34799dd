package system

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/fzft/go-wake-event/log"
	"go.uber.org/zap"
)

// RendezvousMonitor watches the FIFO path of a NamedFifo wake event. An open
// wake event keeps working after its path is unlinked, but producers in
// other processes can no longer reach it, so the removal is worth knowing.
type RendezvousMonitor struct {
	path    string
	w       *fsnotify.Watcher
	removed chan struct{}
	once    sync.Once
	done    chan struct{}
}

// WatchRendezvous watches the directory holding path; fsnotify cannot watch
// a FIFO directly without opening it.
func WatchRendezvous(path string) (*RendezvousMonitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	m := &RendezvousMonitor{
		path:    path,
		w:       w,
		removed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.loop()
	return m, nil
}

func (m *RendezvousMonitor) loop() {
	defer close(m.done)
	for {
		select {
		case ev, ok := <-m.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != m.path {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Logger.Warn("wake event fifo path disappeared, external producers cannot reach it",
					zap.String("path", m.path), zap.Stringer("op", ev.Op))
				m.once.Do(func() { close(m.removed) })
			}
		case err, ok := <-m.w.Errors:
			if !ok {
				return
			}
			log.Logger.Warn("rendezvous watch error", zap.String("path", m.path), zap.Error(err))
		}
	}
}

// Removed is closed the first time the path is removed or renamed.
func (m *RendezvousMonitor) Removed() <-chan struct{} {
	return m.removed
}

func (m *RendezvousMonitor) Close() error {
	err := m.w.Close()
	<-m.done
	return err
}
