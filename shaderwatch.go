package boulder

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ShaderWatcher reloads pipelines when their SPIR-V files change on disk.
// Filesystem events arrive on a background goroutine; the actual pipeline
// rebuild is deferred to ApplyPending, which the engine calls between
// frames on the render thread.
type ShaderWatcher struct {
	log     logrus.FieldLogger
	watcher *fsnotify.Watcher

	mu sync.Mutex
	// byPath maps a cleaned shader path to the pipelines built from it.
	byPath map[string][]PipelineID
	dirty  map[PipelineID]struct{}

	closed chan struct{}
}

func NewShaderWatcher(log logrus.FieldLogger) (*ShaderWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create shader watcher")
	}

	w := &ShaderWatcher{
		log:     log,
		watcher: watcher,
		byPath:  make(map[string][]PipelineID),
		dirty:   make(map[PipelineID]struct{}),
		closed:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch ties a pipeline to its shader files. Watching the containing
// directories rather than the files themselves survives the
// rename-and-replace most compilers do on output.
func (w *ShaderWatcher) Watch(id PipelineID, config PipelineConfig) error {
	for _, path := range []string{config.VertexShaderPath, config.FragmentShaderPath} {
		clean := filepath.Clean(path)

		w.mu.Lock()
		w.byPath[clean] = append(w.byPath[clean], id)
		w.mu.Unlock()

		if err := w.watcher.Add(filepath.Dir(clean)); err != nil {
			return errors.Wrapf(err, "watch shader directory for %s", clean)
		}
	}
	return nil
}

func (w *ShaderWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			w.markDirty(filepath.Clean(event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("shader watcher error")
		case <-w.closed:
			return
		}
	}
}

func (w *ShaderWatcher) markDirty(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids, ok := w.byPath[path]
	if !ok {
		return
	}
	for _, id := range ids {
		w.dirty[id] = struct{}{}
	}
	w.log.WithField("path", path).Info("shader changed, reload queued")
}

// ApplyPending rebuilds every pipeline whose shaders changed since the last
// call. Must run on the render thread with no frame open. A pipeline that
// fails to rebuild keeps its previous version and is not retried until its
// shaders change again.
func (w *ShaderWatcher) ApplyPending(r *Renderer) {
	w.mu.Lock()
	pending := make([]PipelineID, 0, len(w.dirty))
	for id := range w.dirty {
		pending = append(pending, id)
	}
	w.dirty = make(map[PipelineID]struct{})
	w.mu.Unlock()

	for _, id := range pending {
		if err := r.reloadPipeline(id); err != nil {
			w.log.WithError(err).WithField("pipeline", id).Warn("shader reload failed, keeping previous pipeline")
			continue
		}
		w.log.WithField("pipeline", id).Info("pipeline reloaded")
	}
}

// Close stops the watcher goroutine.
func (w *ShaderWatcher) Close() error {
	close(w.closed)
	return w.watcher.Close()
}
