// Package boulder is a small real-time rendering engine over Vulkan. It
// owns the window surface, device negotiation, swapchain lifecycle and
// frame pacing, and hands callers a per-frame recording surface to draw
// into. Swapchain staleness is treated as control flow: resizes, minimizes
// and out-of-date surfaces are absorbed by the frame loop without dropping
// the device.
package boulder

import (
	"github.com/loov/hrtime"
	"github.com/sirupsen/logrus"
)

// Options configures engine startup.
type Options struct {
	Title  string
	Width  int
	Height int

	// EnableValidation turns the Vulkan validation layers on. Startup fails
	// if they are requested but not installed.
	EnableValidation bool

	// WatchShaders enables hot reload of pipeline shaders from disk.
	WatchShaders bool

	// Logger overrides the default console logger.
	Logger *logrus.Logger
}

func (o *Options) applyDefaults() {
	if o.Title == "" {
		o.Title = "boulder"
	}
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
}

// Engine ties the window, renderer, input and world together into a ready
// main loop. Everything it owns must be used from the thread that created
// it; callers should lock the OS thread before NewEngine.
type Engine struct {
	Window   *Window
	Renderer *Renderer
	Input    *Input
	World    *World

	log      *logrus.Logger
	watcher  *ShaderWatcher
	lastTick float64
}

// NewEngine opens a window and brings up the renderer behind it.
func NewEngine(opts Options) (*Engine, error) {
	opts.applyDefaults()

	log := opts.Logger
	if log == nil {
		log = newDefaultLogger()
	}
	opts.Logger = log

	window, err := NewWindow(opts.Title, opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}

	renderer, err := NewRenderer(window, opts)
	if err != nil {
		window.Destroy()
		return nil, err
	}

	e := &Engine{
		Window:   window,
		Renderer: renderer,
		Input:    NewInput(),
		World:    NewWorld(),
		log:      log,
	}

	if opts.WatchShaders {
		e.watcher, err = NewShaderWatcher(log)
		if err != nil {
			e.Close()
			return nil, err
		}
	}

	return e, nil
}

// CreatePipeline builds a pipeline and, when shader watching is on,
// registers its files for hot reload.
func (e *Engine) CreatePipeline(config PipelineConfig) (PipelineID, error) {
	id, err := e.Renderer.CreatePipeline(config)
	if err != nil {
		return 0, err
	}
	if e.watcher != nil {
		if err := e.watcher.Watch(id, config); err != nil {
			e.log.WithError(err).Warn("shader watch failed; hot reload disabled for this pipeline")
		}
	}
	return id, nil
}

// Run drives the main loop until the window closes or update returns an
// error. Each tick it polls events, applies pending shader reloads, calls
// update with the elapsed seconds, then renders the world plus whatever
// overlay records extra commands (overlay may be nil).
func (e *Engine) Run(update func(dt float64) error, overlay func(*Frame) error) error {
	e.lastTick = hrtime.Now().Seconds()

	for e.Window.Poll(e.Input) {
		now := hrtime.Now().Seconds()
		dt := now - e.lastTick
		e.lastTick = now

		if e.watcher != nil {
			e.watcher.ApplyPending(e.Renderer)
		}

		if update != nil {
			if err := update(dt); err != nil {
				return err
			}
		}
		e.World.Update(dt)

		err := e.Renderer.RenderFrame(func(f *Frame) error {
			if err := e.World.Draw(f); err != nil {
				return err
			}
			if overlay != nil {
				return overlay(f)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return e.Renderer.WaitIdle()
}

// Close tears everything down. Safe to call after a failed startup.
func (e *Engine) Close() {
	if e.watcher != nil {
		_ = e.watcher.Close()
		e.watcher = nil
	}
	if e.Renderer != nil {
		e.Renderer.Destroy()
		e.Renderer = nil
	}
	if e.Window != nil {
		e.Window.Destroy()
		e.Window = nil
	}
}
