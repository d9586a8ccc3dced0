package boulder

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
)

// Window wraps the SDL window the engine renders into and pumps its event
// queue. All methods must be called from the thread that created it.
type Window struct {
	handle    *sdl.Window
	closed    bool
	minimized bool

	// onResize fires for every resize event, including those arriving while
	// a recreation is already running.
	onResize func(width, height int)
}

// NewWindow creates a resizable Vulkan-capable window.
func NewWindow(title string, width, height int) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "initialize sdl video")
	}

	handle, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, errors.Wrap(err, "create window")
	}

	return &Window{handle: handle}, nil
}

// DrawableSize returns the window's size in pixels. Both dimensions are zero
// while the window is minimized.
func (w *Window) DrawableSize() (width, height int) {
	pw, ph := w.handle.VulkanGetDrawableSize()
	return int(pw), int(ph)
}

// Minimized reports whether the window is currently minimized.
func (w *Window) Minimized() bool {
	return w.minimized || (w.handle.GetFlags()&sdl.WINDOW_MINIMIZED) != 0
}

// Poll drains pending events, feeding key and mouse events to input when it
// is non-nil. It returns false once a quit event has been seen.
func (w *Window) Poll(input *Input) bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			w.closed = true
		case *sdl.WindowEvent:
			switch e.Event {
			case sdl.WINDOWEVENT_MINIMIZED:
				w.minimized = true
			case sdl.WINDOWEVENT_RESTORED:
				w.minimized = false
			case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
				if w.onResize != nil {
					w.onResize(int(e.Data1), int(e.Data2))
				}
			}
		default:
			if input != nil {
				input.handle(event)
			}
		}
	}
	return !w.closed
}

// Destroy closes the window and shuts SDL down.
func (w *Window) Destroy() {
	if w.handle != nil {
		w.handle.Destroy()
		w.handle = nil
	}
	sdl.Quit()
}
