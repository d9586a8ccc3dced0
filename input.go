package boulder

import "github.com/veandco/go-sdl2/sdl"

// Input accumulates keyboard and mouse state from the window's event
// stream. It is a plain event sink; polling happens through Window.Poll.
type Input struct {
	keys    map[sdl.Keycode]bool
	buttons map[uint8]bool
	mouseX  int
	mouseY  int
}

func NewInput() *Input {
	return &Input{
		keys:    make(map[sdl.Keycode]bool),
		buttons: make(map[uint8]bool),
	}
}

func (in *Input) handle(event sdl.Event) {
	switch e := event.(type) {
	case *sdl.KeyboardEvent:
		switch e.Type {
		case sdl.KEYDOWN:
			in.keys[e.Keysym.Sym] = true
		case sdl.KEYUP:
			delete(in.keys, e.Keysym.Sym)
		}
	case *sdl.MouseButtonEvent:
		switch e.Type {
		case sdl.MOUSEBUTTONDOWN:
			in.buttons[e.Button] = true
		case sdl.MOUSEBUTTONUP:
			delete(in.buttons, e.Button)
		}
	case *sdl.MouseMotionEvent:
		in.mouseX = int(e.X)
		in.mouseY = int(e.Y)
	}
}

// KeyDown reports whether the key is currently held.
func (in *Input) KeyDown(key sdl.Keycode) bool {
	return in.keys[key]
}

// ButtonDown reports whether the mouse button is currently held.
func (in *Input) ButtonDown(button uint8) bool {
	return in.buttons[button]
}

// MousePosition returns the last observed cursor position in window
// coordinates.
func (in *Input) MousePosition() (x, y int) {
	return in.mouseX, in.mouseY
}
