package boulder

import "testing"

func TestOptionsApplyDefaults(t *testing.T) {
	opts := Options{}
	opts.applyDefaults()

	if opts.Title == "" {
		t.Fatal("Title not defaulted")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		t.Fatalf("size not defaulted: %dx%d", opts.Width, opts.Height)
	}

	// Explicit values win.
	opts = Options{Title: "demo", Width: 640, Height: 360}
	opts.applyDefaults()
	if opts.Title != "demo" || opts.Width != 640 || opts.Height != 360 {
		t.Fatalf("explicit options overridden: %+v", opts)
	}
}
