package boulder

import (
	"testing"
	"time"
)

// The full begin/end path needs a live device; these tests cover the state
// machine guards that run before any driver call.

func TestBeginFrameRejectsOpenFrame(t *testing.T) {
	r := &Renderer{state: frameRecording}

	if _, err := r.BeginFrame(); err == nil {
		t.Fatal("BeginFrame succeeded with a frame already open")
	}
}

func TestEndFrameRejectsWithoutBegin(t *testing.T) {
	r := &Renderer{state: frameIdle}

	if err := r.EndFrame(&Frame{r: r}); err == nil {
		t.Fatal("EndFrame succeeded with no frame open")
	}
}

func TestEndFrameRejectsForeignFrame(t *testing.T) {
	r := &Renderer{state: frameRecording}
	other := &Renderer{}

	if err := r.EndFrame(&Frame{r: other}); err == nil {
		t.Fatal("EndFrame accepted a frame from another renderer")
	}
	if err := r.EndFrame(nil); err == nil {
		t.Fatal("EndFrame accepted a nil frame")
	}
}

func TestFrameTiming(t *testing.T) {
	var timing frameTiming

	timing.start()
	time.Sleep(time.Millisecond)
	timing.finish()

	if timing.count != 1 {
		t.Fatalf("count = %d, want 1", timing.count)
	}
	if timing.last <= 0 {
		t.Fatalf("last = %v, want > 0", timing.last)
	}
}
