package boulder

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
)

// fakeFrameBackend records every scheduling call so tests can assert on
// ordering. Images are handed out round-robin unless acquireErr is set.
type fakeFrameBackend struct {
	ops []string

	images     int
	nextImage  int
	suboptimal bool
	acquireErr error
}

func (b *fakeFrameBackend) op(format string, args ...any) {
	b.ops = append(b.ops, fmt.Sprintf(format, args...))
}

func (b *fakeFrameBackend) waitSlotFence(slot int) error {
	b.op("wait %d", slot)
	return nil
}

func (b *fakeFrameBackend) resetSlotFence(slot int) error {
	b.op("reset %d", slot)
	return nil
}

func (b *fakeFrameBackend) acquireImage(slot int) (int, bool, error) {
	if b.acquireErr != nil {
		b.op("acquire-fail %d", slot)
		return 0, false, b.acquireErr
	}
	image := b.nextImage
	b.nextImage = (b.nextImage + 1) % b.images
	b.op("acquire %d -> %d", slot, image)
	return image, b.suboptimal, nil
}

func (b *fakeFrameBackend) submitFrame(slot, image int) error {
	b.op("submit %d %d", slot, image)
	return nil
}

func (b *fakeFrameBackend) presentImage(image int) error {
	b.op("present %d", image)
	return nil
}

// runFrame drives one full frame through the scheduler.
func runFrame(t *testing.T, fs *frameSync) int {
	t.Helper()

	image, _, err := fs.acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := fs.claim(image); err != nil {
		t.Fatalf("claim image %d: %v", image, err)
	}
	if err := fs.submit(image); err != nil {
		t.Fatalf("submit image %d: %v", image, err)
	}
	if err := fs.present(image); err != nil {
		t.Fatalf("present image %d: %v", image, err)
	}
	fs.advance()
	return image
}

func TestFrameSyncRoundRobin(t *testing.T) {
	backend := &fakeFrameBackend{images: 5}
	fs := newFrameSync(backend, 3, 5)

	wantSlots := []int{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}
	for frame, wantSlot := range wantSlots {
		if fs.current != wantSlot {
			t.Fatalf("frame %d: current slot = %d, want %d", frame, fs.current, wantSlot)
		}
		image := runFrame(t, fs)
		if fs.owners[image] != wantSlot {
			t.Fatalf("frame %d: image %d owner = %d, want %d", frame, image, fs.owners[image], wantSlot)
		}
	}
}

func TestFrameSyncWaitBeforeReset(t *testing.T) {
	// One image shared by two slots: claiming it on the second slot must
	// wait the first slot's fence before resetting its own.
	backend := &fakeFrameBackend{images: 1}
	fs := newFrameSync(backend, 2, 1)

	runFrame(t, fs)
	backend.ops = nil
	runFrame(t, fs)

	want := []string{
		"wait 1",
		"acquire 1 -> 0",
		"wait 0",
		"reset 1",
		"submit 1 0",
		"present 0",
	}
	if len(backend.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", backend.ops, want)
	}
	for i := range want {
		if backend.ops[i] != want[i] {
			t.Fatalf("op[%d] = %q, want %q (full: %v)", i, backend.ops[i], want[i], backend.ops)
		}
	}
}

func TestFrameSyncSameOwnerSkipsWait(t *testing.T) {
	// With a single slot the claiming slot already owns the image; a second
	// fence wait would deadlock a real driver.
	backend := &fakeFrameBackend{images: 1}
	fs := newFrameSync(backend, 1, 1)

	runFrame(t, fs)
	backend.ops = nil
	runFrame(t, fs)

	want := []string{
		"wait 0",
		"acquire 0 -> 0",
		"reset 0",
		"submit 0 0",
		"present 0",
	}
	if len(backend.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", backend.ops, want)
	}
	for i := range want {
		if backend.ops[i] != want[i] {
			t.Fatalf("op[%d] = %q, want %q", i, backend.ops[i], want[i])
		}
	}
}

func TestFrameSyncStaleAcquireKeepsSlotReusable(t *testing.T) {
	backend := &fakeFrameBackend{images: 2}
	fs := newFrameSync(backend, 2, 2)

	backend.acquireErr = errors.Mark(errors.New("stale"), ErrSwapchainOutOfDate)
	_, _, err := fs.acquire()
	if !errors.Is(err, ErrSwapchainOutOfDate) {
		t.Fatalf("acquire error = %v, want ErrSwapchainOutOfDate", err)
	}

	// Nothing was claimed: no reset happened and no ownership changed, so
	// the same slot retries cleanly after a rebuild.
	for _, op := range backend.ops {
		if op == "reset 0" {
			t.Fatalf("fence was reset on a failed acquire: %v", backend.ops)
		}
	}
	for image, owner := range fs.owners {
		if owner != noOwner {
			t.Fatalf("image %d owner = %d after failed acquire, want none", image, owner)
		}
	}
	if fs.current != 0 {
		t.Fatalf("current slot = %d after failed acquire, want 0", fs.current)
	}

	backend.acquireErr = nil
	backend.ops = nil
	runFrame(t, fs)
	if backend.ops[0] != "wait 0" {
		t.Fatalf("retry did not start on slot 0: %v", backend.ops)
	}
}

func TestFrameSyncSuboptimalAcquireStillDelivers(t *testing.T) {
	backend := &fakeFrameBackend{images: 2, suboptimal: true}
	fs := newFrameSync(backend, 2, 2)

	image, suboptimal, err := fs.acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !suboptimal {
		t.Fatal("suboptimal flag not propagated")
	}
	if err := fs.claim(image); err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestFrameSyncResetImages(t *testing.T) {
	backend := &fakeFrameBackend{images: 3}
	fs := newFrameSync(backend, 3, 3)

	for i := 0; i < 4; i++ {
		runFrame(t, fs)
	}

	fs.resetImages(5)

	if fs.current != 0 {
		t.Fatalf("current slot = %d after reset, want 0", fs.current)
	}
	if len(fs.owners) != 5 {
		t.Fatalf("owner table has %d entries, want 5", len(fs.owners))
	}
	for image, owner := range fs.owners {
		if owner != noOwner {
			t.Fatalf("image %d owner = %d after reset, want none", image, owner)
		}
	}
}
