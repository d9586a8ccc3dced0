package boulder

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeRecreateOps scripts the device side of the recreation protocol. Each
// rebuild pops the next drawable size and surface answer; onRebuild lets a
// test inject a resize event mid-rebuild.
type fakeRecreateOps struct {
	state *recreationState

	drawable   [2]int
	rebuilds   int
	rebuildErr error
	// surfaceAnswers holds what surfaceExtent reports after each rebuild.
	// When exhausted, the last answer repeats.
	surfaceAnswers [][2]int
	onRebuild      func()
}

func (f *fakeRecreateOps) drawableSize() (int, int) {
	return f.drawable[0], f.drawable[1]
}

func (f *fakeRecreateOps) rebuild(width, height int) (int, int, error) {
	f.rebuilds++
	if f.onRebuild != nil {
		f.onRebuild()
	}
	if f.rebuildErr != nil {
		return 0, 0, f.rebuildErr
	}
	return width, height, nil
}

func (f *fakeRecreateOps) surfaceExtent() (int, int, error) {
	idx := f.rebuilds - 1
	if idx >= len(f.surfaceAnswers) {
		idx = len(f.surfaceAnswers) - 1
	}
	if idx < 0 {
		return f.drawable[0], f.drawable[1], nil
	}
	answer := f.surfaceAnswers[idx]
	return answer[0], answer[1], nil
}

func TestRecreateRunWithoutRequestIsNoop(t *testing.T) {
	state := &recreationState{}
	ops := &fakeRecreateOps{state: state, drawable: [2]int{800, 600}}

	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ops.rebuilds != 0 {
		t.Fatalf("rebuilds = %d, want 0", ops.rebuilds)
	}
}

func TestRecreateMinimizedDefersAndKeepsFlag(t *testing.T) {
	state := &recreationState{}
	ops := &fakeRecreateOps{state: state, drawable: [2]int{0, 0}}

	state.request()
	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ops.rebuilds != 0 {
		t.Fatalf("rebuilds = %d, want 0 while minimized", ops.rebuilds)
	}
	if !state.needsRecreate {
		t.Fatal("needsRecreate cleared while minimized; the rebuild would never happen on restore")
	}

	// Restore the window: the still-set flag resolves on the next run.
	ops.drawable = [2]int{800, 600}
	ops.surfaceAnswers = [][2]int{{800, 600}}
	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run after restore: %v", err)
	}
	if ops.rebuilds != 1 {
		t.Fatalf("rebuilds = %d after restore, want 1", ops.rebuilds)
	}
	if state.needsRecreate {
		t.Fatal("needsRecreate still set after successful rebuild")
	}
}

func TestRecreateSuccessClearsFlag(t *testing.T) {
	state := &recreationState{}
	ops := &fakeRecreateOps{
		state:          state,
		drawable:       [2]int{1024, 768},
		surfaceAnswers: [][2]int{{1024, 768}},
	}

	state.request()
	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ops.rebuilds != 1 {
		t.Fatalf("rebuilds = %d, want 1", ops.rebuilds)
	}
	if state.needsRecreate {
		t.Fatal("needsRecreate still set after successful rebuild")
	}
}

func TestRecreateRetriesWhenSurfaceMoves(t *testing.T) {
	state := &recreationState{}
	ops := &fakeRecreateOps{
		state:    state,
		drawable: [2]int{800, 600},
		// First rebuild finds the surface already at a different size; the
		// second settles.
		surfaceAnswers: [][2]int{{1024, 768}, {800, 600}},
	}

	state.request()
	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ops.rebuilds != 2 {
		t.Fatalf("rebuilds = %d, want 2", ops.rebuilds)
	}
	if state.needsRecreate {
		t.Fatal("needsRecreate still set after settled rebuild")
	}
}

func TestRecreateResizeEventDuringRebuildRetries(t *testing.T) {
	state := &recreationState{}
	ops := &fakeRecreateOps{
		state:          state,
		drawable:       [2]int{800, 600},
		surfaceAnswers: [][2]int{{800, 600}},
	}
	fired := false
	ops.onRebuild = func() {
		if !fired {
			fired = true
			// A resize event lands while the rebuild is running.
			state.request()
		}
	}

	state.request()
	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ops.rebuilds != 2 {
		t.Fatalf("rebuilds = %d, want 2 (retry after mid-rebuild resize)", ops.rebuilds)
	}
	if state.needsRecreate {
		t.Fatal("needsRecreate still set after settled retry")
	}
}

func TestRecreateGivesUpAfterCapButKeepsFlag(t *testing.T) {
	state := &recreationState{}
	ops := &fakeRecreateOps{
		state:    state,
		drawable: [2]int{800, 600},
		// The surface never settles.
		surfaceAnswers: [][2]int{{801, 600}},
	}

	state.request()
	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ops.rebuilds != maxRecreateAttempts {
		t.Fatalf("rebuilds = %d, want %d", ops.rebuilds, maxRecreateAttempts)
	}
	if !state.needsRecreate {
		t.Fatal("needsRecreate cleared even though the surface never settled")
	}
}

func TestRecreateUndefinedSurfaceExtentIsAccepted(t *testing.T) {
	// Wayland-style surfaces report no fixed extent; the built chain is
	// authoritative and no retry should happen.
	state := &recreationState{}
	ops := &fakeRecreateOps{
		state:          state,
		drawable:       [2]int{800, 600},
		surfaceAnswers: [][2]int{{-1, -1}},
	}

	state.request()
	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ops.rebuilds != 1 {
		t.Fatalf("rebuilds = %d, want 1", ops.rebuilds)
	}
	if state.needsRecreate {
		t.Fatal("needsRecreate still set after undefined-extent rebuild")
	}
}

func TestRecreateReentrantRunIsNoop(t *testing.T) {
	state := &recreationState{needsRecreate: true, isRecreating: true}
	ops := &fakeRecreateOps{state: state, drawable: [2]int{800, 600}}

	if err := state.run(ops, discardLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ops.rebuilds != 0 {
		t.Fatalf("rebuilds = %d during re-entrant run, want 0", ops.rebuilds)
	}
}

func TestRecreateRebuildErrorPropagates(t *testing.T) {
	state := &recreationState{}
	wantErr := errors.New("device exploded")
	ops := &fakeRecreateOps{
		state:      state,
		drawable:   [2]int{800, 600},
		rebuildErr: wantErr,
	}

	state.request()
	err := state.run(ops, discardLogger())
	if !errors.Is(err, wantErr) {
		t.Fatalf("run error = %v, want %v", err, wantErr)
	}
}

func TestRequestDuringRecreateSetsBothFlags(t *testing.T) {
	state := &recreationState{isRecreating: true}
	state.request()

	if !state.needsRecreate {
		t.Fatal("needsRecreate not set")
	}
	if !state.resizeDuringRecreate {
		t.Fatal("resizeDuringRecreate not set while a rebuild is in progress")
	}
}
