package boulder

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// MaxFramesInFlight is the number of frames the CPU may record ahead of the
// GPU. Three slots keep the GPU fed through scheduling hiccups without the
// input latency a deeper pipeline would add.
const MaxFramesInFlight = 3

// noOwner marks a swapchain image no in-flight frame has claimed.
const noOwner = -1

// frameSlot holds the per-frame synchronization objects and the command
// buffer recorded for that slot. Slots are allocated once and live for the
// renderer's whole lifetime; swapchain rebuilds never touch them.
type frameSlot struct {
	imageAvailable core1_0.Semaphore
	fence          core1_0.Fence
	commandBuffer  core1_0.CommandBuffer
}

// frameBackend is the device surface frameSync schedules against. The
// renderer implements it with driver calls; tests implement it with fakes.
// Everything is keyed by slot or image index so the scheduler itself stays
// free of driver handles.
type frameBackend interface {
	// waitSlotFence blocks until the slot's previous submission retired.
	waitSlotFence(slot int) error
	// resetSlotFence returns the slot's fence to the unsignaled state.
	resetSlotFence(slot int) error
	// acquireImage asks the presentation engine for the next image, using
	// the slot's image-available semaphore. A stale surface reports
	// ErrSwapchainOutOfDate; suboptimal means the image is usable but the
	// chain should be rebuilt soon.
	acquireImage(slot int) (image int, suboptimal bool, err error)
	// submitFrame submits the slot's command buffer, waiting on the slot's
	// image-available semaphore and signaling the image's render-finished
	// semaphore and the slot's fence.
	submitFrame(slot, image int) error
	// presentImage queues the image for presentation, waiting on its
	// render-finished semaphore. A stale surface reports
	// ErrSwapchainOutOfDate.
	presentImage(image int) error
}

// frameSync paces frames across the in-flight slots and tracks which slot
// last rendered into each swapchain image.
type frameSync struct {
	backend frameBackend
	slots   int
	current int
	// owners maps swapchain image index to the slot whose submission last
	// targeted it, or noOwner. The owner's fence guards the image's
	// render-finished semaphore and contents.
	owners []int
}

func newFrameSync(backend frameBackend, slots, images int) *frameSync {
	fs := &frameSync{
		backend: backend,
		slots:   slots,
	}
	fs.resetImages(images)
	return fs
}

// acquire throttles to the current slot and acquires its swapchain image.
// On ErrSwapchainOutOfDate nothing has been consumed: the slot's fence is
// still signaled and no semaphore is pending, so the caller may rebuild the
// chain and retry on the same slot.
func (fs *frameSync) acquire() (image int, suboptimal bool, err error) {
	if err := fs.backend.waitSlotFence(fs.current); err != nil {
		return 0, false, err
	}
	return fs.backend.acquireImage(fs.current)
}

// claim takes ownership of an acquired image for the current slot. If
// another in-flight slot still owns the image, that slot's fence is waited
// first so the image's semaphore and contents are free to reuse. The current
// slot's fence is reset only after that wait: resetting earlier would drop
// the one signal protecting a still-running submission.
func (fs *frameSync) claim(image int) error {
	owner := fs.owners[image]
	if owner != noOwner && owner != fs.current {
		if err := fs.backend.waitSlotFence(owner); err != nil {
			return err
		}
	}
	if err := fs.backend.resetSlotFence(fs.current); err != nil {
		return err
	}
	fs.owners[image] = fs.current
	return nil
}

func (fs *frameSync) submit(image int) error {
	return fs.backend.submitFrame(fs.current, image)
}

func (fs *frameSync) present(image int) error {
	return fs.backend.presentImage(image)
}

// advance moves to the next slot. Call once per completed frame, after
// presentation has been queued.
func (fs *frameSync) advance() {
	fs.current = (fs.current + 1) % fs.slots
}

// resetImages clears all image ownership and restarts pacing at slot zero.
// Call after a swapchain rebuild, once the device is idle: the old images
// are gone and no recorded ownership is meaningful anymore.
func (fs *frameSync) resetImages(images int) {
	fs.owners = make([]int, images)
	for i := range fs.owners {
		fs.owners[i] = noOwner
	}
	fs.current = 0
}

// createFrameSlots allocates the per-slot synchronization objects and
// command buffers. Fences start signaled so the first wait on each slot
// passes immediately.
func (r *Renderer) createFrameSlots() error {
	buffers, _, err := r.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        r.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: MaxFramesInFlight,
	})
	if err != nil {
		return errors.Wrap(err, "allocate frame command buffers")
	}

	for i := 0; i < MaxFramesInFlight; i++ {
		semaphore, _, err := r.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			return errors.Wrap(err, "create image-available semaphore")
		}

		fence, _, err := r.device.CreateFence(nil, core1_0.FenceCreateInfo{
			Flags: core1_0.FenceCreateSignaled,
		})
		if err != nil {
			return errors.Wrap(err, "create frame fence")
		}

		r.slots = append(r.slots, frameSlot{
			imageAvailable: semaphore,
			fence:          fence,
			commandBuffer:  buffers[i],
		})
	}
	return nil
}

func (r *Renderer) destroyFrameSlots() {
	for _, slot := range r.slots {
		if slot.fence.Initialized() {
			r.device.DestroyFence(slot.fence, nil)
		}
		if slot.imageAvailable.Initialized() {
			r.device.DestroySemaphore(slot.imageAvailable, nil)
		}
	}
	r.slots = nil
}
