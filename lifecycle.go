package boulder

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_dynamic_rendering"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// frameState is where the frame lifecycle currently stands. BeginFrame and
// EndFrame enforce strict alternation through it.
type frameState int

const (
	frameIdle frameState = iota
	frameRecording
)

// frameTiming measures CPU frame times with a monotonic high-resolution
// clock.
type frameTiming struct {
	begin time.Duration
	last  time.Duration
	count uint64
}

func (t *frameTiming) start() {
	t.begin = hrtime.Now()
}

func (t *frameTiming) finish() {
	t.last = hrtime.Now() - t.begin
	t.count++
}

// FrameTime returns the CPU time of the last completed frame.
func (r *Renderer) FrameTime() time.Duration {
	return r.timing.last
}

// FrameCount returns how many frames have completed since startup.
func (r *Renderer) FrameCount() uint64 {
	return r.timing.count
}

// Frame is the recording surface handed out between BeginFrame and
// EndFrame. It is only valid for that one frame.
type Frame struct {
	// Index is the swapchain image being rendered into. Pass it back to
	// EndFrame.
	Index  int
	Extent core1_0.Extent2D

	cmd         core1_0.CommandBuffer
	boundLayout core1_0.PipelineLayout
	r           *Renderer
}

// BeginFrame starts a frame: it runs any pending swapchain recreation,
// throttles to the frame slot, acquires a swapchain image, and begins
// command recording with the attachments bound for rendering.
//
// ErrSwapchainOutOfDate means no frame was started and no image is held;
// skip rendering this iteration and call BeginFrame again. Errors marked
// ErrDeviceLost are not recoverable by retrying.
func (r *Renderer) BeginFrame() (*Frame, error) {
	if r.state != frameIdle {
		return nil, errors.New("BeginFrame called with a frame still open")
	}

	if err := r.recreation.run(r, r.log); err != nil {
		return nil, err
	}
	if r.recreation.needsRecreate {
		// Minimized or the surface would not settle. Nothing was acquired.
		return nil, errors.Mark(errors.New("swapchain not ready"), ErrSwapchainOutOfDate)
	}

	r.timing.start()

	image, suboptimal, err := r.sync.acquire()
	if errors.Is(err, ErrSwapchainOutOfDate) {
		// The acquire consumed nothing: the slot fence is still signaled and
		// the semaphore is unsignaled, so flag the rebuild and bail.
		r.recreation.request()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if suboptimal {
		// The image is still usable; render into it and rebuild before the
		// next frame. Bailing here would leak the acquire's semaphore wait.
		r.recreation.request()
	}

	if err := r.sync.claim(image); err != nil {
		return nil, err
	}

	if err := r.beginRecording(image); err != nil {
		return nil, err
	}

	r.state = frameRecording
	return &Frame{
		Index:  image,
		Extent: r.generation.extent,
		cmd:    r.slots[r.sync.current].commandBuffer,
		r:      r,
	}, nil
}

// beginRecording resets the slot's command buffer, transitions the frame's
// attachments, and opens the dynamic rendering pass.
func (r *Renderer) beginRecording(image int) error {
	cmd := r.slots[r.sync.current].commandBuffer

	res, err := r.device.ResetCommandBuffer(cmd, 0)
	if err != nil {
		return fatal("reset command buffer", res, err)
	}

	res, err = r.device.BeginCommandBuffer(cmd, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return fatal("begin command buffer", res, err)
	}

	// An image fresh from a rebuild has undefined contents; one that has
	// been presented comes back in the present layout. Either way the old
	// contents are cleared, so undefined is always a valid old layout, but
	// stating the true layout keeps validation quiet.
	colorOldLayout := core1_0.ImageLayoutUndefined
	if r.presented[image] {
		colorOldLayout = khr_swapchain.ImageLayoutPresentSrc
	}

	err = r.device.CmdPipelineBarrier(cmd,
		core1_0.PipelineStageColorAttachmentOutput,
		core1_0.PipelineStageColorAttachmentOutput,
		0, nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       0,
				DstAccessMask:       core1_0.AccessColorAttachmentWrite,
				OldLayout:           colorOldLayout,
				NewLayout:           core1_0.ImageLayoutColorAttachmentOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               r.generation.images[image],
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask:     core1_0.ImageAspectColor,
					BaseMipLevel:   0,
					LevelCount:     1,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
			},
		})
	if err != nil {
		return errors.Wrap(err, "transition color attachment")
	}

	err = r.device.CmdPipelineBarrier(cmd,
		core1_0.PipelineStageTopOfPipe,
		core1_0.PipelineStageEarlyFragmentTests,
		0, nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       0,
				DstAccessMask:       core1_0.AccessDepthStencilAttachmentWrite,
				OldLayout:           core1_0.ImageLayoutUndefined,
				NewLayout:           core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               r.depth.image,
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask:     core1_0.ImageAspectDepth,
					BaseMipLevel:   0,
					LevelCount:     1,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
			},
		})
	if err != nil {
		return errors.Wrap(err, "transition depth attachment")
	}

	err = r.dynamicRendering.CmdBeginRendering(cmd, khr_dynamic_rendering.RenderingInfo{
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: r.generation.extent,
		},
		LayerCount: 1,
		ColorAttachments: []khr_dynamic_rendering.RenderingAttachmentInfo{
			{
				ImageView:   r.generation.views[image],
				ImageLayout: core1_0.ImageLayoutColorAttachmentOptimal,
				LoadOp:      core1_0.AttachmentLoadOpClear,
				StoreOp:     core1_0.AttachmentStoreOpStore,
				ClearValue:  r.clear,
			},
		},
		DepthAttachment: &khr_dynamic_rendering.RenderingAttachmentInfo{
			ImageView:   r.depth.view,
			ImageLayout: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			LoadOp:      core1_0.AttachmentLoadOpClear,
			StoreOp:     core1_0.AttachmentStoreOpDontCare,
			ClearValue:  core1_0.ClearValueDepthStencil{Depth: 1.0},
		},
	})
	if err != nil {
		return errors.Wrap(err, "begin rendering")
	}

	// Default viewport and scissor cover the whole image; Frame methods may
	// override them before drawing.
	r.device.CmdSetViewport(cmd, core1_0.Viewport{
		X: 0, Y: 0,
		Width:    float32(r.generation.extent.Width),
		Height:   float32(r.generation.extent.Height),
		MinDepth: 0, MaxDepth: 1,
	})
	r.device.CmdSetScissor(cmd, core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: r.generation.extent,
	})
	return nil
}

// EndFrame closes the frame: it ends recording, submits the command buffer,
// queues the image for presentation, and advances to the next frame slot.
// A stale surface at present is absorbed; the frame still counts and the
// rebuild happens on the next BeginFrame.
func (r *Renderer) EndFrame(frame *Frame) error {
	if r.state != frameRecording {
		return errors.New("EndFrame called with no frame open")
	}
	if frame == nil || frame.r != r {
		return errors.New("EndFrame called with a frame from another renderer")
	}
	// The frame is considered closed no matter how submission goes; a
	// half-open frame cannot be resumed.
	r.state = frameIdle

	image := frame.Index
	cmd := r.slots[r.sync.current].commandBuffer

	r.dynamicRendering.CmdEndRendering(cmd)

	err := r.device.CmdPipelineBarrier(cmd,
		core1_0.PipelineStageColorAttachmentOutput,
		core1_0.PipelineStageBottomOfPipe,
		0, nil, nil,
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       core1_0.AccessColorAttachmentWrite,
				DstAccessMask:       0,
				OldLayout:           core1_0.ImageLayoutColorAttachmentOptimal,
				NewLayout:           khr_swapchain.ImageLayoutPresentSrc,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               r.generation.images[image],
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask:     core1_0.ImageAspectColor,
					BaseMipLevel:   0,
					LevelCount:     1,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
			},
		})
	if err != nil {
		return errors.Wrap(err, "transition to present layout")
	}

	res, err := r.device.EndCommandBuffer(cmd)
	if err != nil {
		return fatal("end command buffer", res, err)
	}

	if err := r.sync.submit(image); err != nil {
		return err
	}
	r.presented[image] = true

	err = r.sync.present(image)
	if errors.Is(err, ErrSwapchainOutOfDate) {
		r.recreation.request()
		err = nil
	}
	if err != nil {
		return err
	}

	r.timing.finish()
	r.sync.advance()
	return nil
}

// RenderFrame wraps one full frame: begin, hand the frame to draw, end. A
// skipped frame (stale swapchain) returns nil so callers can loop on it
// directly. If draw fails the frame is still closed so pacing stays
// consistent, and both errors are reported.
func (r *Renderer) RenderFrame(draw func(*Frame) error) error {
	frame, err := r.BeginFrame()
	if errors.Is(err, ErrSwapchainOutOfDate) {
		return nil
	}
	if err != nil {
		return err
	}

	drawErr := draw(frame)
	endErr := r.EndFrame(frame)
	return errors.CombineErrors(drawErr, endErr)
}
