package boulder

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_dynamic_rendering"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// Renderer owns the Vulkan device context, the swapchain and its dependents,
// and the frame pacing state. One Renderer drives one window. All methods
// must be called from the render thread.
type Renderer struct {
	log    logrus.FieldLogger
	window *Window

	enableValidation bool

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	device         core1_0.CoreDeviceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceExtension   khr_surface.ExtensionDriver
	surface            khr_surface.Surface
	swapchainExtension khr_swapchain.ExtensionDriver
	dynamicRendering   khr_dynamic_rendering.ExtensionDriver

	physicalDevice core1_0.PhysicalDevice
	queueIndices   QueueFamilyIndices
	graphicsQueue  core1_0.Queue
	presentQueue   core1_0.Queue

	commandPool core1_0.CommandPool

	generation *swapchainGeneration
	depth      *depthTarget

	slots []frameSlot
	sync  *frameSync
	state frameState

	recreation recreationState

	pipelines *pipelineRegistry
	clear     core1_0.ClearValueFloat
	// presentedOnce is cleared on every rebuild; the first frame against a
	// fresh generation transitions its image out of the undefined layout.
	presented []bool

	timing frameTiming
}

// NewRenderer brings up the full device context over the window: instance,
// surface, device, swapchain, depth target, frame slots. The returned
// renderer is ready for BeginFrame.
func NewRenderer(window *Window, opts Options) (*Renderer, error) {
	r := &Renderer{
		log:              opts.Logger,
		window:           window,
		enableValidation: opts.EnableValidation,
		clear:            core1_0.ClearValueFloat{0, 0, 0, 1},
		pipelines:        newPipelineRegistry(),
	}
	if r.log == nil {
		r.log = newDefaultLogger()
	}

	window.onResize = func(width, height int) {
		r.recreation.request()
	}

	var err error
	r.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "load vulkan driver")
	}

	steps := []func() error{
		func() error { return r.createInstance(opts.Title, common.Vulkan1_2) },
		r.setupDebugMessenger,
		r.createSurface,
		r.pickPhysicalDevice,
		r.createLogicalDevice,
		r.createCommandPool,
		r.createFrameSlots,
		func() error { return r.buildGeneration(window.DrawableSize()) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			r.Destroy()
			return nil, err
		}
	}

	r.sync = newFrameSync(r, MaxFramesInFlight, len(r.generation.images))
	r.log.WithFields(logrus.Fields{
		"images": len(r.generation.images),
		"width":  r.generation.extent.Width,
		"height": r.generation.extent.Height,
	}).Info("renderer initialized")
	return r, nil
}

func (r *Renderer) createCommandPool() error {
	pool, _, err := r.device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: *r.queueIndices.GraphicsFamily,
	})
	if err != nil {
		return errors.Wrap(err, "create command pool")
	}
	r.commandPool = pool

	r.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(r.device)
	r.dynamicRendering = khr_dynamic_rendering.CreateExtensionDriverFromCoreDriver(r.device)
	return nil
}

// buildGeneration creates a swapchain generation plus its depth target for
// the given drawable size and installs them.
func (r *Renderer) buildGeneration(width, height int) error {
	gen, err := r.createSwapchain(width, height)
	if err != nil {
		return err
	}

	depth, err := r.createDepthTarget(gen.extent)
	if err != nil {
		r.destroyGeneration(gen)
		return err
	}

	old := r.generation
	r.generation = gen
	r.destroyGeneration(old)
	r.destroyDepthTarget(r.depth)
	r.depth = depth
	r.presented = make([]bool, len(gen.images))
	return nil
}

// Extent returns the current swapchain extent in pixels.
func (r *Renderer) Extent() (width, height int) {
	if r.generation == nil {
		return 0, 0
	}
	return r.generation.extent.Width, r.generation.extent.Height
}

// ImageCount returns the number of images in the current swapchain.
func (r *Renderer) ImageCount() int {
	if r.generation == nil {
		return 0
	}
	return len(r.generation.images)
}

// RequestRecreate flags the swapchain for rebuild before the next frame.
// The window resize handler calls this; callers may too, for example after
// toggling fullscreen.
func (r *Renderer) RequestRecreate() {
	r.recreation.request()
}

// SetClearColor sets the color the color attachment is cleared to at the
// start of each frame.
func (r *Renderer) SetClearColor(red, green, blue, alpha float32) {
	r.clear = core1_0.ClearValueFloat{red, green, blue, alpha}
}

// WaitIdle blocks until the device finished all submitted work.
func (r *Renderer) WaitIdle() error {
	if r.device == nil {
		return nil
	}
	_, err := r.device.DeviceWaitIdle()
	return errors.Wrap(err, "device wait idle")
}

// frameBackend implementation. These are the only paths through which frame
// pacing touches the driver.

func (r *Renderer) waitSlotFence(slot int) error {
	res, err := r.device.WaitForFences(true, common.NoTimeout, r.slots[slot].fence)
	return fatal("wait frame fence", res, err)
}

func (r *Renderer) resetSlotFence(slot int) error {
	res, err := r.device.ResetFences(r.slots[slot].fence)
	return fatal("reset frame fence", res, err)
}

func (r *Renderer) acquireImage(slot int) (int, bool, error) {
	image, res, err := r.swapchainExtension.AcquireNextImage(r.generation.swapchain, common.NoTimeout, &r.slots[slot].imageAvailable, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, false, errors.Mark(errors.Wrap(err, "acquire swapchain image"), ErrSwapchainOutOfDate)
	}
	if err != nil {
		return 0, false, fatal("acquire swapchain image", res, err)
	}
	return image, res == khr_swapchain.VKSuboptimal, nil
}

func (r *Renderer) submitFrame(slot, image int) error {
	res, err := r.device.QueueSubmit(r.graphicsQueue, &r.slots[slot].fence,
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{r.slots[slot].imageAvailable},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{r.slots[slot].commandBuffer},
			SignalSemaphores: []core1_0.Semaphore{r.generation.renderFinished[image]},
		},
	)
	return fatal("submit frame", res, err)
}

func (r *Renderer) presentImage(image int) error {
	res, err := r.swapchainExtension.QueuePresent(r.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{r.generation.renderFinished[image]},
		Swapchains:     []khr_swapchain.Swapchain{r.generation.swapchain},
		ImageIndices:   []int{image},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		// The image was still queued; the wait semaphore is consumed either
		// way, so this is a rebuild trigger, not a failure.
		return errors.Mark(errors.New("present reported stale swapchain"), ErrSwapchainOutOfDate)
	}
	return fatal("present frame", res, err)
}

// recreateOps implementation.

func (r *Renderer) drawableSize() (int, int) {
	return r.window.DrawableSize()
}

func (r *Renderer) rebuild(width, height int) (int, int, error) {
	if err := r.WaitIdle(); err != nil {
		return 0, 0, err
	}
	if err := r.buildGeneration(width, height); err != nil {
		return 0, 0, err
	}
	r.sync.resetImages(len(r.generation.images))
	return r.generation.extent.Width, r.generation.extent.Height, nil
}

func (r *Renderer) surfaceExtent() (int, int, error) {
	capabilities, _, err := r.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(r.surface, r.physicalDevice)
	if err != nil {
		return 0, 0, errors.Wrap(err, "query surface capabilities")
	}
	return capabilities.CurrentExtent.Width, capabilities.CurrentExtent.Height, nil
}

// Destroy tears the renderer down in reverse dependency order. It waits for
// the device to go idle first, so it is safe to call with frames in flight.
func (r *Renderer) Destroy() {
	if r.device != nil {
		_, _ = r.device.DeviceWaitIdle()
	}

	if r.pipelines != nil && r.device != nil {
		r.pipelines.destroyAll(r.device)
	}

	r.destroyFrameSlots()
	if r.device != nil {
		r.destroyDepthTarget(r.depth)
		r.depth = nil
		r.destroyGeneration(r.generation)
		r.generation = nil

		if r.commandPool.Initialized() {
			r.device.DestroyCommandPool(r.commandPool, nil)
		}
		r.device.DestroyDevice(nil)
		r.device = nil
	}

	if r.debugMessenger.Initialized() {
		r.debugDriver.DestroyDebugUtilsMessenger(r.debugMessenger, nil)
	}
	if r.surface.Initialized() {
		r.surfaceExtension.DestroySurface(r.surface, nil)
	}
	if r.instanceDriver != nil {
		r.instanceDriver.DestroyInstance(nil)
		r.instanceDriver = nil
	}
}
