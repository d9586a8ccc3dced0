package boulder

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// SwapchainSupport is the surface's answer to what a swapchain on it may
// look like.
type SwapchainSupport struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

// swapchainGeneration bundles everything whose lifetime is tied to one
// swapchain: the chain itself, its images and views, and the per-image
// render-finished semaphores. A rebuild replaces the whole generation.
type swapchainGeneration struct {
	swapchain khr_swapchain.Swapchain
	images    []core1_0.Image
	views     []core1_0.ImageView
	// renderFinished is indexed by image, not by frame slot. A semaphore
	// waited on by present must not be re-signaled until that image comes
	// back from the presentation engine.
	renderFinished []core1_0.Semaphore

	format core1_0.Format
	extent core1_0.Extent2D
}

func (r *Renderer) querySwapchainSupport(device core1_0.PhysicalDevice) (SwapchainSupport, error) {
	var details SwapchainSupport
	var err error

	details.Capabilities, _, err = r.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(r.surface, device)
	if err != nil {
		return details, errors.Wrap(err, "query surface capabilities")
	}

	details.Formats, _, err = r.surfaceExtension.GetPhysicalDeviceSurfaceFormats(r.surface, device)
	if err != nil {
		return details, errors.Wrap(err, "query surface formats")
	}

	details.PresentModes, _, err = r.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(r.surface, device)
	if err != nil {
		return details, errors.Wrap(err, "query surface present modes")
	}
	return details, nil
}

func chooseSurfaceFormat(available []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range available {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}
	return available[0]
}

// choosePresentMode prefers immediate presentation for the lowest latency
// and falls back to FIFO, which every driver must provide.
func choosePresentMode(available []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range available {
		if presentMode == khr_surface.PresentModeImmediate {
			return presentMode
		}
	}
	return khr_surface.PresentModeFIFO
}

// chooseExtent resolves the swapchain extent: the surface's current extent
// when the platform fixes it, otherwise the drawable size clamped to the
// surface limits.
func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, drawableWidth, drawableHeight int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	width := drawableWidth
	height := drawableHeight
	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

// chooseImageCount asks for one image beyond the minimum so acquisition
// rarely blocks on the presentation engine, capped by the surface maximum
// (zero meaning unbounded).
func chooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

// createSwapchain builds a new generation over the surface. The previous
// generation, if any, is handed to the driver as the old-swapchain hint so
// in-flight presents can finish against it; the caller destroys it after.
func (r *Renderer) createSwapchain(drawableWidth, drawableHeight int) (*swapchainGeneration, error) {
	support, err := r.querySwapchainSupport(r.physicalDevice)
	if err != nil {
		return nil, err
	}

	surfaceFormat := chooseSurfaceFormat(support.Formats)
	presentMode := choosePresentMode(support.PresentModes)
	extent := chooseExtent(support.Capabilities, drawableWidth, drawableHeight)
	imageCount := chooseImageCount(support.Capabilities)

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int
	if *r.queueIndices.GraphicsFamily != *r.queueIndices.PresentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *r.queueIndices.GraphicsFamily, *r.queueIndices.PresentFamily)
	}

	createInfo := khr_swapchain.SwapchainCreateInfo{
		Surface: r.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	}
	if r.generation != nil {
		createInfo.OldSwapchain = r.generation.swapchain
	}

	swapchain, _, err := r.swapchainExtension.CreateSwapchain(nil, createInfo)
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}

	gen := &swapchainGeneration{
		swapchain: swapchain,
		format:    surfaceFormat.Format,
		extent:    extent,
	}

	gen.images, _, err = r.swapchainExtension.GetSwapchainImages(swapchain)
	if err != nil {
		r.destroyGeneration(gen)
		return nil, errors.Wrap(err, "get swapchain images")
	}

	for _, image := range gen.images {
		view, err := r.createImageView(image, gen.format, core1_0.ImageAspectColor)
		if err != nil {
			r.destroyGeneration(gen)
			return nil, err
		}
		gen.views = append(gen.views, view)
	}

	for range gen.images {
		semaphore, _, err := r.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
		if err != nil {
			r.destroyGeneration(gen)
			return nil, errors.Wrap(err, "create render-finished semaphore")
		}
		gen.renderFinished = append(gen.renderFinished, semaphore)
	}

	return gen, nil
}

// destroyGeneration releases a generation's resources. The caller must have
// made sure the device is idle with respect to them.
func (r *Renderer) destroyGeneration(gen *swapchainGeneration) {
	if gen == nil {
		return
	}
	for _, semaphore := range gen.renderFinished {
		r.device.DestroySemaphore(semaphore, nil)
	}
	for _, view := range gen.views {
		r.device.DestroyImageView(view, nil)
	}
	if gen.swapchain.Initialized() {
		r.swapchainExtension.DestroySwapchain(gen.swapchain, nil)
	}
}

func (r *Renderer) createImageView(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (core1_0.ImageView, error) {
	imageView, _, err := r.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return imageView, errors.Wrap(err, "create image view")
	}
	return imageView, nil
}
