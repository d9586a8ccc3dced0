package boulder

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// depthTarget is the depth attachment shared by every swapchain image. It is
// sized to the swapchain extent and rebuilt with it.
type depthTarget struct {
	image  core1_0.Image
	memory core1_0.DeviceMemory
	view   core1_0.ImageView
	format core1_0.Format
}

func (r *Renderer) findDepthFormat() (core1_0.Format, error) {
	return r.findSupportedFormat([]core1_0.Format{
		core1_0.FormatD32SignedFloat,
		core1_0.FormatD32SignedFloatS8UnsignedInt,
		core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
	}, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment)
}

func (r *Renderer) findSupportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range formats {
		props := r.instanceDriver.GetPhysicalDeviceFormatProperties(r.physicalDevice, format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}
	return 0, errors.Newf("no supported format for tiling %s, featureset %s", tiling, features)
}

func (r *Renderer) createDepthTarget(extent core1_0.Extent2D) (*depthTarget, error) {
	format, err := r.findDepthFormat()
	if err != nil {
		return nil, err
	}

	target := &depthTarget{format: format}
	target.image, target.memory, err = r.createImage(extent.Width, extent.Height, format,
		core1_0.ImageTilingOptimal,
		core1_0.ImageUsageDepthStencilAttachment,
		core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, err
	}

	target.view, err = r.createImageView(target.image, format, core1_0.ImageAspectDepth)
	if err != nil {
		r.destroyDepthTarget(target)
		return nil, err
	}
	return target, nil
}

func (r *Renderer) destroyDepthTarget(target *depthTarget) {
	if target == nil {
		return
	}
	if target.view.Initialized() {
		r.device.DestroyImageView(target.view, nil)
	}
	if target.image.Initialized() {
		r.device.DestroyImage(target.image, nil)
	}
	if target.memory.Initialized() {
		r.device.FreeMemory(target.memory, nil)
	}
}

func (r *Renderer) createImage(width, height int, format core1_0.Format, tiling core1_0.ImageTiling, usage core1_0.ImageUsageFlags, memoryProperties core1_0.MemoryPropertyFlags) (core1_0.Image, core1_0.DeviceMemory, error) {
	image, _, err := r.device.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        tiling,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return core1_0.Image{}, core1_0.DeviceMemory{}, errors.Wrap(err, "create image")
	}

	memReqs := r.device.GetImageMemoryRequirements(image)
	memoryIndex, err := r.findMemoryType(memReqs.MemoryTypeBits, memoryProperties)
	if err != nil {
		return core1_0.Image{}, core1_0.DeviceMemory{}, err
	}

	imageMemory, _, err := r.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		return core1_0.Image{}, core1_0.DeviceMemory{}, errors.Wrap(err, "allocate image memory")
	}

	_, err = r.device.BindImageMemory(image, imageMemory, 0)
	if err != nil {
		return core1_0.Image{}, core1_0.DeviceMemory{}, errors.Wrap(err, "bind image memory")
	}

	return image, imageMemory, nil
}
