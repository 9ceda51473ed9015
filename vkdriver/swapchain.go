package vkdriver

import (
	"cmp"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-compute-studio/gpu"
)

// Swapchain is the Vulkan implementation of gpu.Swapchain. It owns its image
// views and the framebuffers created for it.
type Swapchain struct {
	device *Device
	handle vk.Swapchain

	images       []vk.Image
	views        []vk.ImageView
	framebuffers []gpu.FramebufferID

	format vk.Format
	extent vk.Extent2D
}

var _ gpu.Swapchain = (*Swapchain)(nil)

// CreateSwapchain creates a swapchain for the instance surface sized to the
// current framebuffer of the window.
func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	inst := d.physical.instance
	if inst.Headless() {
		return nil, errors.New("cannot create a swap chain without a surface")
	}

	swapChainSupport, err := d.physical.querySwapChainSupport()
	if err != nil {
		return nil, err
	}
	if len(swapChainSupport.formats) == 0 || len(swapChainSupport.presentModes) == 0 {
		return nil, errors.New("surface has no formats or present modes")
	}

	surfaceFormat := chooseSwapSurfaceFormat(swapChainSupport.formats)
	presentMode := chooseSwapPresentMode(swapChainSupport.presentModes)

	width, height := inst.window.FramebufferSize()
	extend := chooseSwapExtend(swapChainSupport.capabilities, width, height)

	imageCount := swapChainSupport.capabilities.MinImageCount + 1
	if swapChainSupport.capabilities.MaxImageCount > 0 &&
		imageCount > swapChainSupport.capabilities.MaxImageCount {
		imageCount = swapChainSupport.capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          inst.surface,
		MinImageCount:    imageCount,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageFormat:      surfaceFormat.Format,
		ImageExtent:      extend,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     swapChainSupport.capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		ImageSharingMode: vk.SharingModeExclusive,
	}

	if len(desc.Families) > 1 && desc.Families[0] != desc.Families[1] {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = uint32(len(desc.Families))
		createInfo.PQueueFamilyIndices = desc.Families
	}

	sc := &Swapchain{
		device: d,
		format: surfaceFormat.Format,
		extent: extend,
	}

	res := vk.CreateSwapchain(d.handle, &createInfo, nil, &sc.handle)
	if err := vk.Error(res); err != nil {
		return nil, errors.Wrap(err, "failed to create swap chain")
	}

	var imagesCount uint32
	vk.GetSwapchainImages(d.handle, sc.handle, &imagesCount, nil)

	sc.images = make([]vk.Image, imagesCount)
	vk.GetSwapchainImages(d.handle, sc.handle, &imagesCount, sc.images)

	if err := sc.createImageViews(); err != nil {
		sc.Destroy()
		return nil, err
	}

	inst.log.WithField("extent", extend).Debug("swap chain created")
	return sc, nil
}

func (sc *Swapchain) createImageViews() error {
	for i, swapChainImage := range sc.images {
		createInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    swapChainImage,
			ViewType: vk.ImageViewType2d,
			Format:   sc.format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}

		var imageView vk.ImageView
		res := vk.CreateImageView(sc.device.handle, &createInfo, nil, &imageView)
		if err := vk.Error(res); err != nil {
			return errors.Wrapf(err, "failed to create image view %d", i)
		}

		sc.views = append(sc.views, imageView)
	}

	return nil
}

func (sc *Swapchain) Extent() gpu.Extent2D {
	return gpu.Extent2D{Width: sc.extent.Width, Height: sc.extent.Height}
}

func (sc *Swapchain) Format() gpu.Format {
	return gpu.Format(sc.format)
}

func (sc *Swapchain) ImageCount() int {
	return len(sc.images)
}

// CreateFramebuffers creates a framebuffer for every image view. Framebuffers
// from an earlier call are destroyed first.
func (sc *Swapchain) CreateFramebuffers(rp gpu.RenderPassID) ([]gpu.FramebufferID, error) {
	sc.destroyFramebuffers()

	renderPass := sc.device.renderPasses.get(rp)
	for i, swapChainView := range sc.views {
		frameBufferInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      renderPass,
			AttachmentCount: 1,
			PAttachments:    []vk.ImageView{swapChainView},
			Width:           sc.extent.Width,
			Height:          sc.extent.Height,
			Layers:          1,
		}

		var frameBuffer vk.Framebuffer
		res := vk.CreateFramebuffer(sc.device.handle, &frameBufferInfo, nil, &frameBuffer)
		if err := vk.Error(res); err != nil {
			sc.destroyFramebuffers()
			return nil, errors.Wrapf(err, "failed to create frame buffer %d", i)
		}

		sc.framebuffers = append(sc.framebuffers, sc.device.framebuffers.add(frameBuffer))
	}

	return sc.framebuffers, nil
}

func (sc *Swapchain) AcquireNextImage(timeout time.Duration, semaphore gpu.SemaphoreID) (uint32, error) {
	var imageIndex uint32
	res := vk.AcquireNextImage(
		sc.device.handle,
		sc.handle,
		timeoutNanos(timeout),
		sc.device.semaphores.get(semaphore),
		vk.Fence(vk.NullHandle),
		&imageIndex,
	)
	switch res {
	case vk.Success, vk.Suboptimal:
		return imageIndex, nil
	case vk.ErrorOutOfDate:
		return 0, gpu.ErrOutOfDate
	case vk.Timeout, vk.NotReady:
		return 0, errors.Wrap(gpu.ErrTimeout, "acquiring swap chain image")
	}
	return 0, errors.Wrap(vk.Error(res), "failed to acquire swap chain image")
}

func (sc *Swapchain) Present(queue gpu.QueueID, image uint32, wait []gpu.SemaphoreID) error {
	waitSemaphores := sc.device.semaphores.all(wait)
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waitSemaphores)),
		PWaitSemaphores:    waitSemaphores,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{image},
	}

	res := vk.QueuePresent(sc.device.queueHandles.get(queue), &presentInfo)
	if res == vk.ErrorOutOfDate || res == vk.Suboptimal {
		return gpu.ErrOutOfDate
	}
	if err := vk.Error(res); err != nil {
		return errors.Wrap(err, "failed to present swap chain image")
	}
	return nil
}

func (sc *Swapchain) destroyFramebuffers() {
	for _, id := range sc.framebuffers {
		if frameBuffer, ok := sc.device.framebuffers.take(id); ok {
			vk.DestroyFramebuffer(sc.device.handle, frameBuffer, nil)
		}
	}
	sc.framebuffers = nil
}

// Destroy releases the framebuffers, the image views and the swapchain.
func (sc *Swapchain) Destroy() {
	sc.destroyFramebuffers()

	for _, imageView := range sc.views {
		vk.DestroyImageView(sc.device.handle, imageView, nil)
	}
	sc.views = nil
	sc.images = nil

	if sc.handle != vk.NullSwapchain {
		vk.DestroySwapchain(sc.device.handle, sc.handle, nil)
		sc.handle = vk.NullSwapchain
	}
}

func chooseSwapSurfaceFormat(availableFormats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == vk.FormatB8g8r8a8Srgb &&
			format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

func chooseSwapPresentMode(available []vk.PresentMode) vk.PresentMode {
	for _, mode := range available {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}

	return vk.PresentModeFifo
}

// chooseSwapExtend uses the surface extent when the window system dictates
// it and the framebuffer size clamped to the surface limits otherwise.
func chooseSwapExtend(capabilities vk.SurfaceCapabilities, width, height int) vk.Extent2D {
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}

	return vk.Extent2D{
		Width: clamp(
			uint32(max(width, 0)),
			capabilities.MinImageExtent.Width,
			capabilities.MaxImageExtent.Width,
		),
		Height: clamp(
			uint32(max(height, 0)),
			capabilities.MinImageExtent.Height,
			capabilities.MaxImageExtent.Height,
		),
	}
}

func clamp[T cmp.Ordered](val, min, max T) T {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
