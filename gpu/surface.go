package gpu

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/skforge/skrender/internal/core"
)

// Surface owns one swapchain: its per-image texture wrappers, the
// acquire/submit semaphore rings, and the per-image future ring, per
// §4.L. Semaphore rings are indexed differently on purpose: acquire
// semaphores by frame_idx (the next slot about to be signalled),
// submit/future by current_image (the image actually being presented),
// so a semaphore already waited on by a still-in-flight present is
// never re-signalled.
type Surface struct {
	ctx *Context

	nativeSurface vk.Surface
	swapchain     vk.Swapchain

	images     []*Texture
	acquireSem []vk.Semaphore
	submitSem  []vk.Semaphore
	frameFuture []Future

	CurrentImage uint32
	frameIdx     uint32

	Size        [2]uint32
	Format      vk.SurfaceFormat
	PresentMode vk.PresentMode

	RecreationNeeded bool
}

func querySwapchainSupport(pd vk.PhysicalDevice, surface vk.Surface) (vk.SurfaceCapabilities, []vk.SurfaceFormat, []vk.PresentMode, error) {
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &caps); res != vk.Success {
		return caps, nil, nil, fmt.Errorf("vkGetPhysicalDeviceSurfaceCapabilities failed: %s", vk.Error(res))
	}

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, nil); res != vk.Success {
		return caps, nil, nil, fmt.Errorf("vkGetPhysicalDeviceSurfaceFormats (count) failed: %s", vk.Error(res))
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	if formatCount > 0 {
		if res := vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &formatCount, formats); res != vk.Success {
			return caps, nil, nil, fmt.Errorf("vkGetPhysicalDeviceSurfaceFormats failed: %s", vk.Error(res))
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, nil); res != vk.Success {
		return caps, nil, nil, fmt.Errorf("vkGetPhysicalDeviceSurfacePresentModes (count) failed: %s", vk.Error(res))
	}
	modes := make([]vk.PresentMode, modeCount)
	if modeCount > 0 {
		if res := vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &modeCount, modes); res != vk.Success {
			return caps, nil, nil, fmt.Errorf("vkGetPhysicalDeviceSurfacePresentModes failed: %s", vk.Error(res))
		}
	}

	return caps, formats, modes, nil
}

func pickSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	if len(formats) > 0 {
		return formats[0]
	}
	return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
}

// pickPresentMode implements §4.L's mailbox > fifo_relaxed > fifo
// preference order. FIFO is always supported so it is the backstop.
func pickPresentMode(modes []vk.PresentMode) vk.PresentMode {
	var haveRelaxed bool
	for _, m := range modes {
		if m == vk.PresentModeMailbox {
			return m
		}
		if m == vk.PresentModeFifoRelaxed {
			haveRelaxed = true
		}
	}
	if haveRelaxed {
		return vk.PresentModeFifoRelaxed
	}
	return vk.PresentModeFifo
}

func clampExtent(want, min, max vk.Extent2D) vk.Extent2D {
	clampU32 := func(v, lo, hi uint32) uint32 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return vk.Extent2D{
		Width:  clampU32(want.Width, min.Width, max.Width),
		Height: clampU32(want.Height, min.Height, max.Height),
	}
}

// CreateSurface wraps nativeSurface (already created by the windowing
// layer, e.g. glfw.CreateWindowSurface) in a Surface, building the
// swapchain and its per-image resources (§4.L).
func CreateSurface(ctx *Context, nativeSurface vk.Surface, width, height uint32) (*Surface, error) {
	ctx.VerifyPresentSupport(nativeSurface)
	s := &Surface{ctx: ctx, nativeSurface: nativeSurface}
	if err := s.buildSwapchain(width, height, vk.NullSwapchain); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Surface) buildSwapchain(width, height uint32, old vk.Swapchain) error {
	caps, formats, modes, err := querySwapchainSupport(s.ctx.PhysicalDevice, s.nativeSurface)
	if err != nil {
		return err
	}

	s.Format = pickSurfaceFormat(formats)
	s.PresentMode = pickPresentMode(modes)

	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent = clampExtent(extent, caps.MinImageExtent, caps.MaxImageExtent)
	if extent.Width == 0 || extent.Height == 0 {
		return core.ErrSurfaceLost
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.nativeSurface,
		MinImageCount:    imageCount,
		ImageFormat:      s.Format.Format,
		ImageColorSpace:  s.Format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      s.PresentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	if s.ctx.GraphicsQueueIndex != s.ctx.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{s.ctx.GraphicsQueueIndex, s.ctx.PresentQueueIndex}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(s.ctx.Device, &createInfo, s.ctx.Allocator, &handle); res != vk.Success {
		return fmt.Errorf("vkCreateSwapchain failed: %s", vk.Error(res))
	}
	if old != nil {
		vk.DestroySwapchain(s.ctx.Device, old, s.ctx.Allocator)
	}
	s.swapchain = handle
	s.Size = [2]uint32{extent.Width, extent.Height}

	var count uint32
	if res := vk.GetSwapchainImages(s.ctx.Device, handle, &count, nil); res != vk.Success {
		return fmt.Errorf("vkGetSwapchainImages (count) failed: %s", vk.Error(res))
	}
	rawImages := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(s.ctx.Device, handle, &count, rawImages); res != vk.Success {
		return fmt.Errorf("vkGetSwapchainImages failed: %s", vk.Error(res))
	}

	s.images = make([]*Texture, count)
	for i, img := range rawImages {
		view, err := createSwapchainImageView(s.ctx, img, s.Format.Format)
		if err != nil {
			return err
		}
		s.images[i] = &Texture{
			Image:      img,
			View:       view,
			Format:     s.Format.Format,
			Width:      extent.Width,
			Height:     extent.Height,
			Depth:      1,
			MipCount:   1,
			LayerCount: 1,
			Samples:    vk.SampleCount1Bit,
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			Name:       fmt.Sprintf("swapchain-image-%s", uuid.New().String()),
		}
	}

	n := int(count)
	s.acquireSem = make([]vk.Semaphore, n)
	s.submitSem = make([]vk.Semaphore, n)
	s.frameFuture = make([]Future, n)
	semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	for i := 0; i < n; i++ {
		if res := vk.CreateSemaphore(s.ctx.Device, &semInfo, s.ctx.Allocator, &s.acquireSem[i]); res != vk.Success {
			return fmt.Errorf("vkCreateSemaphore (acquire) failed: %s", vk.Error(res))
		}
		if res := vk.CreateSemaphore(s.ctx.Device, &semInfo, s.ctx.Allocator, &s.submitSem[i]); res != vk.Success {
			return fmt.Errorf("vkCreateSemaphore (submit) failed: %s", vk.Error(res))
		}
	}

	s.frameIdx = 0
	s.RecreationNeeded = false
	return nil
}

func createSwapchainImageView(ctx *Context, img vk.Image, format vk.Format) (vk.ImageView, error) {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(ctx.Device, &info, ctx.Allocator, &view); res != vk.Success {
		return nil, fmt.Errorf("vkCreateImageView failed: %s", vk.Error(res))
	}
	return view, nil
}

// NextTex waits on the current flight's future, acquires the next
// swapchain image, and returns its texture for the caller to pass to
// begin_pass. A vk.ErrorOutOfDate result sets RecreationNeeded and
// returns core.ErrNeedsResize; a suboptimal result sets RecreationNeeded
// but still returns the acquired image, so the next call returns
// core.ErrNeedsResize. The caller is expected to call Resize before
// trying again (§4.L, §9 resize path).
func (s *Surface) NextTex(timeoutNS uint64) (*Texture, error) {
	if s.RecreationNeeded {
		return nil, core.ErrNeedsResize
	}
	if s.frameFuture[s.frameIdx].table != nil {
		s.frameFuture[s.frameIdx].Wait()
	}

	var imageIndex uint32
	res := vk.AcquireNextImage(s.ctx.Device, s.swapchain, timeoutNS, s.acquireSem[s.frameIdx], vk.NullFence, &imageIndex)
	switch res {
	case vk.Success:
	case vk.Suboptimal:
		s.RecreationNeeded = true
	case vk.ErrorOutOfDate:
		s.RecreationNeeded = true
		return nil, core.ErrNeedsResize
	case vk.ErrorSurfaceLost:
		return nil, core.ErrSurfaceLost
	default:
		return nil, fmt.Errorf("vkAcquireNextImageKHR failed: %s", vk.Error(res))
	}

	s.CurrentImage = imageIndex
	return s.images[imageIndex], nil
}

// AcquireSemaphore returns the semaphore frame_begin's image acquire
// signals, indexed by frame_idx per §4.L.
func (s *Surface) AcquireSemaphore() vk.Semaphore { return s.acquireSem[s.frameIdx] }

// SubmitSemaphore returns the semaphore frame_end's submission signals,
// indexed by current_image so presentation waits on the right one.
func (s *Surface) SubmitSemaphore() vk.Semaphore { return s.submitSem[s.CurrentImage] }

// SetFuture records f as the future for the image currently being
// presented, read back by NextTex the next time this image is reused.
func (s *Surface) SetFuture(f Future) {
	s.frameFuture[s.CurrentImage] = f
}

// AdvanceFrame rotates frame_idx, called once per frame_end (§4.M).
func (s *Surface) AdvanceFrame() {
	s.frameIdx = (s.frameIdx + 1) % uint32(len(s.acquireSem))
}

// Present issues vkQueuePresentKHR and propagates its result instead of
// silently recreating (§9 Open Question decision: propagated). The
// caller decides whether out-of-date/suboptimal warrants an immediate
// Resize or can wait until next frame.
func (s *Surface) Present(presentQueue vk.Queue) (vk.Result, error) {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{s.SubmitSemaphore()},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.swapchain},
		PImageIndices:      []uint32{s.CurrentImage},
	}

	var res vk.Result
	s.ctx.SubmitLocked(func() vk.Result {
		res = vk.QueuePresent(presentQueue, &presentInfo)
		return res
	})

	switch res {
	case vk.Success:
		return res, nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		s.RecreationNeeded = true
		return res, core.ErrNeedsResize
	case vk.ErrorSurfaceLost:
		return res, core.ErrSurfaceLost
	default:
		return res, fmt.Errorf("vkQueuePresentKHR failed: %s", vk.Error(res))
	}
}

// Resize waits for the device to go idle, then rebuilds the swapchain
// and every per-image resource in place, reusing the old swapchain as
// oldSwapchain per Vulkan's recommended recreation path (§4.L).
func (s *Surface) Resize(width, height uint32) error {
	vk.DeviceWaitIdle(s.ctx.Device)
	s.destroyImageResources()
	return s.buildSwapchain(width, height, s.swapchain)
}

func (s *Surface) destroyImageResources() {
	for _, tex := range s.images {
		if tex.View != nil {
			vk.DestroyImageView(s.ctx.Device, tex.View, s.ctx.Allocator)
		}
	}
	for i := range s.acquireSem {
		vk.DestroySemaphore(s.ctx.Device, s.acquireSem[i], s.ctx.Allocator)
		vk.DestroySemaphore(s.ctx.Device, s.submitSem[i], s.ctx.Allocator)
	}
	s.images = nil
	s.acquireSem = nil
	s.submitSem = nil
}

// Destroy waits for the device to go idle (§5's one unconditional
// suspension point at teardown) then releases every owned resource.
// Swapchain images themselves are not destroyed: ownership belongs to
// the swapchain, matching the teacher's destroySwapchain comment.
func (s *Surface) Destroy() {
	vk.DeviceWaitIdle(s.ctx.Device)
	s.destroyImageResources()
	if s.swapchain != nil {
		vk.DestroySwapchain(s.ctx.Device, s.swapchain, s.ctx.Allocator)
		s.swapchain = nil
	}
}
