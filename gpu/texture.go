package gpu

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/skforge/skrender/internal/core"
)

// TextureFlags is a bitset of the texture creation/usage traits named in
// §4.F.
type TextureFlags uint32

const (
	TextureReadable TextureFlags = 1 << iota
	TextureWriteable
	TextureCubemap
	TextureArray
	TextureCompute
	TextureGenMips
	TextureRenderTarget
	TextureTransientDiscard
)

func (f TextureFlags) has(bit TextureFlags) bool { return f&bit != 0 }

// LayoutState is the mutable part of a Texture the layout tracker owns:
// the most recently observed layout and the stage/access pair that
// produced it, used to fill srcStage/srcAccess on the next barrier
// (§4.F).
type LayoutState struct {
	CurrentLayout  vk.ImageLayout
	PreviousAccess vk.AccessFlags
	PreviousStage  vk.PipelineStageFlags
	WriterStage    vk.PipelineStageFlags
}

// cachedFramebuffer is one of a texture's two framebuffer memoisation
// slots (§4.F "Framebuffer caching").
type cachedFramebuffer struct {
	valid       bool
	framebuffer vk.Framebuffer
	passIdentity int
}

// Texture owns an image, its main view, optional per-mip views, a
// sampler, an optional YCbCr conversion, and the layout-tracker state
// (§3 Glossary, §4.F). Reads from many threads are safe once its layout
// has settled (§5); writers must be externally serialised by the
// caller.
type Texture struct {
	Image           vk.Image
	Memory          vk.DeviceMemory
	View            vk.ImageView
	MipViews        []vk.ImageView
	Sampler         vk.Sampler
	YcbcrConversion vk.SamplerYcbcrConversion

	Format     vk.Format
	Width      uint32
	Height     uint32
	Depth      uint32
	MipCount   uint32
	LayerCount uint32
	Samples    vk.SampleCountFlagBits
	AspectMask vk.ImageAspectFlags
	Flags      TextureFlags

	Layout LayoutState

	fbNoDepth   cachedFramebuffer
	fbWithDepth cachedFramebuffer

	Name string
}

// TextureCreateInfo gathers the creation inputs named in §4.F.
type TextureCreateInfo struct {
	Name       string
	Format     vk.Format
	Flags      TextureFlags
	Width      uint32
	Height     uint32
	Depth      uint32
	MipCount   uint32
	LayerCount uint32
	Samples    vk.SampleCountFlagBits

	MagFilter  vk.Filter
	MinFilter  vk.Filter
	AddressU   vk.SamplerAddressMode
	AddressV   vk.SamplerAddressMode
	AddressW   vk.SamplerAddressMode

	// Data is the optional initial payload, uploaded through a staging
	// buffer (§4.F). DataMipCount/DataLayerCount describe how many of the
	// texture's mips/layers it populates (the rest are left undefined).
	Data          []byte
	DataMipCount  uint32
	DataLayerCount uint32
}

func isDepthFormat(format vk.Format) bool {
	switch format {
	case vk.FormatD16Unorm, vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint,
		vk.FormatD32Sfloat, vk.FormatD32SfloatS8Uint, vk.FormatX8D24UnormPack32:
		return true
	}
	return false
}

func hasStencilComponent(format vk.Format) bool {
	switch format {
	case vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

// isYcbcrFormat reports whether format needs a VkSamplerYcbcrConversion
// (§4.F: "format ∈ {nv12, p010, yuv420p}"). p010 is a 10-bit packed
// multi-plane format whose exact VkFormat enum name varies across
// binding generations; rather than guess at a name this binding may not
// export, only the two 8-bit planar formats spec.md names with
// unambiguous core-1.1 enum values are detected here. A p010 texture is
// created without a SamplerYcbcrConversion, and TextureCreateInfo has no
// field for supplying one — see DESIGN.md.
func isYcbcrFormat(format vk.Format) bool {
	switch format {
	case vk.FormatG8B8R82Plane420Unorm, vk.FormatG8B8R83Plane420Unorm:
		return true
	}
	return false
}

func viewType(info TextureCreateInfo) vk.ImageViewType {
	switch {
	case info.Flags.has(TextureCubemap) && info.LayerCount > 6:
		return vk.ImageViewTypeCubeArray
	case info.Flags.has(TextureCubemap):
		return vk.ImageViewTypeCube
	case info.Depth > 1:
		return vk.ImageViewType3d
	case info.Flags.has(TextureArray):
		return vk.ImageViewType2dArray
	default:
		return vk.ImageViewType2d
	}
}

// CreateTexture allocates the image, view, and sampler for info, per
// §4.F. Ported from the teacher's ImageCreate/ImageViewCreate shape
// (renderer/vulkan/image.go), generalized to mip chains, array/cubemap
// layers, and sampler/YCbCr creation, none of which the teacher's
// single-mip 2D image constructor covers.
func CreateTexture(ctx *Context, info TextureCreateInfo) (*Texture, error) {
	if info.MipCount == 0 {
		info.MipCount = 1
	}
	if info.LayerCount == 0 {
		info.LayerCount = 1
	}
	if info.Depth == 0 {
		info.Depth = 1
	}
	if info.Samples == 0 {
		info.Samples = vk.SampleCount1Bit
	}
	info.Flags = applyImplicitTransientDiscard(info.Format, info.Flags)

	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if isDepthFormat(info.Format) {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		if hasStencilComponent(info.Format) {
			aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
		}
	}

	usage := vk.ImageUsageFlags(0)
	if info.Flags.has(TextureReadable) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if info.Flags.has(TextureWriteable) || info.Flags.has(TextureCompute) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	if info.Flags.has(TextureRenderTarget) {
		if isDepthFormat(info.Format) {
			usage |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		} else {
			usage |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
		}
	}
	if len(info.Data) > 0 || info.Flags.has(TextureGenMips) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)
	}
	if info.Flags.has(TextureGenMips) {
		usage |= vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit)
	}

	imageCreateFlags := vk.ImageCreateFlags(0)
	if info.Flags.has(TextureCubemap) {
		imageCreateFlags |= vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		Flags:     imageCreateFlags,
		ImageType: vk.ImageType2d,
		Format:    info.Format,
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  info.Depth,
		},
		MipLevels:     info.MipCount,
		ArrayLayers:   info.LayerCount,
		Samples:       info.Samples,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if info.Depth > 1 {
		createInfo.ImageType = vk.ImageType3d
	}

	tex := &Texture{
		Format:     info.Format,
		Width:      info.Width,
		Height:     info.Height,
		Depth:      info.Depth,
		MipCount:   info.MipCount,
		LayerCount: info.LayerCount,
		Samples:    info.Samples,
		AspectMask: aspect,
		Flags:      info.Flags,
		Name:       info.Name,
		Layout:     LayoutState{CurrentLayout: vk.ImageLayoutUndefined},
	}

	if res := vk.CreateImage(ctx.Device, &createInfo, ctx.Allocator, &tex.Image); res != vk.Success {
		return nil, fmt.Errorf("vkCreateImage failed: %s", vk.Error(res))
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(ctx.Device, tex.Image, &reqs)
	reqs.Deref()
	memIndex := ctx.FindMemoryIndex(reqs.MemoryTypeBits, vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit))
	if memIndex < 0 {
		vk.DestroyImage(ctx.Device, tex.Image, ctx.Allocator)
		return nil, core.ErrNoSuitableMemory
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(memIndex),
	}
	if res := vk.AllocateMemory(ctx.Device, &allocInfo, ctx.Allocator, &tex.Memory); res != vk.Success {
		vk.DestroyImage(ctx.Device, tex.Image, ctx.Allocator)
		return nil, fmt.Errorf("vkAllocateMemory failed: %s", vk.Error(res))
	}
	if res := vk.BindImageMemory(ctx.Device, tex.Image, tex.Memory, 0); res != vk.Success {
		vk.DestroyImage(ctx.Device, tex.Image, ctx.Allocator)
		vk.FreeMemory(ctx.Device, tex.Memory, ctx.Allocator)
		return nil, fmt.Errorf("vkBindImageMemory failed: %s", vk.Error(res))
	}

	if isYcbcrFormat(info.Format) {
		convInfo := vk.SamplerYcbcrConversionCreateInfo{
			SType:                       vk.StructureTypeSamplerYcbcrConversionCreateInfo,
			Format:                      info.Format,
			YcbcrModel:                  vk.SamplerYcbcrModelConversionYcbcr601,
			YcbcrRange:                  vk.SamplerYcbcrRangeItuNarrow,
			ChromaFilter:                vk.FilterLinear,
			XChromaOffset:               vk.ChromaLocationMidpoint,
			YChromaOffset:               vk.ChromaLocationMidpoint,
			ForceExplicitReconstruction: vk.False,
		}
		if res := vk.CreateSamplerYcbcrConversion(ctx.Device, &convInfo, ctx.Allocator, &tex.YcbcrConversion); res != vk.Success {
			core.LogError("vkCreateSamplerYcbcrConversion failed: %s", vk.Error(res))
		}
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    tex.Image,
		ViewType: viewType(info),
		Format:   info.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     info.MipCount,
			BaseArrayLayer: 0,
			LayerCount:     info.LayerCount,
		},
	}
	var ycbcrInfo *vk.SamplerYcbcrConversionInfo
	if tex.YcbcrConversion != nil {
		ycbcrInfo = &vk.SamplerYcbcrConversionInfo{
			SType:      vk.StructureTypeSamplerYcbcrConversionInfo,
			Conversion: tex.YcbcrConversion,
		}
		viewInfo.PNext = unsafe.Pointer(ycbcrInfo)
	}
	if res := vk.CreateImageView(ctx.Device, &viewInfo, ctx.Allocator, &tex.View); res != vk.Success {
		return nil, fmt.Errorf("vkCreateImageView failed: %s", vk.Error(res))
	}

	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               info.MagFilter,
		MinFilter:               info.MinFilter,
		AddressModeU:            info.AddressU,
		AddressModeV:            info.AddressV,
		AddressModeW:            info.AddressW,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		MinLod:                  0,
		MaxLod:                  float32(info.MipCount),
	}
	if tex.YcbcrConversion != nil {
		samplerInfo.PNext = unsafe.Pointer(ycbcrInfo)
	}
	if res := vk.CreateSampler(ctx.Device, &samplerInfo, ctx.Allocator, &tex.Sampler); res != vk.Success {
		return nil, fmt.Errorf("vkCreateSampler failed: %s", vk.Error(res))
	}

	return tex, nil
}

// Destroy releases every Vulkan object this texture owns, routed through
// dl if non-nil (so a texture still referenced by in-flight work is not
// torn down under it), or immediately otherwise.
func (t *Texture) Destroy(ctx *Context, dl *DestroyList) {
	push := func(fn func()) {
		if dl == nil {
			fn()
		}
	}
	if t.Sampler != nil {
		if dl != nil {
			dl.PushSampler(t.Sampler)
		}
		push(func() { vk.DestroySampler(ctx.Device, t.Sampler, ctx.Allocator) })
	}
	for _, v := range t.MipViews {
		if dl != nil {
			dl.PushImageView(v)
		}
		push(func() { vk.DestroyImageView(ctx.Device, v, ctx.Allocator) })
	}
	if t.View != nil {
		if dl != nil {
			dl.PushImageView(t.View)
		}
		push(func() { vk.DestroyImageView(ctx.Device, t.View, ctx.Allocator) })
	}
	if t.fbNoDepth.valid {
		if dl != nil {
			dl.PushFramebuffer(t.fbNoDepth.framebuffer)
		}
		push(func() { vk.DestroyFramebuffer(ctx.Device, t.fbNoDepth.framebuffer, ctx.Allocator) })
	}
	if t.fbWithDepth.valid {
		if dl != nil {
			dl.PushFramebuffer(t.fbWithDepth.framebuffer)
		}
		push(func() { vk.DestroyFramebuffer(ctx.Device, t.fbWithDepth.framebuffer, ctx.Allocator) })
	}
	if t.YcbcrConversion != nil {
		if dl != nil {
			dl.PushYcbcrConversion(t.YcbcrConversion)
		}
		push(func() { vk.DestroySamplerYcbcrConversion(ctx.Device, t.YcbcrConversion, ctx.Allocator) })
	}
	if t.Image != nil {
		if dl != nil {
			dl.PushImage(t.Image)
		}
		push(func() { vk.DestroyImage(ctx.Device, t.Image, ctx.Allocator) })
	}
	if t.Memory != nil {
		if dl != nil {
			dl.PushMemory(t.Memory)
		}
		push(func() { vk.FreeMemory(ctx.Device, t.Memory, ctx.Allocator) })
	}
}

// IsValid reports whether the texture's underlying image exists.
// Construction failures return invalid objects rather than panicking
// (§7), so callers gate on this before use.
func (t *Texture) IsValid() bool { return t != nil && t.Image != nil }

// SetName assigns a debug name. An empty name gets a generated one so
// anonymous render targets stay distinguishable in logs.
func (t *Texture) SetName(name string) {
	if name == "" {
		name = "texture-" + uuid.New().String()
	}
	t.Name = name
}

// TransitionKind names a target-usage class for the deferred-transition
// queue and for needsTransition, with higher values taking priority when
// two pending transitions conflict for the same texture (§4.F).
type TransitionKind int

const (
	TransitionShaderRead TransitionKind = iota
	TransitionTransferSrc
	TransitionTransferDst
	TransitionColorAttachment
	TransitionDepthAttachment
	TransitionStorage
	TransitionPresent
)

func (k TransitionKind) target() (layout vk.ImageLayout, stage vk.PipelineStageFlags, access vk.AccessFlags) {
	switch k {
	case TransitionShaderRead:
		return vk.ImageLayoutShaderReadOnlyOptimal, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.AccessFlags(vk.AccessShaderReadBit)
	case TransitionTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.AccessFlags(vk.AccessTransferReadBit)
	case TransitionTransferDst:
		return vk.ImageLayoutTransferDstOptimal, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.AccessFlags(vk.AccessTransferWriteBit)
	case TransitionColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
	case TransitionDepthAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal, vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit), vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	case TransitionStorage:
		return vk.ImageLayoutGeneral, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit)
	case TransitionPresent:
		return vk.ImageLayoutPresentSrc, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), 0
	}
	return vk.ImageLayoutUndefined, 0, 0
}

// NeedsTransition reports whether tex is not already in kind's target
// layout, letting callers avoid enqueuing a no-op (§4.F).
func NeedsTransition(tex *Texture, kind TransitionKind) bool {
	layout, _, _ := kind.target()
	return tex.Layout.CurrentLayout != layout
}

// Transition emits a pipeline barrier moving tex to targetLayout, or does
// nothing if it is already there. UNDEFINED as the source layout is
// treated as a discard (srcAccessMask cleared, srcStage TOP_OF_PIPE)
// rather than reading stale tracker state (§4.F table).
func Transition(cmd vk.CommandBuffer, tex *Texture, targetLayout vk.ImageLayout, dstStage vk.PipelineStageFlags, dstAccess vk.AccessFlags) {
	if tex.Layout.CurrentLayout == targetLayout {
		return
	}

	srcStage := tex.Layout.PreviousStage
	srcAccess := tex.Layout.PreviousAccess
	if tex.Layout.CurrentLayout == vk.ImageLayoutUndefined {
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		srcAccess = 0
	}

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           tex.Layout.CurrentLayout,
		NewLayout:           targetLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               tex.Image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     tex.AspectMask,
			BaseMipLevel:   0,
			LevelCount:     tex.MipCount,
			BaseArrayLayer: 0,
			LayerCount:     tex.LayerCount,
		},
		SrcAccessMask: srcAccess,
		DstAccessMask: dstAccess,
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})

	tex.Layout.CurrentLayout = targetLayout
	tex.Layout.PreviousAccess = dstAccess
	tex.Layout.PreviousStage = dstStage
	tex.Layout.WriterStage = dstStage
}

// TransitionForShaderRead is the common helper for binding tex as a
// sampled image in dstStage (§4.F).
func TransitionForShaderRead(cmd vk.CommandBuffer, tex *Texture, dstStage vk.PipelineStageFlags) {
	layout, _, access := TransitionShaderRead.target()
	Transition(cmd, tex, layout, dstStage, access)
}

// TransitionForStorage moves tex to GENERAL for compute read/write
// access (§4.F).
func TransitionForStorage(cmd vk.CommandBuffer, tex *Texture) {
	layout, stage, access := TransitionStorage.target()
	Transition(cmd, tex, layout, stage, access)
}

// TransitionNotifyLayout updates the tracker's record of tex's layout
// without emitting a barrier, for the implicit transitions a render
// pass performs on begin/end (§4.F).
func (t *Texture) TransitionNotifyLayout(newLayout vk.ImageLayout, dstStage vk.PipelineStageFlags, dstAccess vk.AccessFlags) {
	t.Layout.CurrentLayout = newLayout
	t.Layout.PreviousAccess = dstAccess
	t.Layout.PreviousStage = dstStage
	t.Layout.WriterStage = dstStage
}

// TransitionQueue is the deferred-transition mechanism described in
// §4.F: callers outside a render pass enqueue (tex, kind) pairs,
// deduplicating per texture by keeping the higher-priority kind, and
// Flush emits every queued barrier immediately before
// vkCmdBeginRenderPass (Vulkan forbids barriers inside a subpass).
type TransitionQueue struct {
	mu      sync.Mutex
	pending map[*Texture]TransitionKind
}

func NewTransitionQueue() *TransitionQueue {
	return &TransitionQueue{pending: make(map[*Texture]TransitionKind)}
}

// Enqueue records tex needing kind, keeping whichever of the old and new
// kind has the higher priority if one is already pending.
func (q *TransitionQueue) Enqueue(tex *Texture, kind TransitionKind) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.pending[tex]; !ok || kind > existing {
		q.pending[tex] = kind
	}
}

// PendingCount reports how many textures currently have a queued
// transition, mainly for tests.
func (q *TransitionQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush applies every queued transition and empties the queue.
func (q *TransitionQueue) Flush(cmd vk.CommandBuffer) {
	q.mu.Lock()
	pending := q.pending
	q.pending = make(map[*Texture]TransitionKind)
	q.mu.Unlock()

	for tex, kind := range pending {
		layout, stage, access := kind.target()
		Transition(cmd, tex, layout, stage, access)
	}
}

// Framebuffer returns the cached framebuffer for this texture keyed by
// passIdentity, if still valid for that identity (§4.F "Framebuffer
// caching").
func (t *Texture) Framebuffer(withDepth bool, passIdentity int) (vk.Framebuffer, bool) {
	slot := &t.fbNoDepth
	if withDepth {
		slot = &t.fbWithDepth
	}
	if slot.valid && slot.passIdentity == passIdentity {
		return slot.framebuffer, true
	}
	return nil, false
}

// SetFramebuffer installs a newly built framebuffer for passIdentity,
// queuing the previous one, if any, for destruction through dl.
func (t *Texture) SetFramebuffer(withDepth bool, fb vk.Framebuffer, passIdentity int, dl *DestroyList) {
	slot := &t.fbNoDepth
	if withDepth {
		slot = &t.fbWithDepth
	}
	if slot.valid && slot.framebuffer != nil {
		dl.PushFramebuffer(slot.framebuffer)
	}
	*slot = cachedFramebuffer{valid: true, framebuffer: fb, passIdentity: passIdentity}
}

// ApplyTransientDiscard implements the transient-discard rule: a
// texture flagged TextureTransientDiscard resets to UNDEFINED across
// begin_pass so tile-based GPUs can skip the load. Depth targets that
// are never sampled get the flag implicitly at creation; MSAA
// color/resolve intermediates opt in through the flag explicitly.
func ApplyTransientDiscard(tex *Texture) {
	if tex.Flags.has(TextureTransientDiscard) {
		tex.Layout.CurrentLayout = vk.ImageLayoutUndefined
	}
}

// applyImplicitTransientDiscard marks depth targets without
// TextureReadable as transient: nothing ever samples their contents, so
// discarding across passes is always safe for them.
func applyImplicitTransientDiscard(format vk.Format, flags TextureFlags) TextureFlags {
	if isDepthFormat(format) && !flags.has(TextureReadable) {
		flags |= TextureTransientDiscard
	}
	return flags
}
