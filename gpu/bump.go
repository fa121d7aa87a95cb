package gpu

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/internal/core"
)

// bumpInitialCapacity is the size each flight-indexed region starts at
// before any growth (§4.E).
const bumpInitialCapacity = 64 * 1024

// bumpRegion is one flight index's linear allocation buffer: a single
// persistently-mapped vk.Buffer with a bump offset that frame_begin
// resets to zero.
type bumpRegion struct {
	buffer   vk.Buffer
	memory   vk.DeviceMemory
	mapped   unsafe.Pointer
	capacity uint32
	offset   uint32
}

// BumpAllocator is a per-flight-index ring of linear upload buffers for
// small, short-lived GPU-visible writes (constant/storage data pushed
// once per draw), §4.E. Each thread owns its own const and storage bump
// allocators (§5), so writers never need cross-thread synchronization.
type BumpAllocator struct {
	usage   vk.BufferUsageFlagBits
	regions []bumpRegion
}

// NewBumpAllocator creates an allocator with one (initially empty) region
// per flight index. Regions are allocated lazily on first write.
func NewBumpAllocator(ctx *Context, usage vk.BufferUsageFlagBits, framesInFlight uint32) *BumpAllocator {
	return &BumpAllocator{usage: usage, regions: make([]bumpRegion, framesInFlight)}
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// alignment returns the device's minimum alignment for this allocator's
// usage, per §4.E ("every write must start at an alignment-respecting
// offset").
func (b *BumpAllocator) alignment(ctx *Context) uint32 {
	ctx.Properties.Limits.Deref()
	if b.usage&vk.BufferUsageFlagBits(vk.BufferUsageUniformBufferBit) != 0 {
		a := uint32(ctx.Properties.Limits.MinUniformBufferOffsetAlignment)
		if a == 0 {
			return 16
		}
		return a
	}
	a := uint32(ctx.Properties.Limits.MinStorageBufferOffsetAlignment)
	if a == 0 {
		return 16
	}
	return a
}

// AllocWrite bump-allocates len(data) bytes (alignment-padded) from the
// region for flightIndex, copies data into the persistently mapped
// buffer, and returns the backing buffer and byte offset to bind at. If
// the region is too small it grows by doubling, queuing the old buffer
// onto dl for release once in-flight reads of it are guaranteed done
// (§4.E).
func (b *BumpAllocator) AllocWrite(ctx *Context, flightIndex uint32, data []byte, dl *DestroyList) (vk.Buffer, uint32, error) {
	if int(flightIndex) >= len(b.regions) {
		return nil, 0, fmt.Errorf("bump allocator: flight index %d out of range (%d regions)", flightIndex, len(b.regions))
	}
	r := &b.regions[flightIndex]
	align := b.alignment(ctx)
	start := alignUp(r.offset, align)
	need := start + uint32(len(data))

	if r.capacity == 0 || need > r.capacity {
		newCap := r.capacity
		if newCap == 0 {
			newCap = bumpInitialCapacity
		}
		for newCap < need {
			newCap *= 2
		}
		if err := b.growRegion(ctx, r, newCap, dl); err != nil {
			return nil, 0, err
		}
		start = 0
	}

	if len(data) > 0 {
		if err := vk.Memcopy(unsafe.Pointer(uintptr(r.mapped)+uintptr(start)), data); err != nil {
			return nil, 0, fmt.Errorf("bump allocator memcopy failed: %w", err)
		}
	}
	r.offset = start + uint32(len(data))
	return r.buffer, start, nil
}

func (b *BumpAllocator) growRegion(ctx *Context, r *bumpRegion, newCap uint32, dl *DestroyList) error {
	oldBuffer, oldMemory := r.buffer, r.memory
	if oldMemory != nil {
		vk.UnmapMemory(ctx.Device, oldMemory)
	}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(newCap),
		Usage:       vk.BufferUsageFlags(b.usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if res := vk.CreateBuffer(ctx.Device, &bufferInfo, ctx.Allocator, &buf); res != vk.Success {
		return fmt.Errorf("vkCreateBuffer failed: %s", vk.Error(res))
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device, buf, &reqs)
	reqs.Deref()

	memIndex := ctx.FindMemoryIndex(reqs.MemoryTypeBits, vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memIndex < 0 {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		core.LogError("bump allocator: no host-visible/coherent memory type for buffer")
		return core.ErrNoSuitableMemory
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(memIndex),
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(ctx.Device, &allocInfo, ctx.Allocator, &mem); res != vk.Success {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		return fmt.Errorf("vkAllocateMemory failed: %s", vk.Error(res))
	}
	if res := vk.BindBufferMemory(ctx.Device, buf, mem, 0); res != vk.Success {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		vk.FreeMemory(ctx.Device, mem, ctx.Allocator)
		return fmt.Errorf("vkBindBufferMemory failed: %s", vk.Error(res))
	}

	var mapped unsafe.Pointer
	if res := vk.MapMemory(ctx.Device, mem, 0, vk.DeviceSize(newCap), 0, &mapped); res != vk.Success {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		vk.FreeMemory(ctx.Device, mem, ctx.Allocator)
		return fmt.Errorf("vkMapMemory failed: %s", vk.Error(res))
	}

	r.buffer = buf
	r.memory = mem
	r.mapped = mapped
	r.capacity = newCap

	if oldBuffer != nil {
		if dl != nil {
			dl.PushBuffer(oldBuffer)
			dl.PushMemory(oldMemory)
		} else {
			vk.DestroyBuffer(ctx.Device, oldBuffer, ctx.Allocator)
			vk.FreeMemory(ctx.Device, oldMemory, ctx.Allocator)
		}
	}
	return nil
}

// Reset rewinds the bump offset for flightIndex to zero. Called once per
// thread at frame_begin for the frame's flight index (§4.E, §4.M).
func (b *BumpAllocator) Reset(flightIndex uint32) {
	if int(flightIndex) >= len(b.regions) {
		return
	}
	b.regions[flightIndex].offset = 0
}

// destroyAll releases every region's buffer and memory immediately,
// bypassing any destroy list. Only safe once nothing can still be
// reading them, i.e. during ThreadShutdown after all fences are
// signalled.
func (b *BumpAllocator) destroyAll(ctx *Context) {
	for i := range b.regions {
		r := &b.regions[i]
		if r.memory == nil {
			continue
		}
		vk.UnmapMemory(ctx.Device, r.memory)
		vk.DestroyBuffer(ctx.Device, r.buffer, ctx.Allocator)
		vk.FreeMemory(ctx.Device, r.memory, ctx.Allocator)
		*r = bumpRegion{}
	}
}
