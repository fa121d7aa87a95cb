package gpu

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/skforge/skrender/internal/core"
)

// BufferStorage selects where a Buffer's memory lives: device-local with
// a one-shot staging upload (static), or host-visible/coherent with
// in-place memcpy updates (dynamic), per §4.G.
type BufferStorage int

const (
	BufferStatic BufferStorage = iota
	BufferDynamic
)

// BufferKind names what a Buffer is bound as.
type BufferKind int

const (
	BufferKindVertex BufferKind = iota
	BufferKindIndex
	BufferKindConstant
	BufferKindStorage
)

// BufferComputeAccess adds STORAGE_BUFFER | *_DST usage bits for buffers
// a compute shader reads or read-writes (§4.G).
type BufferComputeAccess int

const (
	BufferComputeNone BufferComputeAccess = iota
	BufferComputeRead
	BufferComputeReadWrite
)

// Buffer is a GPU buffer object: vertex, index, constant (uniform), or
// storage, static or dynamic (§3 Glossary, §4.G).
type Buffer struct {
	Handle   vk.Buffer
	Memory   vk.DeviceMemory
	Size     uint64
	Capacity uint64
	Storage  BufferStorage
	Kind     BufferKind
	Compute  BufferComputeAccess
	mapped   unsafe.Pointer
	Name     string
}

func (k BufferKind) usageBit() vk.BufferUsageFlagBits {
	switch k {
	case BufferKindVertex:
		return vk.BufferUsageVertexBufferBit
	case BufferKindIndex:
		return vk.BufferUsageIndexBufferBit
	case BufferKindConstant:
		return vk.BufferUsageUniformBufferBit
	case BufferKindStorage:
		return vk.BufferUsageStorageBufferBit
	}
	return 0
}

func bufferUsageFlags(kind BufferKind, storage BufferStorage, compute BufferComputeAccess) vk.BufferUsageFlags {
	usage := vk.BufferUsageFlags(kind.usageBit())
	if storage == BufferStatic {
		usage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	}
	if compute == BufferComputeRead || compute == BufferComputeReadWrite {
		usage |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferDstBit)
	}
	return usage
}

func allocateBuffer(ctx *Context, size uint64, usage vk.BufferUsageFlags, memProps vk.MemoryPropertyFlagBits) (vk.Buffer, vk.DeviceMemory, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if res := vk.CreateBuffer(ctx.Device, &bufferInfo, ctx.Allocator, &buf); res != vk.Success {
		return nil, nil, fmt.Errorf("vkCreateBuffer failed: %s", vk.Error(res))
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device, buf, &reqs)
	reqs.Deref()
	memIndex := ctx.FindMemoryIndex(reqs.MemoryTypeBits, memProps)
	if memIndex < 0 {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		return nil, nil, core.ErrNoSuitableMemory
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(memIndex),
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(ctx.Device, &allocInfo, ctx.Allocator, &mem); res != vk.Success {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		return nil, nil, fmt.Errorf("vkAllocateMemory failed: %s", vk.Error(res))
	}
	if res := vk.BindBufferMemory(ctx.Device, buf, mem, 0); res != vk.Success {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		vk.FreeMemory(ctx.Device, mem, ctx.Allocator)
		return nil, nil, fmt.Errorf("vkBindBufferMemory failed: %s", vk.Error(res))
	}
	return buf, mem, nil
}

// CreateBuffer allocates a Buffer per kind/storage/compute and, for
// BufferStatic with a non-empty initial payload, performs the one-shot
// staging upload through tt/h's command substrate (§4.G). For
// BufferDynamic the memory is host-visible/host-coherent and
// persistently mapped so Set can memcpy in place.
func CreateBuffer(ctx *Context, tt *ThreadTable, h *ThreadHandle, data []byte, count, stride uint32, kind BufferKind, storage BufferStorage, compute BufferComputeAccess, name string) (*Buffer, error) {
	size := uint64(count) * uint64(stride)
	if size == 0 {
		size = uint64(len(data))
	}
	if size == 0 {
		return nil, fmt.Errorf("buffer %q: zero size", name)
	}

	usage := bufferUsageFlags(kind, storage, compute)
	b := &Buffer{Size: uint64(len(data)), Capacity: size, Storage: storage, Kind: kind, Compute: compute, Name: name}

	if storage == BufferStatic {
		buf, mem, err := allocateBuffer(ctx, size, usage, vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit))
		if err != nil {
			return nil, err
		}
		b.Handle, b.Memory = buf, mem
		if len(data) > 0 {
			if err := b.uploadStatic(ctx, tt, h, data); err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	buf, mem, err := allocateBuffer(ctx, size, usage, vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	b.Handle, b.Memory = buf, mem
	if res := vk.MapMemory(ctx.Device, mem, 0, vk.DeviceSize(size), 0, &b.mapped); res != vk.Success {
		return nil, fmt.Errorf("vkMapMemory failed: %s", vk.Error(res))
	}
	if len(data) > 0 {
		if err := vk.Memcopy(b.mapped, data); err != nil {
			return nil, fmt.Errorf("buffer memcopy failed: %w", err)
		}
	}
	return b, nil
}

func (b *Buffer) uploadStatic(ctx *Context, tt *ThreadTable, h *ThreadHandle, data []byte) error {
	stagingBuf, stagingMem, err := createStagingBuffer(ctx, data)
	if err != nil {
		return err
	}
	c, err := tt.CmdAcquire(h)
	if err != nil {
		vk.DestroyBuffer(ctx.Device, stagingBuf, ctx.Allocator)
		vk.FreeMemory(ctx.Device, stagingMem, ctx.Allocator)
		return err
	}
	region := vk.BufferCopy{SrcOffset: 0, DstOffset: 0, Size: vk.DeviceSize(len(data))}
	vk.CmdCopyBuffer(c.Handle, stagingBuf, b.Handle, 1, []vk.BufferCopy{region})
	c.DestroyList.PushBuffer(stagingBuf)
	c.DestroyList.PushMemory(stagingMem)
	return tt.CmdRelease(c)
}

// Set overwrites a dynamic buffer's contents in place via memcpy (§4.G).
// It is the caller's responsibility that no in-flight GPU read of the
// previous contents is still pending when reusing the same bytes within
// a frame's bump-free window.
func (b *Buffer) Set(data []byte) error {
	if b.Storage != BufferDynamic {
		return fmt.Errorf("buffer %q: Set is only valid on dynamic buffers", b.Name)
	}
	if uint64(len(data)) > b.Capacity {
		return fmt.Errorf("buffer %q: Set data (%d bytes) exceeds capacity (%d)", b.Name, len(data), b.Capacity)
	}
	if err := vk.Memcopy(b.mapped, data); err != nil {
		return fmt.Errorf("buffer %q memcopy failed: %w", b.Name, err)
	}
	b.Size = uint64(len(data))
	return nil
}

// IsValid reports whether the buffer's Vulkan handle exists (§7).
func (b *Buffer) IsValid() bool { return b != nil && b.Handle != nil }

// SetName assigns a debug name; an empty name gets a generated one.
func (b *Buffer) SetName(name string) {
	if name == "" {
		name = "buffer-" + uuid.New().String()
	}
	b.Name = name
}

// Destroy releases the buffer's Vulkan objects, routed through dl if
// non-nil.
func (b *Buffer) Destroy(ctx *Context, dl *DestroyList) {
	if b.Memory != nil && b.Storage == BufferDynamic {
		vk.UnmapMemory(ctx.Device, b.Memory)
	}
	if dl != nil {
		if b.Handle != nil {
			dl.PushBuffer(b.Handle)
		}
		if b.Memory != nil {
			dl.PushMemory(b.Memory)
		}
		return
	}
	if b.Handle != nil {
		vk.DestroyBuffer(ctx.Device, b.Handle, ctx.Allocator)
	}
	if b.Memory != nil {
		vk.FreeMemory(ctx.Device, b.Memory, ctx.Allocator)
	}
}

// EnsureBuffer implements §4.G's ensure_buffer: grows buf by
// destroy-and-recreate when size exceeds its current capacity,
// otherwise updates it in place (for dynamic buffers) or re-uploads (for
// static ones). Returns the buffer to use going forward (itself, unless
// it had to grow).
func EnsureBuffer(ctx *Context, tt *ThreadTable, h *ThreadHandle, buf *Buffer, data []byte, count, stride uint32, kind BufferKind, storage BufferStorage, compute BufferComputeAccess, name string, dl *DestroyList) (*Buffer, error) {
	size := uint64(count) * uint64(stride)
	if size == 0 {
		size = uint64(len(data))
	}
	if buf == nil || size > buf.Capacity {
		next, err := CreateBuffer(ctx, tt, h, data, count, stride, kind, storage, compute, name)
		if err != nil {
			return nil, err
		}
		if buf != nil {
			buf.Destroy(ctx, dl)
		}
		return next, nil
	}
	if storage == BufferDynamic {
		if err := buf.Set(data); err != nil {
			return nil, err
		}
		return buf, nil
	}
	if err := buf.uploadStatic(ctx, tt, h, data); err != nil {
		return nil, err
	}
	buf.Size = uint64(len(data))
	return buf, nil
}
