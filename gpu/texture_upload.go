package gpu

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// createStagingBuffer allocates a host-visible, host-coherent buffer,
// maps it, and copies data in. The caller owns tearing it down (it is a
// one-shot transfer source, not a long-lived resource).
func createStagingBuffer(ctx *Context, data []byte) (vk.Buffer, vk.DeviceMemory, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(len(data)),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		SharingMode: vk.SharingModeExclusive,
	}
	var buf vk.Buffer
	if res := vk.CreateBuffer(ctx.Device, &bufferInfo, ctx.Allocator, &buf); res != vk.Success {
		return nil, nil, fmt.Errorf("vkCreateBuffer (staging) failed: %s", vk.Error(res))
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(ctx.Device, buf, &reqs)
	reqs.Deref()
	memIndex := ctx.FindMemoryIndex(reqs.MemoryTypeBits, vk.MemoryPropertyFlagBits(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memIndex < 0 {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		return nil, nil, fmt.Errorf("no host-visible/coherent memory for staging buffer")
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(memIndex),
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(ctx.Device, &allocInfo, ctx.Allocator, &mem); res != vk.Success {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		return nil, nil, fmt.Errorf("vkAllocateMemory (staging) failed: %s", vk.Error(res))
	}
	if res := vk.BindBufferMemory(ctx.Device, buf, mem, 0); res != vk.Success {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		vk.FreeMemory(ctx.Device, mem, ctx.Allocator)
		return nil, nil, fmt.Errorf("vkBindBufferMemory (staging) failed: %s", vk.Error(res))
	}

	var mapped unsafe.Pointer
	if res := vk.MapMemory(ctx.Device, mem, 0, vk.DeviceSize(len(data)), 0, &mapped); res != vk.Success {
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		vk.FreeMemory(ctx.Device, mem, ctx.Allocator)
		return nil, nil, fmt.Errorf("vkMapMemory (staging) failed: %s", vk.Error(res))
	}
	if err := vk.Memcopy(mapped, data); err != nil {
		vk.UnmapMemory(ctx.Device, mem)
		vk.DestroyBuffer(ctx.Device, buf, ctx.Allocator)
		vk.FreeMemory(ctx.Device, mem, ctx.Allocator)
		return nil, nil, fmt.Errorf("staging buffer memcopy failed: %w", err)
	}
	vk.UnmapMemory(ctx.Device, mem)

	return buf, mem, nil
}

// UploadData copies info.Data into tex's first DataMipCount mips /
// DataLayerCount layers via a one-shot staging buffer, transitioning the
// image to TRANSFER_DST_OPTIMAL first and to SHADER_READ_ONLY_OPTIMAL
// (or leaving it at TRANSFER_DST if mip generation will run next)
// afterward (§4.F).
func UploadData(ctx *Context, cmd vk.CommandBuffer, tex *Texture, data []byte, dataMipCount, dataLayerCount uint32, genMipsNext bool, dl *DestroyList) error {
	if len(data) == 0 {
		return nil
	}
	if dataMipCount == 0 {
		dataMipCount = 1
	}
	if dataLayerCount == 0 {
		dataLayerCount = 1
	}

	stagingBuf, stagingMem, err := createStagingBuffer(ctx, data)
	if err != nil {
		return err
	}
	// The staging buffer is only read by the copy command below; it must
	// outlive this batch, so its release is routed through the same
	// destroy list as everything else this batch touches.
	dl.PushBuffer(stagingBuf)
	dl.PushMemory(stagingMem)

	layout, stage, access := TransitionTransferDst.target()
	Transition(cmd, tex, layout, stage, access)

	regions := make([]vk.BufferImageCopy, 0, dataMipCount*dataLayerCount)
	offset := vk.DeviceSize(0)
	w, h := tex.Width, tex.Height
	for mip := uint32(0); mip < dataMipCount; mip++ {
		regions = append(regions, vk.BufferImageCopy{
			BufferOffset:      offset,
			BufferRowLength:   0,
			BufferImageHeight: 0,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     tex.AspectMask,
				MipLevel:       mip,
				BaseArrayLayer: 0,
				LayerCount:     dataLayerCount,
			},
			ImageOffset: vk.Offset3D{},
			ImageExtent: vk.Extent3D{Width: w, Height: h, Depth: 1},
		})
		mipBytes := vk.DeviceSize(w) * vk.DeviceSize(h) * 4 * vk.DeviceSize(dataLayerCount)
		offset += mipBytes
		if w > 1 {
			w /= 2
		}
		if h > 1 {
			h /= 2
		}
	}
	vk.CmdCopyBufferToImage(cmd, stagingBuf, tex.Image, vk.ImageLayoutTransferDstOptimal, uint32(len(regions)), regions)

	if !genMipsNext {
		TransitionForShaderRead(cmd, tex, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	}

	return nil
}

// GenerateMipsBlit builds the remaining mip chain from mip 0 by
// successive vkCmdBlitImage calls, the "blitting (graphics formats)"
// path named in §4.F.
func GenerateMipsBlit(ctx *Context, cmd vk.CommandBuffer, tex *Texture) {
	if tex.MipCount <= 1 {
		TransitionForShaderRead(cmd, tex, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
		return
	}

	w, h := int32(tex.Width), int32(tex.Height)
	for mip := uint32(1); mip < tex.MipCount; mip++ {
		srcBarrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           vk.ImageLayoutTransferDstOptimal,
			NewLayout:           vk.ImageLayoutTransferSrcOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               tex.Image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     tex.AspectMask,
				BaseMipLevel:   mip - 1,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     tex.LayerCount,
			},
			SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessTransferReadBit),
		}
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit), 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{srcBarrier})

		nw, nh := w, h
		if nw > 1 {
			nw /= 2
		}
		if nh > 1 {
			nh /= 2
		}
		blit := vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{AspectMask: tex.AspectMask, MipLevel: mip - 1, BaseArrayLayer: 0, LayerCount: tex.LayerCount},
			SrcOffsets:     [2]vk.Offset3D{{}, {X: w, Y: h, Z: 1}},
			DstSubresource: vk.ImageSubresourceLayers{AspectMask: tex.AspectMask, MipLevel: mip, BaseArrayLayer: 0, LayerCount: tex.LayerCount},
			DstOffsets:     [2]vk.Offset3D{{}, {X: nw, Y: nh, Z: 1}},
		}
		vk.CmdBlitImage(cmd, tex.Image, vk.ImageLayoutTransferSrcOptimal, tex.Image, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageBlit{blit}, vk.FilterLinear)

		backBarrier := srcBarrier
		backBarrier.OldLayout = vk.ImageLayoutTransferSrcOptimal
		backBarrier.NewLayout = vk.ImageLayoutShaderReadOnlyOptimal
		backBarrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferReadBit)
		backBarrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{backBarrier})

		w, h = nw, nh
	}

	finalBarrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           vk.ImageLayoutTransferDstOptimal,
		NewLayout:           vk.ImageLayoutShaderReadOnlyOptimal,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               tex.Image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     tex.AspectMask,
			BaseMipLevel:   tex.MipCount - 1,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     tex.LayerCount,
		},
		SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
	}
	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{finalBarrier})

	tex.TransitionNotifyLayout(vk.ImageLayoutShaderReadOnlyOptimal, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.AccessFlags(vk.AccessShaderReadBit))
}

// ComputeMipGenerator dispatches a user-supplied compute shader for
// alpha-weighted mip generation, the "dispatching a user-supplied
// compute shader" alternative in §4.F. No material is passed here — the
// callback, supplied by the caller (pipeline/renderlist layer), binds
// whatever it needs per mip level.
type ComputeMipGenerator func(cmd vk.CommandBuffer, tex *Texture, srcMip, dstMip uint32)

// GenerateMipsCompute runs dispatch once per mip level above 0, with
// image barriers around each to serialise the read of the previous mip
// against the write of the next.
func GenerateMipsCompute(cmd vk.CommandBuffer, tex *Texture, dispatch ComputeMipGenerator) {
	TransitionForStorage(cmd, tex)
	for mip := uint32(1); mip < tex.MipCount; mip++ {
		dispatch(cmd, tex, mip-1, mip)
		barrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           vk.ImageLayoutGeneral,
			NewLayout:           vk.ImageLayoutGeneral,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               tex.Image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     tex.AspectMask,
				BaseMipLevel:   mip,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     tex.LayerCount,
			},
			SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		}
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	}
}
