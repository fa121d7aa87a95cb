package gpu

import (
	"sort"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/internal/core"
	"github.com/skforge/skrender/shaderfile"
)

var meshIDCounter uint32
var materialIDCounter uint32

func nextMeshID() uint32 {
	return atomic.AddUint32(&meshIDCounter, 1) & 0xffff
}

func nextMaterialID() uint32 {
	return atomic.AddUint32(&materialIDCounter, 1) & 0xffff
}

// RenderItem is one queued draw: the mesh/material handles needed to
// build descriptor writes, the batching key, and the computed sort key
// (§4.J).
type RenderItem struct {
	Mesh     *Mesh
	Material *Material

	vertexBuffer0       *Buffer
	pipelineMaterialIdx int32
	bindStart           int
	bindCount           int
	firstIndex          uint32
	indexCount          uint32
	vertexOffset        int32

	InstanceDataOffset uint32
	InstanceDataStride uint32
	InstanceCount      uint32

	MaterialDataOffset uint32
	MaterialDataSize   uint32

	meshID     uint32
	materialID uint32
	SortKey    uint64
}

// MaxGlobalSlots bounds the renderer's global texture and constant
// arrays (§4.M).
const MaxGlobalSlots = 16

// GlobalBinds holds the renderer-wide texture and constant-buffer slots
// set through SetGlobalTexture/SetGlobalConstants. During descriptor
// composition they back-fill any shader-declared binding a material's
// own bind range leaves unsatisfied: a global texture in slot N serves
// register tN, a global constant buffer in slot N serves bN.
type GlobalBinds struct {
	Textures  [MaxGlobalSlots]*Texture
	Constants [MaxGlobalSlots]*Buffer
}

// RenderList accumulates draw items for a single pass and the CPU-side
// instance/material data they reference (§3, §4.J).
type RenderList struct {
	items []RenderItem

	instanceData     []byte
	instanceDataUsed uint32

	materialData     []byte
	materialDataUsed uint32
}

// NewRenderList creates an empty list. Capacity hints preallocate the
// CPU-side data buffers to avoid reallocation mid-frame; both grow
// automatically past the hint.
func NewRenderList(instanceCapacityHint, materialCapacityHint uint32) *RenderList {
	return &RenderList{
		instanceData: make([]byte, 0, instanceCapacityHint),
		materialData: make([]byte, 0, materialCapacityHint),
	}
}

// Reset clears the list for reuse next frame without releasing the
// underlying CPU buffers.
func (rl *RenderList) Reset() {
	rl.items = rl.items[:0]
	rl.instanceData = rl.instanceData[:0]
	rl.instanceDataUsed = 0
	rl.materialData = rl.materialData[:0]
	rl.materialDataUsed = 0
}

func computeSortKey(queueOffset int32, pipelineMaterialIdx int32, meshID, materialID uint32) uint64 {
	return uint64(uint32(queueOffset))<<48 | uint64(uint32(pipelineMaterialIdx))<<32 | uint64(meshID)<<16 | uint64(materialID)
}

// Add queues one draw: instance data and a snapshot of the material's
// current parameter buffer are copied in, mesh/material handles are
// inlined, and the sort key is computed (§4.J).
func (rl *RenderList) Add(mesh *Mesh, material *Material, instanceData []byte, instanceDataStride uint32, instanceCount uint32, firstIndex, indexCount uint32, vertexOffset int32) {
	instanceOffset := rl.instanceDataUsed
	rl.instanceData = append(rl.instanceData, instanceData...)
	rl.instanceDataUsed += uint32(len(instanceData))

	materialOffset := rl.materialDataUsed
	rl.materialData = append(rl.materialData, material.ParamBuffer...)
	rl.materialDataUsed += uint32(len(material.ParamBuffer))

	bufs, _ := mesh.VertexBuffers()
	if mesh.id == 0 {
		mesh.id = nextMeshID()
	}
	if material.id == 0 {
		material.id = nextMaterialID()
	}

	item := RenderItem{
		Mesh:                mesh,
		Material:            material,
		vertexBuffer0:       bufs[0],
		pipelineMaterialIdx: material.PipelineMaterialIdx,
		bindStart:           material.BindStart,
		bindCount:           material.BindCount,
		firstIndex:          firstIndex,
		indexCount:          indexCount,
		vertexOffset:        vertexOffset,
		InstanceDataOffset:  instanceOffset,
		InstanceDataStride:  instanceDataStride,
		InstanceCount:       instanceCount,
		MaterialDataOffset:  materialOffset,
		MaterialDataSize:    uint32(len(material.ParamBuffer)),
		meshID:              mesh.id,
		materialID:          material.id,
	}
	item.SortKey = computeSortKey(material.State.QueueOffset, item.pipelineMaterialIdx, item.meshID, item.materialID)
	rl.items = append(rl.items, item)
}

// Sort stable-sorts items ascending by sort key (§4.J).
func (rl *RenderList) Sort() {
	sort.SliceStable(rl.items, func(i, j int) bool { return rl.items[i].SortKey < rl.items[j].SortKey })
}

func sameBatch(a, b *RenderItem) bool {
	return a.vertexBuffer0 == b.vertexBuffer0 &&
		a.pipelineMaterialIdx == b.pipelineMaterialIdx &&
		a.bindStart == b.bindStart &&
		a.firstIndex == b.firstIndex &&
		a.indexCount == b.indexCount &&
		a.vertexOffset == b.vertexOffset
}

// drawBatch is one run of consecutive items sharing a batching key
// (§4.J step 2).
type drawBatch struct {
	rep           *RenderItem
	instanceCount uint32
}

func (rl *RenderList) batches() []drawBatch {
	var batches []drawBatch
	for i := range rl.items {
		it := &rl.items[i]
		if len(batches) > 0 && sameBatch(batches[len(batches)-1].rep, it) {
			batches[len(batches)-1].instanceCount += it.InstanceCount
			continue
		}
		batches = append(batches, drawBatch{rep: it, instanceCount: it.InstanceCount})
	}
	return batches
}

// Draw uploads system/material/instance data into the current command's
// bump allocators, then issues one draw call per batch (§4.J steps
// 1-4). renderPassIdx and each item's mesh vertex-format index select
// the pipeline via cache; bindPool
// supplies live texture/buffer/sampler handles for non-special bindings.
func (rl *RenderList) Draw(ctx *Context, tt *ThreadTable, h *ThreadHandle, c *CmdContext, cache *PipelineCache, bindPool *BindPool, globals *GlobalBinds, renderPassIdx int32, sysData []byte, instanceMultiplier uint32) error {
	if len(rl.items) == 0 {
		return nil
	}

	constBump, err := tt.ConstBump(h)
	if err != nil {
		return err
	}
	storageBump, err := tt.StorageBump(h)
	if err != nil {
		return err
	}
	flight := ctx.FlightIndex

	var sysBuf vk.Buffer
	var sysOff uint32
	if len(sysData) > 0 {
		sysBuf, sysOff, err = constBump.AllocWrite(ctx, flight, sysData, c.DestroyList)
		if err != nil {
			return err
		}
	}
	matBuf, matBase, err := constBump.AllocWrite(ctx, flight, rl.materialData, c.DestroyList)
	if err != nil {
		return err
	}
	var instBuf vk.Buffer
	var instBase uint32
	if len(rl.instanceData) > 0 {
		instBuf, instBase, err = storageBump.AllocWrite(ctx, flight, rl.instanceData, c.DestroyList)
		if err != nil {
			return err
		}
	}

	var lastPipeline vk.Pipeline
	for _, batch := range rl.batches() {
		it := batch.rep
		vertIdx := int32(0)
		if it.Mesh != nil {
			_, vertIdx = it.Mesh.VertexBuffers()
		}
		pipeline, err := cache.Get(it.pipelineMaterialIdx, renderPassIdx, vertIdx)
		if err != nil {
			core.LogCritical("render list: pipeline unavailable for material %d: %v", it.pipelineMaterialIdx, err)
			continue
		}

		pipelineLayout, descLayout, ok := cache.MaterialPipelineLayout(it.pipelineMaterialIdx)
		if !ok {
			core.LogCritical("render list: no pipeline layout registered for material %d", it.pipelineMaterialIdx)
			continue
		}

		writes, ok := rl.buildDescriptorWrites(it, bindPool, globals, matBuf, matBase, sysBuf, sysOff, uint32(len(sysData)), instBuf, instBase)
		if !ok {
			core.LogCritical("render list: skipping draw, missing required binding for material %d", it.pipelineMaterialIdx)
			continue
		}

		if err := applyDescriptorWrites(ctx, c, pipelineLayout, descLayout, writes); err != nil {
			core.LogCritical("render list: descriptor update failed for material %d: %v", it.pipelineMaterialIdx, err)
			continue
		}

		if pipeline != lastPipeline {
			vk.CmdBindPipeline(c.Handle, vk.PipelineBindPointGraphics, pipeline)
			lastPipeline = pipeline
		}

		bufs, _ := it.Mesh.VertexBuffers()
		handles := make([]vk.Buffer, len(bufs))
		offsets := make([]vk.DeviceSize, len(bufs))
		for i, b := range bufs {
			handles[i] = b.Handle
		}
		vk.CmdBindVertexBuffers(c.Handle, 0, uint32(len(handles)), handles, offsets)

		instanceCount := batch.instanceCount * instanceMultiplier
		if it.Mesh.IndexBuffer != nil {
			indexType := vk.IndexTypeUint16
			if it.Mesh.IndexFormat == IndexFormatUint32 {
				indexType = vk.IndexTypeUint32
			}
			vk.CmdBindIndexBuffer(c.Handle, it.Mesh.IndexBuffer.Handle, 0, indexType)
			vk.CmdDrawIndexed(c.Handle, it.indexCount, instanceCount, it.firstIndex, it.vertexOffset, 0)
		} else {
			vk.CmdDraw(c.Handle, it.Mesh.VertexCount, instanceCount, 0, 0)
		}
	}
	return nil
}

// descriptorWrite is a pending binding update before it is either
// vkUpdateDescriptorSet'd into an allocated set or pushed via
// vkCmdPushDescriptorSetKHR.
type descriptorWrite struct {
	binding     uint32
	descType    vk.DescriptorType
	bufferInfo  *vk.DescriptorBufferInfo
	imageInfo   *vk.DescriptorImageInfo
}

// buildDescriptorWrites assembles the per-batch descriptor set: the
// material-params/system-data/instance-data sub-slices, every
// non-special material bind, and any remaining shader-declared binding a
// global slot can back-fill, validating the full set is satisfied (§4.J
// step 3).
func (rl *RenderList) buildDescriptorWrites(it *RenderItem, bindPool *BindPool, globals *GlobalBinds, matBuf vk.Buffer, matBase uint32, sysBuf vk.Buffer, sysOff uint32, sysSize uint32, instBuf vk.Buffer, instBase uint32) ([]descriptorWrite, bool) {
	shader := it.Material.Shader
	var writes []descriptorWrite
	satisfied := make(map[uint32]bool)

	// Blit/immediate draws that carry no system or instance payload pass
	// a nil buffer here; the reserved slots stay unbound, which is valid
	// since buildDescriptorSetLayout marks them partially-bound.
	if sysBuf != nil {
		writes = append(writes, descriptorWrite{
			binding:  reservedSystemSlot,
			descType: vk.DescriptorTypeUniformBuffer,
			bufferInfo: &vk.DescriptorBufferInfo{
				Buffer: sysBuf,
				Offset: vk.DeviceSize(sysOff),
				Range:  vk.DeviceSize(sysSize),
			},
		})
	}
	if instBuf != nil {
		writes = append(writes, descriptorWrite{
			binding:  reservedInstanceSlot,
			descType: vk.DescriptorTypeStorageBuffer,
			bufferInfo: &vk.DescriptorBufferInfo{
				Buffer: instBuf,
				Offset: vk.DeviceSize(instBase),
				Range:  vk.WholeSize,
			},
		})
	}

	if gb := shader.GlobalBuffer(); gb != nil && matBuf != nil {
		slot := shaderfile.BindShiftBuffer + uint32(gb.Bind.Slot)
		writes = append(writes, descriptorWrite{
			binding:  slot,
			descType: vk.DescriptorTypeUniformBuffer,
			bufferInfo: &vk.DescriptorBufferInfo{
				Buffer: matBuf,
				Offset: vk.DeviceSize(matBase + it.MaterialDataOffset),
				Range:  vk.DeviceSize(it.MaterialDataSize),
			},
		})
		satisfied[slot] = true
	}

	bindPool.Lock()
	for i := 0; i < it.bindCount; i++ {
		rec := bindPool.GetLocked(it.bindStart + i)
		entry := it.Material.binds[i]
		descType, shift, ok := bindSlotDescriptorType(entry.bind.RegisterType)
		if !ok {
			continue
		}
		slot := shift + uint32(entry.bind.Slot)
		switch {
		case rec.Texture != nil:
			writes = append(writes, descriptorWrite{
				binding:  slot,
				descType: descType,
				imageInfo: &vk.DescriptorImageInfo{
					Sampler:     rec.Sampler,
					ImageView:   rec.Texture.View,
					ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
				},
			})
			satisfied[slot] = true
		case rec.Buffer != nil:
			writes = append(writes, descriptorWrite{
				binding:  slot,
				descType: descType,
				bufferInfo: &vk.DescriptorBufferInfo{
					Buffer: rec.Buffer.Handle,
					Offset: 0,
					Range:  vk.DeviceSize(rec.Buffer.Size),
				},
			})
			satisfied[slot] = true
		}
	}
	bindPool.Unlock()

	ok := true
	for _, buf := range shader.Buffers {
		if buf.NameHash == shaderfile.HashName(shaderfile.GlobalBufferName) {
			continue
		}
		slot := buf.Bind.DescriptorSlot()
		if satisfied[slot] {
			continue
		}
		if w, filled := globalWrite(globals, buf.Bind); filled {
			writes = append(writes, w)
			satisfied[slot] = true
			continue
		}
		ok = false
	}
	for _, res := range shader.Resources {
		slot := res.Bind.DescriptorSlot()
		if satisfied[slot] {
			continue
		}
		if w, filled := globalWrite(globals, res.Bind); filled {
			writes = append(writes, w)
			satisfied[slot] = true
			continue
		}
		ok = false
	}
	if !ok {
		return nil, false
	}

	return writes, true
}

// globalWrite back-fills one shader binding from the renderer's global
// slot arrays: register bN from Constants[N], register tN from
// Textures[N]. UAV registers have no global source.
func globalWrite(globals *GlobalBinds, bind shaderfile.Bind) (descriptorWrite, bool) {
	if globals == nil || int(bind.Slot) >= MaxGlobalSlots {
		return descriptorWrite{}, false
	}
	switch bind.RegisterType {
	case shaderfile.RegisterConstant:
		buf := globals.Constants[bind.Slot]
		if buf == nil || buf.Handle == nil {
			return descriptorWrite{}, false
		}
		return descriptorWrite{
			binding:  bind.DescriptorSlot(),
			descType: vk.DescriptorTypeUniformBuffer,
			bufferInfo: &vk.DescriptorBufferInfo{
				Buffer: buf.Handle,
				Offset: 0,
				Range:  vk.DeviceSize(buf.Size),
			},
		}, true
	case shaderfile.RegisterTexture:
		tex := globals.Textures[bind.Slot]
		if tex == nil || tex.View == nil {
			return descriptorWrite{}, false
		}
		return descriptorWrite{
			binding:  bind.DescriptorSlot(),
			descType: vk.DescriptorTypeCombinedImageSampler,
			imageInfo: &vk.DescriptorImageInfo{
				Sampler:     tex.Sampler,
				ImageView:   tex.View,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			},
		}, true
	}
	return descriptorWrite{}, false
}
