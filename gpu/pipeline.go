package gpu

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/internal/core"
	"github.com/skforge/skrender/shaderfile"
)

// StencilFace is the simplified per-face stencil description named in
// §4.H ("stencil_front/back: {compare, op, compare_mask, write_mask,
// reference}"). op applies to the stencil pass; fail and depth-fail
// always use KEEP, matching the source's single-op simplification.
type StencilFace struct {
	Compare     vk.CompareOp
	Op          vk.StencilOp
	CompareMask uint32
	WriteMask   uint32
	Reference   uint32
}

// BlendState is the color-blend half of a MaterialState.
type BlendState struct {
	Enabled    bool
	SrcColor   vk.BlendFactor
	DstColor   vk.BlendFactor
	ColorOp    vk.BlendOp
	SrcAlpha   vk.BlendFactor
	DstAlpha   vk.BlendFactor
	AlphaOp    vk.BlendOp
}

// WriteMask is the bitset of attachments a material writes.
type WriteMask uint32

const (
	WriteMaskColor WriteMask = 1 << iota
	WriteMaskDepth
)

// MaterialState is the pipeline-state tuple §4.K hashes for the
// material-pipeline key.
type MaterialState struct {
	Cull            vk.CullModeFlagBits
	FrontFace       vk.FrontFace
	PolygonMode     vk.PolygonMode
	Topology        vk.PrimitiveTopology
	DepthTest       vk.CompareOp
	DepthWrite      bool
	WriteMask       WriteMask
	Blend           BlendState
	AlphaToCoverage bool
	StencilFront    StencilFace
	StencilBack     StencilFace
	QueueOffset     int32
}

// DefaultMaterialState returns the defaults enumerated in §4.H.
func DefaultMaterialState() MaterialState {
	defaultStencil := StencilFace{Compare: vk.CompareOpAlways, Op: vk.StencilOpKeep, CompareMask: 0xff, WriteMask: 0xff, Reference: 0}
	return MaterialState{
		Cull:        vk.CullModeBackBit,
		FrontFace:   vk.FrontFaceCounterClockwise,
		PolygonMode: vk.PolygonModeFill,
		Topology:    vk.PrimitiveTopologyTriangleList,
		DepthTest:   vk.CompareOpLess,
		DepthWrite:  true,
		WriteMask:   WriteMaskColor | WriteMaskDepth,
		Blend:       BlendState{Enabled: false},
		StencilFront: defaultStencil,
		StencilBack:  defaultStencil,
		QueueOffset:  0,
	}
}

// RenderPassKey identifies a render pass shape (§4.K.1). It is plain and
// comparable, usable directly as a map key.
type RenderPassKey struct {
	ColorFormat   vk.Format
	DepthFormat   vk.Format
	ResolveFormat vk.Format
	Samples       vk.SampleCountFlagBits
	DepthStoreOp  vk.AttachmentStoreOp
	ColorLoadOp   vk.AttachmentLoadOp
	ClearDepth    bool
}

type renderPassEntry struct {
	idx        int32
	key        RenderPassKey
	renderPass vk.RenderPass
}

type vertexFormatEntry struct {
	idx        int32
	components []shaderfile.VertexComponent
	bindings   []vk.VertexInputBindingDescription
	attributes []vk.VertexInputAttributeDescription
}

type materialEntry struct {
	idx                 int32
	state               MaterialState
	shader              *shaderfile.ShaderFile
	descriptorSetLayout vk.DescriptorSetLayout
	pipelineLayout      vk.PipelineLayout
	shaderModules       []vk.ShaderModule
	stages              []vk.PipelineShaderStageCreateInfo
}

type pipelineKey struct {
	materialIdx   int32
	renderPassIdx int32
	vertIdx       int32
}

// PipelineCache is the three-table keyed cache described in §4.K:
// render-pass shapes, vertex-input formats, and material pipeline
// states, composed into a final (material, render-pass, vertex-format)
// -> VkPipeline lookup. A single lock is held open across a render pass
// (Lock at begin_pass, Unlock at end_pass) so draws never reacquire it.
type PipelineCache struct {
	mu  sync.Mutex
	ctx *Context
	dl  *DestroyList

	renderPasses map[RenderPassKey]*renderPassEntry
	nextRPIdx    int32

	vertexFormats map[uint64]*vertexFormatEntry
	nextVertIdx   int32

	materials       map[uint64]*materialEntry
	nextMaterialIdx int32

	// descriptorLayouts caches the derived set layout per shader (by name
	// hash): the layout depends only on the shader's binding set, so two
	// materials differing in pipeline state still share it.
	descriptorLayouts map[uint64]vk.DescriptorSetLayout

	pipelines map[pipelineKey]vk.Pipeline

	computePipelines map[int32]vk.Pipeline
}

// NewPipelineCache creates an empty cache. dl receives every Vulkan
// object the cache creates, so the cache's lifetime is tied to whatever
// scope owns dl (typically the Renderer).
func NewPipelineCache(ctx *Context, dl *DestroyList) *PipelineCache {
	return &PipelineCache{
		ctx:           ctx,
		dl:            dl,
		renderPasses:      make(map[RenderPassKey]*renderPassEntry),
		vertexFormats:     make(map[uint64]*vertexFormatEntry),
		materials:         make(map[uint64]*materialEntry),
		pipelines:         make(map[pipelineKey]vk.Pipeline),
		computePipelines:  make(map[int32]vk.Pipeline),
		descriptorLayouts: make(map[uint64]vk.DescriptorSetLayout),
	}
}

// Lock/Unlock implement pipeline_lock/pipeline_unlock (§4.K).
func (pc *PipelineCache) Lock()   { pc.mu.Lock() }
func (pc *PipelineCache) Unlock() { pc.mu.Unlock() }

// Len reports the number of compiled pipelines, for introspection and
// tests (§9 Open Question: eviction left to the host).
func (pc *PipelineCache) Len() int { return len(pc.pipelines) }

// Evict drops every compiled pipeline referencing materialIdx, queuing
// their VkPipeline handles for destruction. The cache itself performs no
// automatic eviction (§9 Open Question decision).
func (pc *PipelineCache) Evict(materialIdx int32) {
	for k, p := range pc.pipelines {
		if k.materialIdx == materialIdx {
			pc.dl.PushPipeline(p)
			delete(pc.pipelines, k)
		}
	}
	if p, ok := pc.computePipelines[materialIdx]; ok {
		pc.dl.PushPipeline(p)
		delete(pc.computePipelines, materialIdx)
	}
}

// RegisterRenderPass returns the stable index for key, building a render
// pass on first use. Attachment order when present: color, resolve,
// depth-stencil (§4.K.1).
func (pc *PipelineCache) RegisterRenderPass(key RenderPassKey) (int32, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if e, ok := pc.renderPasses[key]; ok {
		return e.idx, nil
	}

	var attachments []vk.AttachmentDescription
	var colorRef, resolveRef *vk.AttachmentReference
	var depthRef *vk.AttachmentReference

	if key.ColorFormat != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.ColorFormat,
			Samples:        key.Samples,
			LoadOp:         key.ColorLoadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorRef = &vk.AttachmentReference{Attachment: uint32(len(attachments) - 1), Layout: vk.ImageLayoutColorAttachmentOptimal}
	}
	if key.ResolveFormat != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.ResolveFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpDontCare,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		resolveRef = &vk.AttachmentReference{Attachment: uint32(len(attachments) - 1), Layout: vk.ImageLayoutColorAttachmentOptimal}
	}
	if key.DepthFormat != vk.FormatUndefined {
		depthLoadOp := vk.AttachmentLoadOpLoad
		if key.ClearDepth {
			depthLoadOp = vk.AttachmentLoadOpClear
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.DepthFormat,
			Samples:        key.Samples,
			LoadOp:         depthLoadOp,
			StoreOp:        key.DepthStoreOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		depthRef = &vk.AttachmentReference{Attachment: uint32(len(attachments) - 1), Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
	}

	subpass := vk.SubpassDescription{PipelineBindPoint: vk.PipelineBindPointGraphics}
	if colorRef != nil {
		subpass.ColorAttachmentCount = 1
		subpass.PColorAttachments = []vk.AttachmentReference{*colorRef}
	}
	if resolveRef != nil {
		subpass.PResolveAttachments = []vk.AttachmentReference{*resolveRef}
	}
	if depthRef != nil {
		subpass.PDepthStencilAttachment = depthRef
	}

	passInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}
	var rp vk.RenderPass
	if res := vk.CreateRenderPass(pc.ctx.Device, &passInfo, pc.ctx.Allocator, &rp); res != vk.Success {
		return 0, fmt.Errorf("vkCreateRenderPass failed: %s", vk.Error(res))
	}

	idx := pc.nextRPIdx
	pc.nextRPIdx++
	pc.renderPasses[key] = &renderPassEntry{idx: idx, key: key, renderPass: rp}
	return idx, nil
}

func hashVertexComponents(components []shaderfile.VertexComponent) uint64 {
	key := ""
	for _, c := range components {
		key += fmt.Sprintf("%d:%d:%d:%d|", c.Format, c.Count, c.Semantic, c.SemanticSlot)
	}
	return shaderfile.HashName(key)
}

// RegisterVertexFormat returns the stable index for an ordered vertex
// component list, deriving one binding (stream 0, all components
// interleaved) and its attribute descriptions on first use (§4.K.2).
// Multi-stream meshes register their own per-stream formats through
// NewMesh and Mesh.AddVertexStream, which call this once per stream.
func (pc *PipelineCache) RegisterVertexFormat(components []shaderfile.VertexComponent, stride uint32) (int32, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	key := hashVertexComponents(components)
	if e, ok := pc.vertexFormats[key]; ok {
		return e.idx, nil
	}

	attrs := make([]vk.VertexInputAttributeDescription, len(components))
	offset := uint32(0)
	for i, c := range components {
		attrs[i] = vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   vk.Format(c.Format),
			Offset:   offset,
		}
		offset += formatByteSize(vk.Format(c.Format)) * uint32(c.Count)
	}
	bindings := []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    stride,
		InputRate: vk.VertexInputRateVertex,
	}}

	idx := pc.nextVertIdx
	pc.nextVertIdx++
	pc.vertexFormats[key] = &vertexFormatEntry{idx: idx, components: components, bindings: bindings, attributes: attrs}
	return idx, nil
}

// formatByteSize is a small lookup covering the component formats the
// mesh/vertex layer actually produces; unknown formats are treated as
// 4 bytes/component (matching the common float/uint32 case).
func formatByteSize(format vk.Format) uint32 {
	switch format {
	case vk.FormatR32Sfloat, vk.FormatR32Uint, vk.FormatR32Sint:
		return 4
	case vk.FormatR16Sfloat, vk.FormatR16Uint, vk.FormatR16Sint, vk.FormatR8Unorm, vk.FormatR8Uint:
		return 2
	}
	return 4
}

// Reserved binding slots for the engine-internal system-data and
// instance-data sub-slices every draw binds alongside its material's
// declared bindings (§4.J "global/material/system/instance descriptor
// composition"). Chosen far outside the range a shader's own register
// slots occupy so they never collide with a material's own bindings.
const (
	reservedSystemSlot   = 0xf000
	reservedInstanceSlot = 0xf001
)

func bindSlotDescriptorType(rt shaderfile.RegisterType) (vk.DescriptorType, uint32, bool) {
	switch rt {
	case shaderfile.RegisterConstant:
		return vk.DescriptorTypeUniformBuffer, shaderfile.BindShiftBuffer, true
	case shaderfile.RegisterTexture:
		return vk.DescriptorTypeCombinedImageSampler, shaderfile.BindShiftTexture, true
	case shaderfile.RegisterReadBuffer:
		return vk.DescriptorTypeStorageBuffer, shaderfile.BindShiftTexture, true
	case shaderfile.RegisterReadWrite:
		return vk.DescriptorTypeStorageBuffer, shaderfile.BindShiftUAV, true
	case shaderfile.RegisterReadWriteTex:
		return vk.DescriptorTypeStorageImage, shaderfile.BindShiftUAV, true
	}
	return 0, 0, false
}

func stageFlags(bits uint8) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlags
	if bits&(1<<shaderfile.StageVertex) != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	}
	if bits&(1<<shaderfile.StagePixel) != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	}
	if bits&(1<<shaderfile.StageCompute) != 0 {
		flags |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return flags
}

// buildDescriptorSetLayout derives the single descriptor-set layout
// matching shader's full binding set, per §4.K's register-type mapping.
func buildDescriptorSetLayout(ctx *Context, shader *shaderfile.ShaderFile) (vk.DescriptorSetLayout, error) {
	var bindings []vk.DescriptorSetLayoutBinding
	seen := make(map[uint32]bool)

	addBind := func(b shaderfile.Bind) {
		descType, shift, ok := bindSlotDescriptorType(b.RegisterType)
		if !ok {
			return
		}
		slot := shift + uint32(b.Slot)
		if seen[slot] {
			return
		}
		seen[slot] = true
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         slot,
			DescriptorType:  descType,
			DescriptorCount: 1,
			StageFlags:      stageFlags(b.StageBits),
		})
	}

	for _, buf := range shader.Buffers {
		addBind(buf.Bind)
	}
	for _, res := range shader.Resources {
		addBind(res.Bind)
	}

	bindings = append(bindings,
		vk.DescriptorSetLayoutBinding{
			Binding:         reservedSystemSlot,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
		vk.DescriptorSetLayoutBinding{
			Binding:         reservedInstanceSlot,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		},
	)

	flags := make([]vk.DescriptorBindingFlags, len(bindings))
	for i := range flags {
		flags[i] = vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit)
	}
	flagsInfo := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
		SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
		BindingCount:  uint32(len(flags)),
		PBindingFlags: flags,
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
		PNext:        unsafe.Pointer(&flagsInfo),
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(ctx.Device, &layoutInfo, ctx.Allocator, &layout); res != vk.Success {
		return nil, fmt.Errorf("vkCreateDescriptorSetLayout failed: %s", vk.Error(res))
	}
	return layout, nil
}

func hashMaterialState(shader *shaderfile.ShaderFile, state MaterialState) uint64 {
	key := fmt.Sprintf("%s|%+v", shader.Name, state)
	return shaderfile.HashName(key)
}

// RegisterMaterial derives the descriptor-set layout and pipeline layout
// for (shader, state) and returns a stable material-pipeline index,
// per §4.H/§4.K.3. Re-registering a logically identical (shader, state)
// pair returns the same index (the cache looks up by the state-tuple
// hash), matching §4.H's "logically identical materials share the key".
func (pc *PipelineCache) RegisterMaterial(shader *shaderfile.ShaderFile, state MaterialState) (int32, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	key := hashMaterialState(shader, state)
	if e, ok := pc.materials[key]; ok {
		return e.idx, nil
	}

	layoutKey := shaderfile.HashName(shader.Name)
	descLayout, cached := pc.descriptorLayouts[layoutKey]
	if !cached {
		var err error
		descLayout, err = buildDescriptorSetLayout(pc.ctx, shader)
		if err != nil {
			return 0, err
		}
		pc.descriptorLayouts[layoutKey] = descLayout
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{descLayout},
	}
	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(pc.ctx.Device, &layoutInfo, pc.ctx.Allocator, &pipelineLayout); res != vk.Success {
		return 0, fmt.Errorf("vkCreatePipelineLayout failed: %s", vk.Error(res))
	}

	var shaderModules []vk.ShaderModule
	var stages []vk.PipelineShaderStageCreateInfo
	for _, stageRec := range shader.Stages {
		moduleInfo := vk.ShaderModuleCreateInfo{
			SType:    vk.StructureTypeShaderModuleCreateInfo,
			CodeSize: uint(len(stageRec.Code)),
			PCode:    bytesToUint32Slice(stageRec.Code),
		}
		var module vk.ShaderModule
		if res := vk.CreateShaderModule(pc.ctx.Device, &moduleInfo, pc.ctx.Allocator, &module); res != vk.Success {
			for _, m := range shaderModules {
				pc.dl.PushShaderModule(m)
			}
			// descLayout stays: it lives in the per-shader cache and may be
			// serving other materials.
			pc.dl.PushPipelineLayout(pipelineLayout)
			return 0, fmt.Errorf("vkCreateShaderModule failed: %s", vk.Error(res))
		}
		shaderModules = append(shaderModules, module)
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vulkanStageBit(stageRec.Stage),
			Module: module,
			PName:  "main\x00",
		})
	}

	idx := pc.nextMaterialIdx
	pc.nextMaterialIdx++
	pc.materials[key] = &materialEntry{
		idx:                 idx,
		state:               state,
		shader:              shader,
		descriptorSetLayout: descLayout,
		pipelineLayout:      pipelineLayout,
		shaderModules:       shaderModules,
		stages:              stages,
	}
	return idx, nil
}

func vulkanStageBit(s shaderfile.Stage) vk.ShaderStageFlagBits {
	switch s {
	case shaderfile.StageVertex:
		return vk.ShaderStageVertexBit
	case shaderfile.StagePixel:
		return vk.ShaderStageFragmentBit
	case shaderfile.StageCompute:
		return vk.ShaderStageComputeBit
	}
	return vk.ShaderStageVertexBit
}

func bytesToUint32Slice(b []byte) []uint32 {
	out := make([]uint32, (len(b)+3)/4)
	for i := range out {
		var v uint32
		for j := 0; j < 4; j++ {
			idx := i*4 + j
			if idx < len(b) {
				v |= uint32(b[idx]) << (8 * j)
			}
		}
		out[i] = v
	}
	return out
}

// renderPassHandle returns the vk.RenderPass registered for idx, used by
// the renderer to build framebuffers and begin-render-pass info against
// the pass this cache already compiled pipelines for.
func (pc *PipelineCache) renderPassHandle(idx int32) (vk.RenderPass, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, e := range pc.renderPasses {
		if e.idx == idx {
			return e.renderPass, true
		}
	}
	return nil, false
}

// MaterialPipelineLayout returns the pipeline layout and descriptor-set
// layout registered for materialIdx, used by the render list to build
// descriptor writes.
func (pc *PipelineCache) MaterialPipelineLayout(materialIdx int32) (vk.PipelineLayout, vk.DescriptorSetLayout, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, e := range pc.materials {
		if e.idx == materialIdx {
			return e.pipelineLayout, e.descriptorSetLayout, true
		}
	}
	return nil, nil, false
}

// Get returns the compiled pipeline for the (material, render-pass,
// vertex-format) triple, building it on miss (§4.K). Callers must hold
// the cache lock (Lock/Unlock) across the render pass this is used
// within.
func (pc *PipelineCache) Get(materialIdx, renderPassIdx, vertIdx int32) (vk.Pipeline, error) {
	key := pipelineKey{materialIdx: materialIdx, renderPassIdx: renderPassIdx, vertIdx: vertIdx}
	if p, ok := pc.pipelines[key]; ok {
		return p, nil
	}

	var mat *materialEntry
	for _, e := range pc.materials {
		if e.idx == materialIdx {
			mat = e
			break
		}
	}
	var rp *renderPassEntry
	for _, e := range pc.renderPasses {
		if e.idx == renderPassIdx {
			rp = e
			break
		}
	}
	var vf *vertexFormatEntry
	for _, e := range pc.vertexFormats {
		if e.idx == vertIdx {
			vf = e
			break
		}
	}
	if mat == nil || rp == nil || vf == nil {
		return nil, fmt.Errorf("%w: unregistered (material=%d, renderpass=%d, vertex=%d)", core.ErrPipelineCompile, materialIdx, renderPassIdx, vertIdx)
	}

	p, err := buildGraphicsPipeline(pc.ctx, mat, rp, vf)
	if err != nil {
		return nil, err
	}
	pc.pipelines[key] = p
	return p, nil
}

// GetCompute returns the compute pipeline for a registered material whose
// shader carries a compute stage, building it on miss. Unlike Get, this
// takes the cache lock itself: compute dispatches (mip generation,
// material-driven kernels) happen outside any render pass, so no caller
// already holds it.
func (pc *PipelineCache) GetCompute(materialIdx int32) (vk.Pipeline, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if p, ok := pc.computePipelines[materialIdx]; ok {
		return p, nil
	}

	var mat *materialEntry
	for _, e := range pc.materials {
		if e.idx == materialIdx {
			mat = e
			break
		}
	}
	if mat == nil {
		return nil, fmt.Errorf("%w: unregistered material %d", core.ErrPipelineCompile, materialIdx)
	}
	var stage *vk.PipelineShaderStageCreateInfo
	for i := range mat.stages {
		if mat.stages[i].Stage == vk.ShaderStageComputeBit {
			stage = &mat.stages[i]
			break
		}
	}
	if stage == nil {
		return nil, fmt.Errorf("%w: shader %q has no compute stage", core.ErrPipelineCompile, mat.shader.Name)
	}

	createInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              *stage,
		Layout:             mat.pipelineLayout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(pc.ctx.Device, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, pc.ctx.Allocator, pipelines); res != vk.Success {
		return nil, fmt.Errorf("%w: %s", core.ErrPipelineCompile, vk.Error(res))
	}
	pc.computePipelines[materialIdx] = pipelines[0]
	return pipelines[0], nil
}

func buildGraphicsPipeline(ctx *Context, mat *materialEntry, rp *renderPassEntry, vf *vertexFormatEntry) (vk.Pipeline, error) {
	state := mat.state

	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(vf.bindings)),
		PVertexBindingDescriptions:      vf.bindings,
		VertexAttributeDescriptionCount: uint32(len(vf.attributes)),
		PVertexAttributeDescriptions:    vf.attributes,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: state.Topology,
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: state.PolygonMode,
		CullMode:    vk.CullModeFlags(state.Cull),
		FrontFace:   state.FrontFace,
		LineWidth:   1.0,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples:  rp.key.Samples,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: boolToVkBool(state.AlphaToCoverage),
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.True,
		DepthWriteEnable:      boolToVkBool(state.DepthWrite),
		DepthCompareOp:        state.DepthTest,
		StencilTestEnable:     vk.False,
		Front: vk.StencilOpState{
			FailOp: vk.StencilOpKeep, PassOp: state.StencilFront.Op, DepthFailOp: vk.StencilOpKeep,
			CompareOp: state.StencilFront.Compare, CompareMask: state.StencilFront.CompareMask,
			WriteMask: state.StencilFront.WriteMask, Reference: state.StencilFront.Reference,
		},
		Back: vk.StencilOpState{
			FailOp: vk.StencilOpKeep, PassOp: state.StencilBack.Op, DepthFailOp: vk.StencilOpKeep,
			CompareOp: state.StencilBack.Compare, CompareMask: state.StencilBack.CompareMask,
			WriteMask: state.StencilBack.WriteMask, Reference: state.StencilBack.Reference,
		},
	}
	if rp.key.DepthFormat == vk.FormatUndefined {
		depthStencil.DepthTestEnable = vk.False
	}

	colorWriteMask := vk.ColorComponentFlags(0)
	if state.WriteMask&WriteMaskColor != 0 {
		colorWriteMask = vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit)
	}
	blendAttachment := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         boolToVkBool(state.Blend.Enabled),
		SrcColorBlendFactor: state.Blend.SrcColor,
		DstColorBlendFactor: state.Blend.DstColor,
		ColorBlendOp:        state.Blend.ColorOp,
		SrcAlphaBlendFactor: state.Blend.SrcAlpha,
		DstAlphaBlendFactor: state.Blend.DstAlpha,
		AlphaBlendOp:        state.Blend.AlphaOp,
		ColorWriteMask:      colorWriteMask,
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blendAttachment},
	}

	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(mat.stages)),
		PStages:             mat.stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamicState,
		Layout:              mat.pipelineLayout,
		RenderPass:          rp.renderPass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(ctx.Device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{createInfo}, ctx.Allocator, pipelines); res != vk.Success {
		return nil, fmt.Errorf("%w: %s", core.ErrPipelineCompile, vk.Error(res))
	}
	return pipelines[0], nil
}

func boolToVkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
