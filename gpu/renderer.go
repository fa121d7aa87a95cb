package gpu

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/internal/core"
)

// Renderer is the frame-pipeline façade (§4.M): it owns the thread this
// frame is recorded on, the pipeline/render-pass cache, the bind pool,
// the deferred transition queue, and the GPU timestamp ring, and
// sequences begin/draw/blit/end into the calls the lower layers expose.
type Renderer struct {
	Ctx         *Context
	Threads     *ThreadTable
	Cache       *PipelineCache
	BindPool    *BindPool
	Transitions *TransitionQueue
	DestroyList *DestroyList

	thread *ThreadHandle
	cmd    *CmdContext

	globals GlobalBinds

	emptyVertexFormat int32

	queryPool         vk.QueryPool
	timestampPeriodNs float64
	frameTimestamps   [][2]uint64
	timestampsValid   []bool

	currentColor         *Texture
	currentDepth         *Texture
	currentResolve       *Texture
	currentRenderPassIdx int32
	currentFBWithDepth   bool

	// frameClock times wall-clock CPU frame duration (FrameBegin to
	// FrameEnd) as a cheap companion to the GPU timestamp ring — useful
	// for spotting CPU-bound frames the GPU timer alone can't reveal.
	frameClock      *core.Clock
	lastFrameTimeMs float64
}

// NewRenderer creates the GPU timestamp query pool (one pair of slots
// per flight index, §12.5) and returns a Renderer bound to thread for
// frame recording.
func NewRenderer(ctx *Context, threads *ThreadTable, thread *ThreadHandle, cache *PipelineCache, bindPool *BindPool, dl *DestroyList) (*Renderer, error) {
	n := ctx.MaxFramesInFlight
	poolInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: n * 2,
	}
	var pool vk.QueryPool
	if res := vk.CreateQueryPool(ctx.Device, &poolInfo, ctx.Allocator, &pool); res != vk.Success {
		return nil, fmt.Errorf("vkCreateQueryPool failed: %s", vk.Error(res))
	}

	emptyVF, err := cache.RegisterVertexFormat(nil, 0)
	if err != nil {
		vk.DestroyQueryPool(ctx.Device, pool, ctx.Allocator)
		return nil, err
	}

	r := &Renderer{
		Ctx:               ctx,
		Threads:           threads,
		Cache:             cache,
		BindPool:          bindPool,
		Transitions:       NewTransitionQueue(),
		DestroyList:       dl,
		thread:            thread,
		emptyVertexFormat: emptyVF,
		queryPool:         pool,
		timestampPeriodNs: float64(ctx.Properties.Limits.TimestampPeriod),
		frameTimestamps:   make([][2]uint64, n),
		timestampsValid:   make([]bool, n),
		frameClock:        core.NewClock(),
	}
	r.frameClock.Start()
	return r, nil
}

// SetGlobalTexture records tex into the bounded global texture array
// (§4.M) and enqueues it for a shader-read transition before the next
// begin_pass flushes the queue. A nil tex clears the slot without
// enqueuing anything. At draw time the slot back-fills register
// t<slot> for any material whose own bind range leaves it unsatisfied.
func (r *Renderer) SetGlobalTexture(slot int, tex *Texture) {
	if slot < 0 || slot >= MaxGlobalSlots {
		core.LogCritical("set_global_texture: slot %d out of range (max %d)", slot, MaxGlobalSlots)
		return
	}
	r.globals.Textures[slot] = tex
	if tex != nil {
		r.Transitions.Enqueue(tex, TransitionShaderRead)
	}
}

// SetGlobalConstants records buffer into the bounded global constant
// array (§4.M); at draw time the slot back-fills register b<slot>. A
// nil buffer clears the slot.
func (r *Renderer) SetGlobalConstants(slot int, buffer *Buffer) {
	if slot < 0 || slot >= MaxGlobalSlots {
		core.LogCritical("set_global_constants: slot %d out of range (max %d)", slot, MaxGlobalSlots)
		return
	}
	r.globals.Constants[slot] = buffer
}

// FrameBegin opens this thread's command batch and writes the frame's
// start timestamp at TOP_OF_PIPE into this flight index's query pair
// (§4.M).
func (r *Renderer) FrameBegin() error {
	c, err := r.Threads.CmdBegin(r.thread)
	if err != nil {
		return err
	}
	flight := r.Ctx.FlightIndex
	vk.CmdResetQueryPool(c.Handle, r.queryPool, flight*2, 2)
	vk.CmdWriteTimestamp(c.Handle, vk.PipelineStageTopOfPipeBit, r.queryPool, flight*2)

	// Everything submitted under this flight index N frames ago has been
	// fence-waited by now, so its bump regions can rewind (§4.E).
	if constBump, err := r.Threads.ConstBump(r.thread); err == nil {
		constBump.Reset(flight)
	}
	if storageBump, err := r.Threads.StorageBump(r.thread); err == nil {
		storageBump.Reset(flight)
	}

	r.cmd = c
	r.frameClock.Update()
	r.lastFrameTimeMs = r.frameClock.Elapsed() / 1e6
	r.frameClock.Start()
	return nil
}

func renderPassIdentity(colorFmt, depthFmt, resolveFmt vk.Format, samples vk.SampleCountFlagBits) int {
	return int(colorFmt)<<16 ^ int(depthFmt)<<8 ^ int(resolveFmt) ^ int(samples)<<24
}

// BeginPass acquires the current command, flushes queued texture
// transitions, resolves the render-pass/framebuffer for (color, depth,
// resolve), transitions a writeable depth target, and begins the render
// pass (§4.M).
func (r *Renderer) BeginPass(color, depth, resolve *Texture, clearColor, clearDepth bool, clearColorValue [4]float32, clearDepthValue float32, clearStencilValue uint32) error {
	c, err := r.Threads.CmdAcquire(r.thread)
	if err != nil {
		return err
	}
	r.Transitions.Flush(c.Handle)

	for _, tex := range []*Texture{color, depth, resolve} {
		if tex != nil {
			ApplyTransientDiscard(tex)
		}
	}

	key := RenderPassKey{ClearDepth: clearDepth, Samples: vk.SampleCount1Bit}
	if color != nil {
		key.ColorFormat = color.Format
		key.Samples = color.Samples
		key.ColorLoadOp = vk.AttachmentLoadOpLoad
		if clearColor {
			key.ColorLoadOp = vk.AttachmentLoadOpClear
		}
	}
	if depth != nil {
		key.DepthFormat = depth.Format
		key.Samples = depth.Samples
		key.DepthStoreOp = vk.AttachmentStoreOpStore
	}
	if resolve != nil {
		key.ResolveFormat = resolve.Format
	}

	rpIdx, err := r.Cache.RegisterRenderPass(key)
	if err != nil {
		return err
	}

	withDepth := depth != nil
	passIdentity := renderPassIdentity(key.ColorFormat, key.DepthFormat, key.ResolveFormat, key.Samples)

	var fb vk.Framebuffer
	cacheTex := color
	if cacheTex == nil {
		cacheTex = depth
	}
	if cached, ok := cacheTex.Framebuffer(withDepth, passIdentity); ok {
		fb = cached
	} else {
		var attachments []vk.ImageView
		width, height := cacheTex.Width, cacheTex.Height
		if color != nil {
			attachments = append(attachments, color.View)
		}
		if resolve != nil {
			attachments = append(attachments, resolve.View)
		}
		if depth != nil {
			attachments = append(attachments, depth.View)
		}
		fbInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           width,
			Height:          height,
			Layers:          1,
		}
		rp, ok := r.Cache.renderPassHandle(rpIdx)
		if !ok {
			return fmt.Errorf("renderer: render pass %d not registered", rpIdx)
		}
		fbInfo.RenderPass = rp
		if res := vk.CreateFramebuffer(r.Ctx.Device, &fbInfo, r.Ctx.Allocator, &fb); res != vk.Success {
			return fmt.Errorf("vkCreateFramebuffer failed: %s", vk.Error(res))
		}
		cacheTex.SetFramebuffer(withDepth, fb, passIdentity, r.DestroyList)
	}

	r.Cache.Lock()

	if depth != nil && depth.Flags.has(TextureWriteable) {
		layout, stage, access := TransitionDepthAttachment.target()
		Transition(c.Handle, depth, layout, stage, access)
	}

	var clearValues []vk.ClearValue
	if color != nil {
		cv := vk.NewClearValue([]float32{clearColorValue[0], clearColorValue[1], clearColorValue[2], clearColorValue[3]})
		clearValues = append(clearValues, cv)
	}
	if resolve != nil {
		clearValues = append(clearValues, vk.NewClearValue([]float32{0, 0, 0, 0}))
	}
	if depth != nil {
		cv := vk.NewClearDepthStencil(clearDepthValue, clearStencilValue)
		clearValues = append(clearValues, cv)
	}

	width, height := uint32(0), uint32(0)
	if cacheTex != nil {
		width, height = cacheTex.Width, cacheTex.Height
	}
	rp, _ := r.Cache.renderPassHandle(rpIdx)
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp,
		Framebuffer: fb,
		RenderArea:  vk.Rect2D{Extent: vk.Extent2D{Width: width, Height: height}},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(c.Handle, &beginInfo, vk.SubpassContentsInline)

	viewport := vk.Viewport{Width: float32(width), Height: float32(height), MinDepth: 0, MaxDepth: 1}
	scissor := vk.Rect2D{Extent: vk.Extent2D{Width: width, Height: height}}
	vk.CmdSetViewport(c.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(c.Handle, 0, 1, []vk.Rect2D{scissor})

	if color != nil {
		color.TransitionNotifyLayout(vk.ImageLayoutColorAttachmentOptimal, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit))
	}
	if resolve != nil {
		resolve.TransitionNotifyLayout(vk.ImageLayoutColorAttachmentOptimal, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit))
	}

	r.currentColor = color
	r.currentDepth = depth
	r.currentResolve = resolve
	r.currentRenderPassIdx = rpIdx
	r.currentFBWithDepth = withDepth
	r.cmd = c
	return nil
}

// EndPass ends the render pass, transitions readable color/resolve and
// readable non-MSAA depth to shader-read, releases the command, and
// unlocks the pipeline cache (§4.M).
func (r *Renderer) EndPass() error {
	vk.CmdEndRenderPass(r.cmd.Handle)

	if r.currentColor != nil && r.currentColor.Flags.has(TextureReadable) {
		TransitionForShaderRead(r.cmd.Handle, r.currentColor, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	}
	if r.currentResolve != nil && r.currentResolve.Flags.has(TextureReadable) {
		TransitionForShaderRead(r.cmd.Handle, r.currentResolve, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	}
	if r.currentDepth != nil && r.currentDepth.Flags.has(TextureReadable) && r.currentDepth.Samples == vk.SampleCount1Bit {
		TransitionForShaderRead(r.cmd.Handle, r.currentDepth, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
	}

	err := r.Threads.CmdRelease(r.cmd)
	r.Cache.Unlock()
	r.currentColor, r.currentDepth, r.currentResolve = nil, nil, nil
	return err
}

// Draw uploads list and issues its batched draws into the current pass
// (§4.J via §4.M).
func (r *Renderer) Draw(list *RenderList, sysData []byte, instanceMultiplier uint32) error {
	return list.Draw(r.Ctx, r.Threads, r.thread, r.cmd, r.Cache, r.BindPool, &r.globals, r.currentRenderPassIdx, sysData, instanceMultiplier)
}

// SetViewport overrides the full-target viewport BeginPass installed,
// for callers rendering into a sub-rect (§6 pass API).
func (r *Renderer) SetViewport(x, y, w, h float32) {
	if r.cmd == nil {
		core.LogCritical("set_viewport called outside a pass")
		return
	}
	vk.CmdSetViewport(r.cmd.Handle, 0, 1, []vk.Viewport{{X: x, Y: y, Width: w, Height: h, MinDepth: 0, MaxDepth: 1}})
}

// SetScissor overrides the full-target scissor BeginPass installed.
func (r *Renderer) SetScissor(x, y int32, w, h uint32) {
	if r.cmd == nil {
		core.LogCritical("set_scissor called outside a pass")
		return
	}
	vk.CmdSetScissor(r.cmd.Handle, 0, 1, []vk.Rect2D{{Offset: vk.Offset2D{X: x, Y: y}, Extent: vk.Extent2D{Width: w, Height: h}}})
}

// DrawMeshImmediate bypasses render-list sorting/batching for a single
// one-shot draw, e.g. UI (§4.M).
func (r *Renderer) DrawMeshImmediate(mesh *Mesh, material *Material, firstIndex, indexCount uint32, vertexOffset int32, instanceCount uint32) error {
	list := NewRenderList(0, 0)
	list.Add(mesh, material, nil, 0, instanceCount, firstIndex, indexCount, vertexOffset)
	return r.Draw(list, nil, 1)
}

// Blit draws a fullscreen (or cubemap/array-layered) triangle with
// material into to, per §4.M. rect.w==0 is treated as full-image and
// uses DONT_CARE; a partial rect uses LOAD to preserve existing
// content. The temporary framebuffer this allocates has one layer per
// to.LayerCount and attaches to.View directly (no separate attachment
// view is created); it is queued to DestroyList rather than cached on
// to, since a blit target's pass identity is transient.
func (r *Renderer) Blit(material *Material, to *Texture, rect [4]int32) error {
	c, err := r.Threads.CmdAcquire(r.thread)
	if err != nil {
		return err
	}

	full := rect[2] == 0
	loadOp := vk.AttachmentLoadOpDontCare
	if !full {
		loadOp = vk.AttachmentLoadOpLoad
	}
	key := RenderPassKey{ColorFormat: to.Format, Samples: vk.SampleCount1Bit, ColorLoadOp: loadOp}
	rpIdx, err := r.Cache.RegisterRenderPass(key)
	if err != nil {
		return err
	}
	rp, ok := r.Cache.renderPassHandle(rpIdx)
	if !ok {
		return fmt.Errorf("renderer: blit render pass %d not registered", rpIdx)
	}

	layerCount := to.LayerCount
	if layerCount == 0 {
		layerCount = 1
	}
	fbInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{to.View},
		Width:           to.Width,
		Height:          to.Height,
		Layers:          layerCount,
	}
	var fb vk.Framebuffer
	if res := vk.CreateFramebuffer(r.Ctx.Device, &fbInfo, r.Ctx.Allocator, &fb); res != vk.Success {
		return fmt.Errorf("vkCreateFramebuffer failed: %s", vk.Error(res))
	}
	r.DestroyList.PushFramebuffer(fb)

	width, height := to.Width, to.Height
	if !full {
		width, height = uint32(rect[2]), uint32(rect[3])
	}
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: rect[0], Y: rect[1]},
			Extent: vk.Extent2D{Width: width, Height: height},
		},
	}

	r.Cache.Lock()
	defer r.Cache.Unlock()

	vk.CmdBeginRenderPass(c.Handle, &beginInfo, vk.SubpassContentsInline)
	vk.CmdSetViewport(c.Handle, 0, 1, []vk.Viewport{{Width: float32(to.Width), Height: float32(to.Height), MinDepth: 0, MaxDepth: 1}})
	vk.CmdSetScissor(c.Handle, 0, 1, []vk.Rect2D{{Extent: vk.Extent2D{Width: to.Width, Height: to.Height}}})

	pipeline, err := r.Cache.Get(material.PipelineMaterialIdx, rpIdx, r.emptyVertexFormat)
	if err != nil {
		vk.CmdEndRenderPass(c.Handle)
		return err
	}
	pipelineLayout, descLayout, ok := r.Cache.MaterialPipelineLayout(material.PipelineMaterialIdx)
	if !ok {
		vk.CmdEndRenderPass(c.Handle)
		return fmt.Errorf("renderer: no pipeline layout registered for blit material")
	}

	var matBuf vk.Buffer
	var matBase uint32
	if len(material.ParamBuffer) > 0 {
		constBump, err := r.Threads.ConstBump(r.thread)
		if err != nil {
			vk.CmdEndRenderPass(c.Handle)
			return err
		}
		matBuf, matBase, err = constBump.AllocWrite(r.Ctx, r.Ctx.FlightIndex, material.ParamBuffer, c.DestroyList)
		if err != nil {
			vk.CmdEndRenderPass(c.Handle)
			return err
		}
	}

	helper := &RenderList{}
	item := &RenderItem{Material: material, bindStart: material.BindStart, bindCount: material.BindCount, MaterialDataOffset: 0, MaterialDataSize: uint32(len(material.ParamBuffer))}
	writes, ok := helper.buildDescriptorWrites(item, r.BindPool, &r.globals, matBuf, matBase, vk.Buffer(nil), 0, 0, vk.Buffer(nil), 0)
	if ok {
		if err := applyDescriptorWrites(r.Ctx, c, pipelineLayout, descLayout, writes); err != nil {
			core.LogCritical("blit: descriptor update failed: %v", err)
		}
	}

	vk.CmdBindPipeline(c.Handle, vk.PipelineBindPointGraphics, pipeline)
	vk.CmdDraw(c.Handle, 3, layerCount, 0, 0)
	vk.CmdEndRenderPass(c.Handle)

	return r.Threads.CmdRelease(c)
}

// FrameEnd writes the end timestamp, transitions every surface's
// current image to PRESENT_SRC, submits once with each surface's
// acquire/submit semaphores, records the resulting future into each
// surface, advances the flight index, and asynchronously reads back
// the timestamp pair from N frames ago (§4.M).
func (r *Renderer) FrameEnd(surfaces []*Surface) error {
	flight := r.Ctx.FlightIndex
	vk.CmdWriteTimestamp(r.cmd.Handle, vk.PipelineStageBottomOfPipeBit, r.queryPool, flight*2+1)

	for _, s := range surfaces {
		tex := s.images[s.CurrentImage]
		layout, stage, access := TransitionPresent.target()
		Transition(r.cmd.Handle, tex, layout, stage, access)
	}

	wait := make([]vk.Semaphore, len(surfaces))
	waitStages := make([]vk.PipelineStageFlags, len(surfaces))
	signal := make([]vk.Semaphore, len(surfaces))
	for i, s := range surfaces {
		wait[i] = s.AcquireSemaphore()
		waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		signal[i] = s.SubmitSemaphore()
	}

	future, err := r.Threads.CmdEndSubmit(r.thread, wait, waitStages, signal)
	if err != nil {
		return err
	}
	for _, s := range surfaces {
		s.SetFuture(future)
		s.AdvanceFrame()
	}

	r.Ctx.FlightIndex = (flight + 1) % r.Ctx.MaxFramesInFlight
	// Read the pair written N frames back (§4.M), never the pair this
	// very frame just wrote at `flight` — that submission has not had a
	// chance to complete yet and would read back NotReady every time.
	readIdx := (r.Ctx.FlightIndex + 1) % r.Ctx.MaxFramesInFlight
	r.readTimestamps(readIdx)
	return nil
}

// readTimestamps non-blockingly reads back the timestamp pair the flight
// index `idx` wrote N frames ago; on failure the slot is simply left
// invalid rather than stalling the frame.
func (r *Renderer) readTimestamps(idx uint32) {
	var data [2]uint64
	res := vk.GetQueryPoolResults(r.Ctx.Device, r.queryPool, idx*2, 2, 2*8, unsafe.Pointer(&data[0]), 8, vk.QueryResultFlags(vk.QueryResult64Bit))
	if res != vk.Success {
		r.timestampsValid[idx] = false
		return
	}
	r.frameTimestamps[idx] = data
	r.timestampsValid[idx] = true
}

// GetGPUTimeMs returns the most recently resolved frame's GPU time in
// milliseconds, or 0 if no timestamp pair has resolved yet.
func (r *Renderer) GetGPUTimeMs() float64 {
	idx := (r.Ctx.FlightIndex + 1) % r.Ctx.MaxFramesInFlight
	if !r.timestampsValid[idx] {
		return 0
	}
	pair := r.frameTimestamps[idx]
	if pair[1] < pair[0] {
		return 0
	}
	return float64(pair[1]-pair[0]) * r.timestampPeriodNs / 1e6
}

// GetFrameTimeMs returns the wall-clock CPU time of the previous
// FrameBegin-to-FrameBegin interval in milliseconds, complementing
// GetGPUTimeMs with a CPU-side figure.
func (r *Renderer) GetFrameTimeMs() float64 {
	return r.lastFrameTimeMs
}

// Destroy waits for the device idle then releases the timestamp query
// pool.
func (r *Renderer) Destroy() {
	vk.DeviceWaitIdle(r.Ctx.Device)
	if r.queryPool != nil {
		vk.DestroyQueryPool(r.Ctx.Device, r.queryPool, r.Ctx.Allocator)
	}
}

