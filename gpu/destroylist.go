package gpu

import (
	"sync"

	vk "github.com/goki/vulkan"
)

// destroyable is one entry in a DestroyList: a tagged variant with a
// release method, per §9's design note replacing the source's
// FOREACH_DESTROY_TYPE macro + switch dispatch with a trait-like
// interface.
type destroyable interface {
	release(ctx *Context, bp *BindPool)
}

type bufferHandle vk.Buffer
type imageHandle vk.Image
type imageViewHandle vk.ImageView
type samplerHandle vk.Sampler
type framebufferHandle vk.Framebuffer
type renderPassHandle vk.RenderPass
type pipelineHandle vk.Pipeline
type pipelineLayoutHandle vk.PipelineLayout
type pipelineCacheHandle vk.PipelineCache
type descriptorSetLayoutHandle vk.DescriptorSetLayout
type descriptorPoolHandle vk.DescriptorPool
type shaderModuleHandle vk.ShaderModule
type commandPoolHandle vk.CommandPool
type fenceHandle vk.Fence
type semaphoreHandle vk.Semaphore
type queryPoolHandle vk.QueryPool
type swapchainHandle vk.Swapchain
type surfaceHandle vk.Surface
type debugMessengerHandle vk.DebugReportCallback
type memoryHandle vk.DeviceMemory
type ycbcrConversionHandle vk.SamplerYcbcrConversion

type bindPoolSlotsHandle struct {
	start, count int
}

func (h bufferHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyBuffer(ctx.Device, vk.Buffer(h), ctx.Allocator)
}
func (h imageHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyImage(ctx.Device, vk.Image(h), ctx.Allocator)
}
func (h imageViewHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyImageView(ctx.Device, vk.ImageView(h), ctx.Allocator)
}
func (h samplerHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroySampler(ctx.Device, vk.Sampler(h), ctx.Allocator)
}
func (h framebufferHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyFramebuffer(ctx.Device, vk.Framebuffer(h), ctx.Allocator)
}
func (h renderPassHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyRenderPass(ctx.Device, vk.RenderPass(h), ctx.Allocator)
}
func (h pipelineHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyPipeline(ctx.Device, vk.Pipeline(h), ctx.Allocator)
}
func (h pipelineLayoutHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyPipelineLayout(ctx.Device, vk.PipelineLayout(h), ctx.Allocator)
}
func (h pipelineCacheHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyPipelineCache(ctx.Device, vk.PipelineCache(h), ctx.Allocator)
}
func (h descriptorSetLayoutHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyDescriptorSetLayout(ctx.Device, vk.DescriptorSetLayout(h), ctx.Allocator)
}
func (h descriptorPoolHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyDescriptorPool(ctx.Device, vk.DescriptorPool(h), ctx.Allocator)
}
func (h shaderModuleHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyShaderModule(ctx.Device, vk.ShaderModule(h), ctx.Allocator)
}
func (h commandPoolHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyCommandPool(ctx.Device, vk.CommandPool(h), ctx.Allocator)
}
func (h fenceHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyFence(ctx.Device, vk.Fence(h), ctx.Allocator)
}
func (h semaphoreHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroySemaphore(ctx.Device, vk.Semaphore(h), ctx.Allocator)
}
func (h queryPoolHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyQueryPool(ctx.Device, vk.QueryPool(h), ctx.Allocator)
}
func (h swapchainHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroySwapchain(ctx.Device, vk.Swapchain(h), ctx.Allocator)
}
func (h surfaceHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroySurface(ctx.Instance, vk.Surface(h), ctx.Allocator)
}
func (h debugMessengerHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroyDebugReportCallback(ctx.Instance, vk.DebugReportCallback(h), ctx.Allocator)
}
func (h memoryHandle) release(ctx *Context, _ *BindPool) {
	vk.FreeMemory(ctx.Device, vk.DeviceMemory(h), ctx.Allocator)
}
func (h ycbcrConversionHandle) release(ctx *Context, _ *BindPool) {
	vk.DestroySamplerYcbcrConversion(ctx.Device, vk.SamplerYcbcrConversion(h), ctx.Allocator)
}
func (h bindPoolSlotsHandle) release(_ *Context, bp *BindPool) {
	if bp != nil {
		bp.free(h.start, h.count)
	}
}

// DestroyList is an append-only, mutex-protected record of GPU resources
// awaiting release (§4.B). Execute destroys them in reverse insertion
// order so dependents die before their dependencies.
type DestroyList struct {
	mu       sync.Mutex
	items    []destroyable
	bindPool *BindPool
}

// NewDestroyList creates a destroy list. bindPool may be nil if this list
// never needs to release bind-pool ranges.
func NewDestroyList(bindPool *BindPool) *DestroyList {
	return &DestroyList{bindPool: bindPool}
}

func (d *DestroyList) push(item destroyable) {
	d.mu.Lock()
	d.items = append(d.items, item)
	d.mu.Unlock()
}

func (d *DestroyList) PushBuffer(h vk.Buffer)                     { d.push(bufferHandle(h)) }
func (d *DestroyList) PushImage(h vk.Image)                       { d.push(imageHandle(h)) }
func (d *DestroyList) PushImageView(h vk.ImageView)                { d.push(imageViewHandle(h)) }
func (d *DestroyList) PushSampler(h vk.Sampler)                   { d.push(samplerHandle(h)) }
func (d *DestroyList) PushFramebuffer(h vk.Framebuffer)           { d.push(framebufferHandle(h)) }
func (d *DestroyList) PushRenderPass(h vk.RenderPass)             { d.push(renderPassHandle(h)) }
func (d *DestroyList) PushPipeline(h vk.Pipeline)                 { d.push(pipelineHandle(h)) }
func (d *DestroyList) PushPipelineLayout(h vk.PipelineLayout)     { d.push(pipelineLayoutHandle(h)) }
func (d *DestroyList) PushPipelineCache(h vk.PipelineCache)       { d.push(pipelineCacheHandle(h)) }
func (d *DestroyList) PushDescriptorSetLayout(h vk.DescriptorSetLayout) {
	d.push(descriptorSetLayoutHandle(h))
}
func (d *DestroyList) PushDescriptorPool(h vk.DescriptorPool) { d.push(descriptorPoolHandle(h)) }
func (d *DestroyList) PushShaderModule(h vk.ShaderModule)     { d.push(shaderModuleHandle(h)) }
func (d *DestroyList) PushCommandPool(h vk.CommandPool)       { d.push(commandPoolHandle(h)) }
func (d *DestroyList) PushFence(h vk.Fence)                   { d.push(fenceHandle(h)) }
func (d *DestroyList) PushSemaphore(h vk.Semaphore)           { d.push(semaphoreHandle(h)) }
func (d *DestroyList) PushQueryPool(h vk.QueryPool)           { d.push(queryPoolHandle(h)) }
func (d *DestroyList) PushSwapchain(h vk.Swapchain)           { d.push(swapchainHandle(h)) }
func (d *DestroyList) PushSurface(h vk.Surface)               { d.push(surfaceHandle(h)) }
func (d *DestroyList) PushDebugMessenger(h vk.DebugReportCallback) {
	d.push(debugMessengerHandle(h))
}
func (d *DestroyList) PushMemory(h vk.DeviceMemory) { d.push(memoryHandle(h)) }
func (d *DestroyList) PushYcbcrConversion(h vk.SamplerYcbcrConversion) {
	d.push(ycbcrConversionHandle(h))
}
func (d *DestroyList) PushBindPoolSlots(start, count int) {
	d.push(bindPoolSlotsHandle{start: start, count: count})
}

// Execute destroys every queued item in reverse insertion order (LIFO),
// then empties the list. Safe to call from the thread that owns the
// list's associated command slot, while other threads may still be
// appending concurrently.
func (d *DestroyList) Execute(ctx *Context) {
	d.mu.Lock()
	items := d.items
	d.items = nil
	d.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].release(ctx, d.bindPool)
	}
}

// Clear empties the list without executing any release.
func (d *DestroyList) Clear() {
	d.mu.Lock()
	d.items = nil
	d.mu.Unlock()
}

// Len reports the number of pending items, mainly for tests.
func (d *DestroyList) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
