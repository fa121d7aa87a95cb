package gpu

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/internal/core"
)

// MaxCommandRing is the depth of each thread's command-buffer ring
// (Glossary: Slot). Matches the teacher's triple-buffering convention.
const MaxCommandRing = 3

// MaxThreads bounds the fixed-size thread table (§5).
const MaxThreads = 16

// threadSlot is one entry in a per-thread command-buffer ring: a command
// buffer, a fence, an optional transient descriptor pool, and a destroy
// list (§4.C Glossary: Slot).
type threadSlot struct {
	cmd            vk.CommandBuffer
	fence          vk.Fence
	descriptorPool vk.DescriptorPool
	destroyList    *DestroyList
	allocated      bool
	alive          bool
	generation     uint64
}

// threadState is the per-thread arena entry: its command pool, ring of
// slots, ref-counted batch bookkeeping, and its own bump allocators
// (disjoint per thread so recording never races, §5).
type threadState struct {
	inUse     bool
	pool      vk.CommandPool
	slots     [MaxCommandRing]*threadSlot
	ringIndex int

	refCount      int
	activeSlotIdx int // -1 when no batch is open
	lastSlotIdx   int // -1 when nothing has ever been submitted

	constBump   *BumpAllocator
	storageBump *BumpAllocator
}

// ThreadHandle is the caller-held reference to a thread's arena slot,
// returned by ThreadTable.ThreadInit. Go goroutines migrate across OS
// threads, so rather than imitate the source's implicit thread-local
// index via runtime introspection, the handle is the explicit context
// object the calling goroutine threads through every subsequent call —
// the idiomatic Go rendering of "thread-local index into a global table"
// (§9 design note).
type ThreadHandle struct {
	idx   int
	table *ThreadTable
}

// ThreadTable is the fixed-size (MaxThreads) arena of per-thread command
// substrates (§4.C, §5).
type ThreadTable struct {
	mu       sync.Mutex
	ctx      *Context
	bindPool *BindPool
	threads  [MaxThreads]*threadState
}

// NewThreadTable creates an empty table. ctx and bindPool are shared
// across all threads that register with it.
func NewThreadTable(ctx *Context, bindPool *BindPool) *ThreadTable {
	return &ThreadTable{ctx: ctx, bindPool: bindPool}
}

// ThreadInit reserves a slot in the thread table and allocates that
// thread's command pool and bump allocators. Must be called once per
// thread that will record GPU work, before any other gpu call from that
// thread (§4.C, §6).
func (tt *ThreadTable) ThreadInit() (*ThreadHandle, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	for i, ts := range tt.threads {
		if ts == nil || !ts.inUse {
			poolInfo := vk.CommandPoolCreateInfo{
				SType:            vk.StructureTypeCommandPoolCreateInfo,
				QueueFamilyIndex: tt.ctx.GraphicsQueueIndex,
				Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
			}
			var pool vk.CommandPool
			if res := vk.CreateCommandPool(tt.ctx.Device, &poolInfo, tt.ctx.Allocator, &pool); res != vk.Success {
				err := fmt.Errorf("vkCreateCommandPool failed: %s", vk.Error(res))
				core.LogError(err.Error())
				return nil, err
			}

			state := &threadState{
				inUse:         true,
				pool:          pool,
				ringIndex:     0,
				activeSlotIdx: -1,
				lastSlotIdx:   -1,
				constBump:     NewBumpAllocator(tt.ctx, vk.BufferUsageFlagBits(vk.BufferUsageUniformBufferBit), tt.ctx.MaxFramesInFlight),
				storageBump:   NewBumpAllocator(tt.ctx, vk.BufferUsageFlagBits(vk.BufferUsageStorageBufferBit), tt.ctx.MaxFramesInFlight),
			}
			tt.threads[i] = state
			return &ThreadHandle{idx: i, table: tt}, nil
		}
	}
	core.LogError("thread table full (max %d threads)", MaxThreads)
	return nil, core.ErrThreadTableFull
}

// ThreadShutdown waits on every fence owned by this thread, drains every
// destroy list, frees all Vulkan objects the thread owns, and marks the
// table slot reusable.
func (tt *ThreadTable) ThreadShutdown(h *ThreadHandle) error {
	ts, err := tt.state(h)
	if err != nil {
		return err
	}

	for _, sl := range ts.slots {
		if sl == nil || !sl.allocated {
			continue
		}
		vk.WaitForFences(tt.ctx.Device, 1, []vk.Fence{sl.fence}, vk.True, math.MaxUint64)
		sl.destroyList.Execute(tt.ctx)
		vk.DestroyFence(tt.ctx.Device, sl.fence, tt.ctx.Allocator)
		if sl.descriptorPool != nil {
			vk.DestroyDescriptorPool(tt.ctx.Device, sl.descriptorPool, tt.ctx.Allocator)
		}
		vk.FreeCommandBuffers(tt.ctx.Device, ts.pool, 1, []vk.CommandBuffer{sl.cmd})
	}
	vk.DestroyCommandPool(tt.ctx.Device, ts.pool, tt.ctx.Allocator)
	ts.constBump.destroyAll(tt.ctx)
	ts.storageBump.destroyAll(tt.ctx)

	tt.mu.Lock()
	tt.threads[h.idx] = nil
	tt.mu.Unlock()
	return nil
}

func (tt *ThreadTable) state(h *ThreadHandle) (*threadState, error) {
	if h == nil || h.table != tt {
		return nil, core.ErrThreadNotInited
	}
	tt.mu.Lock()
	ts := tt.threads[h.idx]
	tt.mu.Unlock()
	if ts == nil || !ts.inUse {
		return nil, core.ErrThreadNotInited
	}
	return ts, nil
}

// reusableSlotCount reports how many ring slots are currently not alive.
func (ts *threadState) reusableSlotCount() int {
	n := 0
	for _, sl := range ts.slots {
		if sl == nil || !sl.alive {
			n++
		}
	}
	return n
}

// selectFreeSlot is the pure ring-scan rule behind acquireSlot: starting
// at ringIndex, return the first not-alive slot index found within one
// lap. found is false when every slot in the ring is alive, meaning the
// caller must block on the oldest one instead.
func selectFreeSlot(alive [MaxCommandRing]bool, ringIndex int) (idx int, found bool) {
	for i := 0; i < MaxCommandRing; i++ {
		candidate := (ringIndex + i) % MaxCommandRing
		if !alive[candidate] {
			return candidate, true
		}
	}
	return 0, false
}

func (ts *threadState) aliveMask() [MaxCommandRing]bool {
	var mask [MaxCommandRing]bool
	for i, sl := range ts.slots {
		mask[i] = sl != nil && sl.alive
	}
	return mask
}

// acquireSlot implements the ring-reuse rule in §4.C: prefer a not-alive
// slot starting from ringIndex; otherwise block on the oldest slot's
// fence, drain its destroy list, and bump its generation to invalidate
// any outstanding future.
func (ts *threadState) acquireSlot(ctx *Context) (*threadSlot, int, error) {
	if idx, found := selectFreeSlot(ts.aliveMask(), ts.ringIndex); found {
		sl := ts.slots[idx]
		if sl == nil {
			sl = &threadSlot{}
			ts.slots[idx] = sl
		}
		ts.ringIndex = (idx + 1) % MaxCommandRing
		if err := ensureSlotResources(ctx, ts.pool, sl); err != nil {
			return nil, 0, err
		}
		sl.alive = true
		return sl, idx, nil
	}

	// Ring is full: block on the oldest slot (the one ringIndex currently
	// points at), then reclaim it.
	idx := ts.ringIndex
	sl := ts.slots[idx]
	if sl.fence != nil {
		if res := vk.WaitForFences(ctx.Device, 1, []vk.Fence{sl.fence}, vk.True, math.MaxUint64); res != vk.Success {
			err := fmt.Errorf("vkWaitForFences timed out reclaiming command ring slot: %s", vk.Error(res))
			core.LogError(err.Error())
			return nil, 0, err
		}
	}
	sl.destroyList.Execute(ctx)
	sl.generation++
	vk.ResetCommandBuffer(sl.cmd, vk.CommandBufferResetFlags(0))
	vk.ResetFences(ctx.Device, 1, []vk.Fence{sl.fence})
	if sl.descriptorPool != nil {
		vk.ResetDescriptorPool(ctx.Device, sl.descriptorPool, 0)
	}
	ts.ringIndex = (idx + 1) % MaxCommandRing
	sl.alive = true
	return sl, idx, nil
}

func ensureSlotResources(ctx *Context, pool vk.CommandPool, sl *threadSlot) error {
	if sl.allocated {
		vk.ResetCommandBuffer(sl.cmd, vk.CommandBufferResetFlags(0))
		vk.ResetFences(ctx.Device, 1, []vk.Fence{sl.fence})
		if sl.descriptorPool != nil {
			vk.ResetDescriptorPool(ctx.Device, sl.descriptorPool, 0)
		}
		return nil
	}
	sl.destroyList = NewDestroyList(nil)

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmdBufs := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(ctx.Device, &allocInfo, cmdBufs); res != vk.Success {
		return fmt.Errorf("vkAllocateCommandBuffers failed: %s", vk.Error(res))
	}
	sl.cmd = cmdBufs[0]

	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if res := vk.CreateFence(ctx.Device, &fenceInfo, ctx.Allocator, &sl.fence); res != vk.Success {
		return fmt.Errorf("vkCreateFence failed: %s", vk.Error(res))
	}

	if !ctx.PushDescriptorsAvailable {
		poolSizes := []vk.DescriptorPoolSize{
			{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 64},
			{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 64},
			{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 128},
			{Type: vk.DescriptorTypeStorageImage, DescriptorCount: 16},
		}
		poolInfo := vk.DescriptorPoolCreateInfo{
			SType:         vk.StructureTypeDescriptorPoolCreateInfo,
			MaxSets:       32,
			PoolSizeCount: uint32(len(poolSizes)),
			PPoolSizes:    poolSizes,
			Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		}
		if res := vk.CreateDescriptorPool(ctx.Device, &poolInfo, ctx.Allocator, &sl.descriptorPool); res != vk.Success {
			return fmt.Errorf("vkCreateDescriptorPool failed: %s", vk.Error(res))
		}
	}
	sl.allocated = true
	return nil
}

// CmdContext is the recording context returned by CmdBegin/CmdAcquire:
// the open command buffer plus the resources scoped to this batch.
type CmdContext struct {
	Handle         vk.CommandBuffer
	DestroyList    *DestroyList
	descriptorPool vk.DescriptorPool
	thread         *ThreadHandle
	slotIdx        int
}

// CmdBegin opens a new batch on h's thread. Asserts the thread has no
// already-open batch (ref_count == 0), per §4.C.
func (tt *ThreadTable) CmdBegin(h *ThreadHandle) (*CmdContext, error) {
	ts, err := tt.state(h)
	if err != nil {
		return nil, err
	}
	if ts.refCount != 0 {
		core.LogCritical("cmd_begin called with an already-open batch (ref_count=%d)", ts.refCount)
		return nil, core.ErrRefCountImbalance
	}

	sl, idx, err := ts.acquireSlot(tt.ctx)
	if err != nil {
		return nil, err
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(sl.cmd, &beginInfo); res != vk.Success {
		return nil, fmt.Errorf("vkBeginCommandBuffer failed: %s", vk.Error(res))
	}

	ts.activeSlotIdx = idx
	ts.refCount = 1
	return &CmdContext{Handle: sl.cmd, DestroyList: sl.destroyList, descriptorPool: sl.descriptorPool, thread: h, slotIdx: idx}, nil
}

// CmdAcquire increments the batch ref count, opening a batch via CmdBegin
// if none is open, and returns the context for the currently active slot.
func (tt *ThreadTable) CmdAcquire(h *ThreadHandle) (*CmdContext, error) {
	ts, err := tt.state(h)
	if err != nil {
		return nil, err
	}
	if ts.refCount == 0 {
		return tt.CmdBegin(h)
	}
	ts.refCount++
	sl := ts.slots[ts.activeSlotIdx]
	return &CmdContext{Handle: sl.cmd, DestroyList: sl.destroyList, descriptorPool: sl.descriptorPool, thread: h, slotIdx: ts.activeSlotIdx}, nil
}

// CmdRelease decrements the batch ref count. When it reaches zero without
// an explicit CmdEndSubmit having already closed the batch, it ends the
// buffer and submits it with a fence, recording the slot as last
// submitted.
func (tt *ThreadTable) CmdRelease(c *CmdContext) error {
	ts, err := tt.state(c.thread)
	if err != nil {
		return err
	}
	if ts.refCount <= 0 {
		core.LogCritical("cmd_release called with ref_count already at 0")
		return core.ErrRefCountImbalance
	}
	ts.refCount--
	if ts.refCount > 0 {
		return nil
	}
	if ts.activeSlotIdx != c.slotIdx {
		// The batch was already closed out from under this context via
		// CmdEndSubmit.
		return nil
	}
	_, err = tt.submit(ts, c.slotIdx, nil, nil, nil)
	return err
}

// CmdEndSubmit closes the batch with explicit wait/signal semaphores,
// used by Renderer.FrameEnd, and returns a Future the caller can poll or
// wait on.
func (tt *ThreadTable) CmdEndSubmit(h *ThreadHandle, wait []vk.Semaphore, waitStages []vk.PipelineStageFlags, signal []vk.Semaphore) (Future, error) {
	ts, err := tt.state(h)
	if err != nil {
		return Future{}, err
	}
	if ts.activeSlotIdx < 0 {
		return Future{}, core.ErrNotRecording
	}
	return tt.submit(ts, ts.activeSlotIdx, wait, waitStages, signal)
}

func (tt *ThreadTable) submit(ts *threadState, slotIdx int, wait []vk.Semaphore, waitStages []vk.PipelineStageFlags, signal []vk.Semaphore) (Future, error) {
	sl := ts.slots[slotIdx]
	if res := vk.EndCommandBuffer(sl.cmd); res != vk.Success {
		return Future{}, fmt.Errorf("vkEndCommandBuffer failed: %s", vk.Error(res))
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{sl.cmd},
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		PWaitDstStageMask:    waitStages,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}

	res := tt.ctx.SubmitLocked(func() vk.Result {
		return vk.QueueSubmit(tt.ctx.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, sl.fence)
	})
	if res != vk.Success {
		if res == vk.ErrorDeviceLost {
			core.LogFatal("device lost during vkQueueSubmit")
			return Future{}, core.ErrDeviceLost
		}
		return Future{}, fmt.Errorf("vkQueueSubmit failed: %s", vk.Error(res))
	}

	ts.lastSlotIdx = slotIdx
	ts.activeSlotIdx = -1
	ts.refCount = 0

	return Future{table: tt, threadIdx: indexOfThread(tt, ts), slotIdx: slotIdx, generation: sl.generation}, nil
}

func indexOfThread(tt *ThreadTable, ts *threadState) int {
	for i, t := range tt.threads {
		if t == ts {
			return i
		}
	}
	return -1
}

// ConstBump returns this thread's const (UNIFORM_BUFFER) bump allocator
// for the current flight index.
func (tt *ThreadTable) ConstBump(h *ThreadHandle) (*BumpAllocator, error) {
	ts, err := tt.state(h)
	if err != nil {
		return nil, err
	}
	return ts.constBump, nil
}

// StorageBump returns this thread's storage (STORAGE_BUFFER) bump
// allocator.
func (tt *ThreadTable) StorageBump(h *ThreadHandle) (*BumpAllocator, error) {
	ts, err := tt.state(h)
	if err != nil {
		return nil, err
	}
	return ts.storageBump, nil
}

// ResolveDestroyList implements the fallback chain in §4.B: explicit list,
// else this thread's active batch, else this thread's last-submitted
// batch, else nil (meaning "destroy immediately").
func (tt *ThreadTable) ResolveDestroyList(h *ThreadHandle, explicit *DestroyList) *DestroyList {
	if explicit != nil {
		return explicit
	}
	ts, err := tt.state(h)
	if err != nil {
		return nil
	}
	if ts.activeSlotIdx >= 0 {
		return ts.slots[ts.activeSlotIdx].destroyList
	}
	if ts.lastSlotIdx >= 0 && ts.slots[ts.lastSlotIdx] != nil {
		return ts.slots[ts.lastSlotIdx].destroyList
	}
	return nil
}

// Future is the only externally-exposed handle to a submitted batch
// (§3 Glossary). It is bitwise comparable and valid only while the
// slot's generation has not advanced past the one recorded here.
type Future struct {
	table      *ThreadTable
	threadIdx  int
	slotIdx    int
	generation uint64
}

// Check is non-blocking: true if the slot has already been reused (work
// is necessarily done) or the fence reports success.
func (f Future) Check() bool {
	if f.table == nil {
		return true
	}
	ts := f.table.threads[f.threadIdx]
	if ts == nil {
		return true
	}
	sl := ts.slots[f.slotIdx]
	if sl == nil || sl.generation != f.generation {
		return true
	}
	return vk.GetFenceStatus(f.table.ctx.Device, sl.fence) == vk.Success
}

// Wait blocks until the submission completes, unless the slot has already
// been reused (generation mismatch), in which case it returns
// immediately.
func (f Future) Wait() {
	if f.table == nil {
		return
	}
	ts := f.table.threads[f.threadIdx]
	if ts == nil {
		return
	}
	sl := ts.slots[f.slotIdx]
	if sl == nil || sl.generation != f.generation {
		return
	}
	vk.WaitForFences(f.table.ctx.Device, 1, []vk.Fence{sl.fence}, vk.True, math.MaxUint64)
}
