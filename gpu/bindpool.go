package gpu

import (
	"fmt"
	"sort"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/internal/core"
)

// BindRecord is a single material binding slot: a (texture | buffer |
// sampler) triple addressed by index (§3, §4.D).
type BindRecord struct {
	Texture *Texture
	Buffer  *Buffer
	Sampler vk.Sampler
}

type freeRange struct {
	start, count int
}

// BindPool is a fixed-capacity, mutex-protected freelist of BindRecords
// (§4.D). Materials and render items address their bindings by a
// (start, count) range into this pool rather than holding pointers
// directly, so the pool can be reallocated/resized independently of any
// one material's lifetime.
type BindPool struct {
	mu       sync.Mutex
	records  []BindRecord
	freeList []freeRange
}

// newBindPool creates a pool sized for capacity records, matching the
// "worst-case sum of buffer_count+resource_count across live materials"
// sizing rule in §4.D.
func newBindPool(capacity int) *BindPool {
	return &BindPool{
		records:  make([]BindRecord, capacity),
		freeList: []freeRange{{start: 0, count: capacity}},
	}
}

// NewBindPool is the exported constructor used by Renderer init.
func NewBindPool(capacity int) *BindPool {
	return newBindPool(capacity)
}

// alloc reserves n contiguous records, first-fit, returning the start
// index or ErrBindPoolExhausted.
func (p *BindPool) alloc(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, r := range p.freeList {
		if r.count >= n {
			start := r.start
			if r.count == n {
				p.freeList = append(p.freeList[:i], p.freeList[i+1:]...)
			} else {
				p.freeList[i] = freeRange{start: r.start + n, count: r.count - n}
			}
			for j := start; j < start+n; j++ {
				p.records[j] = BindRecord{}
			}
			return start, nil
		}
	}
	core.LogError("bind pool exhausted requesting %d slots (capacity %d)", n, len(p.records))
	return -1, fmt.Errorf("%w: requested %d slots", core.ErrBindPoolExhausted, n)
}

// Alloc is the exported form of alloc, used by Material creation.
func (p *BindPool) Alloc(n int) (int, error) { return p.alloc(n) }

// free releases a previously allocated range back to the pool, coalescing
// adjacent free ranges. Callers route this through a DestroyList
// (PushBindPoolSlots) so late CPU frees never race with in-flight GPU
// reads of the same slots (§4.D).
func (p *BindPool) free(start, n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.freeList = append(p.freeList, freeRange{start: start, count: n})
	sort.Slice(p.freeList, func(i, j int) bool { return p.freeList[i].start < p.freeList[j].start })

	merged := p.freeList[:0]
	for _, r := range p.freeList {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.start+last.count == r.start {
				last.count += r.count
				continue
			}
		}
		merged = append(merged, r)
	}
	p.freeList = merged
}

// Lock/Unlock expose the pool mutex directly so callers can hold it open
// across a Get read, preventing a concurrent alloc/free from mutating the
// backing slice mid-read (§5).
func (p *BindPool) Lock()   { p.mu.Lock() }
func (p *BindPool) Unlock() { p.mu.Unlock() }

// GetLocked returns a pointer to record i. The caller must hold the pool
// lock (via Lock/Unlock) across both the call and any use of the pointer.
func (p *BindPool) GetLocked(i int) *BindRecord {
	return &p.records[i]
}

// Cap reports total pool capacity.
func (p *BindPool) Cap() int { return len(p.records) }
