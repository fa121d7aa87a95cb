package gpu

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/internal/core"
	"github.com/skforge/skrender/shaderfile"
)

// bindEntry is one bind-pool-addressable slot a Material owns: either a
// named non-global constant buffer or a texture/sampler/storage resource
// (§4.H, §4.D).
type bindEntry struct {
	nameHash uint64
	bind     shaderfile.Bind
}

// Material is a shader plus pipeline state plus its parameter storage
// (§3, §4.H). ParamBuffer is the CPU-side mirror of the shader's
// "$Global" constant buffer; RenderList.Add snapshots it and the draw
// paths (RenderList.Draw, Renderer.Blit) copy it into a bump allocator
// at draw time (§4.J), it is never itself a Vulkan buffer.
type Material struct {
	Shader *shaderfile.ShaderFile
	State  MaterialState

	ParamBuffer []byte

	BindPool  *BindPool
	BindStart int
	BindCount int
	binds     []bindEntry

	PipelineMaterialIdx int32

	cache *PipelineCache
	id    uint32
}

// MaterialInfo is the creation-time argument bundle for NewMaterial.
// Zero-valued State fields are not meaningful; callers should start from
// DefaultMaterialState and override only what they need, matching §4.H's
// documented defaults.
type MaterialInfo struct {
	Shader *shaderfile.ShaderFile
	State  MaterialState
}

// NewMaterial allocates parameter storage and bind-pool slots for shader,
// registers (shader, state) in cache, and returns the ready-to-use
// Material (§4.H). shader.Retain is called once; Destroy releases it.
func NewMaterial(cache *PipelineCache, bindPool *BindPool, info MaterialInfo) (*Material, error) {
	shader := info.Shader
	if shader == nil {
		return nil, fmt.Errorf("material: nil shader")
	}

	var binds []bindEntry
	for _, b := range shader.Buffers {
		if b.NameHash == shaderfile.HashName(shaderfile.GlobalBufferName) {
			continue
		}
		binds = append(binds, bindEntry{nameHash: b.NameHash, bind: b.Bind})
	}
	for _, r := range shader.Resources {
		binds = append(binds, bindEntry{nameHash: r.NameHash, bind: r.Bind})
	}

	bindStart := 0
	if len(binds) > 0 {
		start, err := bindPool.Alloc(len(binds))
		if err != nil {
			return nil, err
		}
		bindStart = start
	}

	var paramBuffer []byte
	if gb := shader.GlobalBuffer(); gb != nil {
		paramBuffer = make([]byte, gb.ByteSize)
		copy(paramBuffer, gb.Defaults)
	}

	shader.Retain()

	m := &Material{
		Shader:      shader,
		State:       info.State,
		ParamBuffer: paramBuffer,
		BindPool:    bindPool,
		BindStart:   bindStart,
		BindCount:   len(binds),
		binds:       binds,
		cache:       cache,
	}

	idx, err := cache.RegisterMaterial(shader, m.State)
	if err != nil {
		m.releaseBinds()
		shader.Release()
		return nil, err
	}
	m.PipelineMaterialIdx = idx
	return m, nil
}

func (m *Material) releaseBinds(dl ...*DestroyList) {
	if m.BindCount == 0 {
		return
	}
	if len(dl) > 0 && dl[0] != nil {
		dl[0].PushBindPoolSlots(m.BindStart, m.BindCount)
		return
	}
	m.BindPool.free(m.BindStart, m.BindCount)
}

// IsValid reports whether the material holds a live shader reference
// (§7).
func (m *Material) IsValid() bool { return m != nil && m.Shader != nil }

// Reregister re-derives the pipeline-material index after State has been
// mutated directly by a caller. Logically identical (shader, state)
// tuples share a key, so repeated calls after equivalent edits are cheap
// lookups (§4.H).
func (m *Material) Reregister() error {
	idx, err := m.cache.RegisterMaterial(m.Shader, m.State)
	if err != nil {
		return err
	}
	m.PipelineMaterialIdx = idx
	return nil
}

// SetParam finds the named var in the shader's "$Global" buffer and
// writes data into the parameter buffer, validating that the write fits
// within the var's declared size (§4.H).
func (m *Material) SetParam(name string, data []byte) error {
	gb := m.Shader.GlobalBuffer()
	if gb == nil {
		return fmt.Errorf("material: shader %q declares no $Global buffer", m.Shader.Name)
	}
	v := gb.VarByNameHash(shaderfile.HashName(name))
	if v == nil {
		return fmt.Errorf("material: shader %q has no parameter %q", m.Shader.Name, name)
	}
	if uint32(len(data)) > v.Size {
		return fmt.Errorf("material: parameter %q write of %d bytes exceeds declared size %d", name, len(data), v.Size)
	}
	if int(v.Offset)+len(data) > len(m.ParamBuffer) {
		return fmt.Errorf("material: parameter %q write out of bounds of parameter buffer", name)
	}
	copy(m.ParamBuffer[v.Offset:], data)
	return nil
}

func (m *Material) findBind(name string) (*bindEntry, int, bool) {
	hash := shaderfile.HashName(name)
	for i := range m.binds {
		if m.binds[i].nameHash == hash {
			return &m.binds[i], m.BindStart + i, true
		}
	}
	return nil, 0, false
}

// SetTex binds tex to the bind-pool slot matching name's declared
// binding (§4.H).
func (m *Material) SetTex(name string, tex *Texture) error {
	_, slot, ok := m.findBind(name)
	if !ok {
		return fmt.Errorf("material: shader %q has no texture binding %q", m.Shader.Name, name)
	}
	m.BindPool.Lock()
	defer m.BindPool.Unlock()
	m.BindPool.GetLocked(slot).Texture = tex
	return nil
}

// SetBuffer binds buf (a structured/storage buffer resource, not the
// "$Global" parameter buffer) to the bind-pool slot matching name.
func (m *Material) SetBuffer(name string, buf *Buffer) error {
	_, slot, ok := m.findBind(name)
	if !ok {
		return fmt.Errorf("material: shader %q has no buffer binding %q", m.Shader.Name, name)
	}
	m.BindPool.Lock()
	defer m.BindPool.Unlock()
	m.BindPool.GetLocked(slot).Buffer = buf
	return nil
}

// SetSampler binds sampler to the bind-pool slot matching name.
func (m *Material) SetSampler(name string, sampler vk.Sampler) error {
	_, slot, ok := m.findBind(name)
	if !ok {
		return fmt.Errorf("material: shader %q has no sampler binding %q", m.Shader.Name, name)
	}
	m.BindPool.Lock()
	defer m.BindPool.Unlock()
	m.BindPool.GetLocked(slot).Sampler = sampler
	return nil
}

// Destroy releases the material's bind-pool range and drops its shader
// reference. dl, if non-nil, receives the bind-pool free so in-flight GPU
// reads of the slots are not reused too early (§4.B, §4.D).
func (m *Material) Destroy(dl *DestroyList) {
	if dl != nil {
		m.releaseBinds(dl)
	} else {
		m.releaseBinds()
	}
	if m.Shader.Release() {
		core.LogDebug("material: released last reference to shader %q", m.Shader.Name)
	}
}
