// Package shaderfile implements the SKSHADER on-disk blob format (§4.A)
// and the in-memory reflection structure everything else in gpu/ keys off
// of: constant-buffer/resource/vertex-input descriptions and per-stage
// bytecode, with FNV-1a 64-bit name hashing used as the lookup key
// throughout materials and the pipeline cache.
package shaderfile

import "sync/atomic"

// Stage identifies which pipeline stage a bytecode blob targets.
type Stage uint32

const (
	StageVertex Stage = iota
	StagePixel
	StageCompute
)

// Language identifies the bytecode dialect carried by a stage record.
type Language uint32

const (
	LanguageHLSL Language = iota
	LanguageSPIRV
	LanguageGLSL
	LanguageGLSLES
	LanguageGLSLWeb
)

// RegisterType is the kind of GPU register a Bind addresses, per §3.
type RegisterType uint8

const (
	RegisterDefault RegisterType = iota
	RegisterVertex
	RegisterIndex
	RegisterConstant    // b-register
	RegisterTexture     // t-register
	RegisterReadBuffer  // t-register, read-only structured buffer
	RegisterReadWrite   // u-register
	RegisterReadWriteTex
)

// Slot-namespacing shifts so a single descriptor-set layout can
// disambiguate b0 from t0 from u0 (§3). Sized generously (16 slots per
// kind) since Vulkan implementations commonly guarantee at least that
// many bindings per stage.
const (
	BindShiftBuffer  = 0
	BindShiftTexture = 16
	BindShiftUAV     = 32
)

// Bind is the {slot, stage mask, register kind} triple named in §3.
type Bind struct {
	Slot         uint16
	StageBits    uint8
	RegisterType RegisterType
}

// DescriptorSlot returns the namespaced binding index used when building
// a VkDescriptorSetLayoutBinding for this Bind (§4.K).
func (b Bind) DescriptorSlot() uint32 {
	switch b.RegisterType {
	case RegisterConstant:
		return BindShiftBuffer + uint32(b.Slot)
	case RegisterTexture, RegisterReadBuffer:
		return BindShiftTexture + uint32(b.Slot)
	case RegisterReadWrite, RegisterReadWriteTex:
		return BindShiftUAV + uint32(b.Slot)
	default:
		return uint32(b.Slot)
	}
}

// OpCounts is one of the two (vertex, pixel) op-count triples (§3).
type OpCounts struct {
	Total       int32
	TexReads    int32
	DynamicFlow int32
}

// Var is one ordered entry inside a constant buffer (§3/§4.A).
type Var struct {
	Name      string
	NameHash  uint64
	Offset    uint32
	Size      uint32
	Type      uint16
	TypeCount uint16
}

// Buffer describes one constant-buffer reflection entry, including the
// special "$Global" buffer every material uses as its parameter cbuffer.
type Buffer struct {
	Name     string
	NameHash uint64
	Space    uint8
	Bind     Bind
	ByteSize uint32
	Defaults []byte
	Vars     []Var
}

// VarByNameHash looks up a var by its precomputed FNV-1a hash, the lookup
// path materials use for Material.SetParam.
func (b *Buffer) VarByNameHash(hash uint64) *Var {
	for i := range b.Vars {
		if b.Vars[i].NameHash == hash {
			return &b.Vars[i]
		}
	}
	return nil
}

// VertexComponent is one ordered vertex-input entry (§3): format, count,
// semantic and semantic slot. A Mesh's vertex-format descriptor (§4.I) is
// the ordered list of these.
type VertexComponent struct {
	Format       uint32
	Count        uint8
	Semantic     uint32
	SemanticSlot uint8
}

// Resource describes a non-cbuffer shader resource (texture/sampler/UAV).
type Resource struct {
	Name     string
	NameHash uint64
	Value    string
	Tags     string
	Bind     Bind
}

// StageRecord is one stage's bytecode plus its source dialect.
type StageRecord struct {
	Language Language
	Stage    Stage
	Code     []byte
}

// GlobalBufferName is the reserved name of a shader's "root" constant
// buffer (§3 Glossary). Materials use it as their parameter cbuffer.
const GlobalBufferName = "$Global"

// ShaderFile is the parsed, reference-counted in-memory reflection of a
// SKSHADER blob. Materials and pipelines hold references via Retain;
// the backing bytecode is released only once every holder has dropped.
type ShaderFile struct {
	Name     string
	Version  uint16
	Buffers  []*Buffer
	Vertices []VertexComponent
	Resources []*Resource
	Stages   []*StageRecord
	VertexOps OpCounts
	PixelOps  OpCounts

	// GlobalBufferID is the index into Buffers of the "$Global" buffer,
	// or -1 if the shader declares none.
	GlobalBufferID int

	refs int32
}

// StageCode returns the bytecode for a given stage, or nil if the shader
// has no record for it.
func (s *ShaderFile) StageCode(stage Stage) []byte {
	for _, r := range s.Stages {
		if r.Stage == stage {
			return r.Code
		}
	}
	return nil
}

// GlobalBuffer returns the shader's "$Global" buffer, or nil.
func (s *ShaderFile) GlobalBuffer() *Buffer {
	if s.GlobalBufferID < 0 || s.GlobalBufferID >= len(s.Buffers) {
		return nil
	}
	return s.Buffers[s.GlobalBufferID]
}

// BufferByNameHash finds a constant buffer by its precomputed name hash.
func (s *ShaderFile) BufferByNameHash(hash uint64) *Buffer {
	for _, b := range s.Buffers {
		if b.NameHash == hash {
			return b
		}
	}
	return nil
}

// ResourceByNameHash finds a resource by its precomputed name hash.
func (s *ShaderFile) ResourceByNameHash(hash uint64) *Resource {
	for _, r := range s.Resources {
		if r.NameHash == hash {
			return r
		}
	}
	return nil
}

// Retain increments the reference count. Call once per holder (material,
// pipeline-cache entry) that keeps the *ShaderFile beyond the loader call.
func (s *ShaderFile) Retain() {
	atomic.AddInt32(&s.refs, 1)
}

// Release decrements the reference count and reports whether this call
// dropped the last reference. The loader starts a freshly-parsed
// ShaderFile at a reference count of 1, so the original loader holder
// must also call Release exactly once.
func (s *ShaderFile) Release() bool {
	return atomic.AddInt32(&s.refs, -1) == 0
}

// RefCount reports the current reference count, mainly for tests.
func (s *ShaderFile) RefCount() int32 {
	return atomic.LoadInt32(&s.refs)
}
