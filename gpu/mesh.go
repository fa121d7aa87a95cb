package gpu

import (
	"fmt"

	"github.com/skforge/skrender/shaderfile"
)

// MaxVertexBuffers bounds the number of interleaved/per-instance vertex
// streams a single Mesh may bind simultaneously (§4.I).
const MaxVertexBuffers = 4

// IndexFormat selects the Mesh's index buffer width, or none for
// non-indexed draws.
type IndexFormat int

const (
	IndexFormatNone IndexFormat = iota
	IndexFormatUint16
	IndexFormatUint32
)

func (f IndexFormat) byteSize() uint32 {
	switch f {
	case IndexFormatUint16:
		return 2
	case IndexFormatUint32:
		return 4
	}
	return 0
}

// vertexStream is one of a Mesh's up-to-MaxVertexBuffers bound vertex
// buffers plus the pipeline-cache index for its component layout.
type vertexStream struct {
	buffer      *Buffer
	stride      uint32
	pipelineIdx int32
	everSet     bool
}

// Mesh is a set of vertex streams, an optional index buffer, and the
// draw counts needed to issue vkCmdDrawIndexed/vkCmdDraw (§3, §4.I).
type Mesh struct {
	streams     [MaxVertexBuffers]*vertexStream
	streamCount int

	IndexBuffer *Buffer
	IndexFormat IndexFormat
	IndexCount  uint32
	VertexCount uint32

	cache *PipelineCache
	id    uint32
}

// MeshCreateInfo is the NewMesh argument bundle (§4.I). VertexFormat
// describes stream 0; additional streams are registered afterward via
// AddVertexStream.
type MeshCreateInfo struct {
	VertexFormat []shaderfile.VertexComponent
	VertexStride uint32
	VertexData   []byte
	VertexCount  uint32

	IndexFormat IndexFormat
	IndexData   []byte
	IndexCount  uint32
}

// NewMesh registers the vertex-format descriptor in cache (yielding
// vert_type.pipeline_idx) and creates the initial static vertex and,
// if requested, index buffers (§4.I).
func NewMesh(ctx *Context, tt *ThreadTable, h *ThreadHandle, cache *PipelineCache, info MeshCreateInfo) (*Mesh, error) {
	pipelineIdx, err := cache.RegisterVertexFormat(info.VertexFormat, info.VertexStride)
	if err != nil {
		return nil, err
	}

	buf, err := CreateBuffer(ctx, tt, h, info.VertexData, info.VertexCount, info.VertexStride, BufferKindVertex, BufferStatic, BufferComputeNone, "mesh-vertices")
	if err != nil {
		return nil, err
	}

	m := &Mesh{
		cache:       cache,
		VertexCount: info.VertexCount,
		IndexFormat: info.IndexFormat,
	}
	m.streams[0] = &vertexStream{buffer: buf, stride: info.VertexStride, pipelineIdx: pipelineIdx, everSet: true}
	m.streamCount = 1

	if info.IndexFormat != IndexFormatNone {
		idxBuf, err := CreateBuffer(ctx, tt, h, info.IndexData, info.IndexCount, info.IndexFormat.byteSize(), BufferKindIndex, BufferStatic, BufferComputeNone, "mesh-indices")
		if err != nil {
			buf.Destroy(ctx, nil)
			return nil, err
		}
		m.IndexBuffer = idxBuf
		m.IndexCount = info.IndexCount
	}

	return m, nil
}

// AddVertexStream registers and appends a second (or later) vertex
// stream, for interleaved + per-instance split layouts (§4.I). Returns
// the stream index, or an error once MaxVertexBuffers is reached.
func (m *Mesh) AddVertexStream(ctx *Context, tt *ThreadTable, h *ThreadHandle, components []shaderfile.VertexComponent, stride uint32, data []byte, count uint32) (int, error) {
	if m.streamCount >= MaxVertexBuffers {
		return 0, fmt.Errorf("mesh: cannot add vertex stream, already at MaxVertexBuffers (%d)", MaxVertexBuffers)
	}
	pipelineIdx, err := m.cache.RegisterVertexFormat(components, stride)
	if err != nil {
		return 0, err
	}
	buf, err := CreateBuffer(ctx, tt, h, data, count, stride, BufferKindVertex, BufferStatic, BufferComputeNone, "mesh-vertex-stream")
	if err != nil {
		return 0, err
	}
	idx := m.streamCount
	m.streams[idx] = &vertexStream{buffer: buf, stride: stride, pipelineIdx: pipelineIdx, everSet: true}
	m.streamCount++
	return idx, nil
}

// SetVerts replaces stream 0's vertex data. The first call after
// NewMesh transparently converts the stream's buffer from static to
// dynamic, matching §4.I's "transparently converts ... on second call"
// (the construction-time upload in NewMesh counts as the first write).
func (m *Mesh) SetVerts(ctx *Context, tt *ThreadTable, h *ThreadHandle, data []byte, count uint32, dl *DestroyList) error {
	return m.setStreamVerts(ctx, tt, h, 0, data, count, dl)
}

// SetStreamVerts is SetVerts generalized to any registered stream index.
func (m *Mesh) SetStreamVerts(ctx *Context, tt *ThreadTable, h *ThreadHandle, streamIdx int, data []byte, count uint32, dl *DestroyList) error {
	return m.setStreamVerts(ctx, tt, h, streamIdx, data, count, dl)
}

func (m *Mesh) setStreamVerts(ctx *Context, tt *ThreadTable, h *ThreadHandle, streamIdx int, data []byte, count uint32, dl *DestroyList) error {
	if streamIdx < 0 || streamIdx >= m.streamCount || m.streams[streamIdx] == nil {
		return fmt.Errorf("mesh: stream %d is not registered", streamIdx)
	}
	s := m.streams[streamIdx]

	if s.buffer.Storage == BufferStatic {
		next, err := CreateBuffer(ctx, tt, h, data, count, s.stride, BufferKindVertex, BufferDynamic, BufferComputeNone, s.buffer.Name)
		if err != nil {
			return err
		}
		s.buffer.Destroy(ctx, dl)
		s.buffer = next
		if streamIdx == 0 {
			m.VertexCount = count
		}
		return nil
	}

	next, err := EnsureBuffer(ctx, tt, h, s.buffer, data, count, s.stride, BufferKindVertex, BufferDynamic, BufferComputeNone, s.buffer.Name, dl)
	if err != nil {
		return err
	}
	s.buffer = next
	if streamIdx == 0 {
		m.VertexCount = count
	}
	return nil
}

// VertexBuffers returns the bound vertex Buffers and the pipeline
// vertex-format index of stream 0 (the index used to look up a
// pipeline in the cache), for the render list's batching key (§4.J).
func (m *Mesh) VertexBuffers() ([]*Buffer, int32) {
	bufs := make([]*Buffer, m.streamCount)
	for i := 0; i < m.streamCount; i++ {
		bufs[i] = m.streams[i].buffer
	}
	return bufs, m.streams[0].pipelineIdx
}

// IsValid reports whether the mesh has at least one live vertex stream
// (§7).
func (m *Mesh) IsValid() bool {
	return m != nil && m.streamCount > 0 && m.streams[0] != nil && m.streams[0].buffer.IsValid()
}

// Destroy releases every stream buffer and the index buffer, routed
// through dl if non-nil.
func (m *Mesh) Destroy(ctx *Context, dl *DestroyList) {
	for i := 0; i < m.streamCount; i++ {
		if m.streams[i] != nil {
			m.streams[i].buffer.Destroy(ctx, dl)
		}
	}
	if m.IndexBuffer != nil {
		m.IndexBuffer.Destroy(ctx, dl)
	}
}
