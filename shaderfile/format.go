package shaderfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/skforge/skrender/internal/core"
)

// Magic is the 8-byte signature at offset 0 of a SKSHADER blob.
const Magic = "SKSHADER"

// CurrentVersion is the only version this package knows how to Load.
const CurrentVersion uint16 = 4

const (
	nameFieldSize  = 256
	smallNameSize  = 32
	extraFieldSize = 64
	valueFieldSize = 64
	tagsFieldSize  = 64
)

// Verify reads just the header (magic, version, name) without allocating
// any of the reflection structures, so callers can reject an incompatible
// blob cheaply.
func Verify(data []byte) (ok bool, version uint16, name string, err error) {
	if len(data) < 8+2+4+nameFieldSize {
		return false, 0, "", core.ErrCorruptShaderData
	}
	if string(data[0:8]) != Magic {
		return false, 0, "", fmt.Errorf("%w: bad magic", core.ErrBadShaderFormat)
	}
	version = binary.LittleEndian.Uint16(data[8:10])
	if version != CurrentVersion {
		return false, version, "", core.ErrOldShaderVersion
	}
	// stage_count u32 occupies offset 10..14; name starts at 14.
	name = readFixedString(data[14 : 14+nameFieldSize])
	return true, version, name, nil
}

// Load parses a full SKSHADER blob into a reference-counted ShaderFile
// (starting at a reference count of 1), hashing every name field to its
// FNV-1a 64-bit lookup key along the way.
func Load(data []byte) (*ShaderFile, error) {
	ok, version, _, err := Verify(data)
	if !ok {
		return nil, err
	}
	if version != CurrentVersion {
		return nil, core.ErrOldShaderVersion
	}

	r := &reader{b: bytes.NewReader(data)}

	var magic [8]byte
	r.read(magic[:])
	r.u16() // version, already verified

	stageCount := r.u32()

	sf := &ShaderFile{Version: version, GlobalBufferID: -1, refs: 1}
	sf.Name = readFixedString(r.fixed(nameFieldSize))

	bufferCount := r.u32()
	resourceCount := r.u32()
	vertexInputCount := r.i32()

	sf.VertexOps = OpCounts{Total: r.i32(), TexReads: r.i32(), DynamicFlow: r.i32()}
	sf.PixelOps = OpCounts{Total: r.i32(), TexReads: r.i32(), DynamicFlow: r.i32()}

	if r.err != nil {
		return nil, wrapReadErr(r.err)
	}
	if bufferCount > 1<<20 || resourceCount > 1<<20 || vertexInputCount > 1<<20 || vertexInputCount < 0 {
		return nil, core.ErrCorruptShaderData
	}

	sf.Buffers = make([]*Buffer, 0, bufferCount)
	for i := uint32(0); i < bufferCount; i++ {
		buf, err := readBuffer(r)
		if err != nil {
			return nil, err
		}
		if buf.Name == GlobalBufferName {
			if sf.GlobalBufferID != -1 {
				return nil, fmt.Errorf("%w: more than one $Global buffer", core.ErrCorruptShaderData)
			}
			sf.GlobalBufferID = len(sf.Buffers)
		}
		sf.Buffers = append(sf.Buffers, buf)
	}

	sf.Vertices = make([]VertexComponent, 0, vertexInputCount)
	for i := int32(0); i < vertexInputCount; i++ {
		vc := VertexComponent{
			Format: r.u32(),
			Count:  r.u8(),
		}
		vc.Semantic = r.u32()
		vc.SemanticSlot = r.u8()
		sf.Vertices = append(sf.Vertices, vc)
	}

	sf.Resources = make([]*Resource, 0, resourceCount)
	for i := uint32(0); i < resourceCount; i++ {
		res, err := readResource(r)
		if err != nil {
			return nil, err
		}
		sf.Resources = append(sf.Resources, res)
	}

	if r.err != nil {
		return nil, wrapReadErr(r.err)
	}

	sf.Stages = make([]*StageRecord, 0, stageCount)
	for i := uint32(0); i < stageCount; i++ {
		st, err := readStage(r)
		if err != nil {
			return nil, err
		}
		sf.Stages = append(sf.Stages, st)
	}

	if r.err != nil {
		return nil, wrapReadErr(r.err)
	}
	return sf, nil
}

func readBind(r *reader) Bind {
	return Bind{
		Slot:         r.u16(),
		StageBits:    r.u8(),
		RegisterType: RegisterType(r.u8()),
	}
}

func readBuffer(r *reader) (*Buffer, error) {
	b := &Buffer{}
	b.Name = readFixedString(r.fixed(smallNameSize))
	b.NameHash = HashName(b.Name)
	b.Space = r.u8()
	b.Bind = readBind(r)
	b.ByteSize = r.u32()
	varCount := r.u32()
	defaultSize := r.u32()
	if r.err != nil {
		return nil, wrapReadErr(r.err)
	}
	if defaultSize > 0 {
		b.Defaults = append([]byte(nil), r.fixed(int(defaultSize))...)
	}
	b.Vars = make([]Var, 0, varCount)
	for i := uint32(0); i < varCount; i++ {
		v := Var{}
		v.Name = readFixedString(r.fixed(smallNameSize))
		v.NameHash = HashName(v.Name)
		r.fixed(extraFieldSize) // reserved extra field, unused by the reflection API
		v.Offset = r.u32()
		v.Size = r.u32()
		v.Type = r.u16()
		v.TypeCount = r.u16()
		b.Vars = append(b.Vars, v)
	}
	if r.err != nil {
		return nil, wrapReadErr(r.err)
	}
	return b, nil
}

func readResource(r *reader) (*Resource, error) {
	res := &Resource{}
	res.Name = readFixedString(r.fixed(smallNameSize))
	res.NameHash = HashName(res.Name)
	res.Value = readFixedString(r.fixed(valueFieldSize))
	res.Tags = readFixedString(r.fixed(tagsFieldSize))
	res.Bind = readBind(r)
	if r.err != nil {
		return nil, wrapReadErr(r.err)
	}
	return res, nil
}

func readStage(r *reader) (*StageRecord, error) {
	st := &StageRecord{}
	st.Language = Language(r.u32())
	st.Stage = Stage(r.u32())
	codeSize := r.u32()
	if r.err != nil {
		return nil, wrapReadErr(r.err)
	}
	if codeSize > 1<<28 {
		return nil, core.ErrCorruptShaderData
	}
	st.Code = append([]byte(nil), r.fixed(int(codeSize))...)
	if r.err != nil {
		return nil, wrapReadErr(r.err)
	}
	return st, nil
}

// readFixedString trims the trailing NUL padding from a fixed-width name
// field.
func readFixedString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func wrapReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return core.ErrCorruptShaderData
	}
	return fmt.Errorf("%w: %v", core.ErrCorruptShaderData, err)
}

// reader is a small sequential little-endian byte-cursor. Using explicit
// field-by-field reads (rather than casting onto a Go struct) sidesteps
// the padding mismatch between SKSHADER's packed C layout and Go's
// aligned struct layout.
type reader struct {
	b   *bytes.Reader
	err error
}

func (r *reader) read(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.b, p)
}

func (r *reader) fixed(n int) []byte {
	buf := make([]byte, n)
	r.read(buf)
	return buf
}

func (r *reader) u8() uint8 {
	b := r.fixed(1)
	if r.err != nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.fixed(2)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.fixed(4)
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i32() int32 {
	return int32(r.u32())
}
