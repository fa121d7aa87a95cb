package shaderfile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// fixtureBuilder assembles a SKSHADER blob by hand, mirroring the exact
// byte layout in spec §4.A, so tests never depend on an Encode function
// the production API doesn't expose.
type fixtureBuilder struct {
	buf bytes.Buffer
}

func (f *fixtureBuilder) u8(v uint8)   { f.buf.WriteByte(v) }
func (f *fixtureBuilder) u16(v uint16) { binary.Write(&f.buf, binary.LittleEndian, v) }
func (f *fixtureBuilder) u32(v uint32) { binary.Write(&f.buf, binary.LittleEndian, v) }
func (f *fixtureBuilder) i32(v int32)  { binary.Write(&f.buf, binary.LittleEndian, v) }
func (f *fixtureBuilder) fixed(s string, n int) {
	b := make([]byte, n)
	copy(b, s)
	f.buf.Write(b)
}
func (f *fixtureBuilder) bind(slot uint16, stageBits uint8, regType RegisterType) {
	f.u16(slot)
	f.u8(stageBits)
	f.u8(uint8(regType))
}

func buildFixture() []byte {
	f := &fixtureBuilder{}
	f.buf.WriteString(Magic)
	f.u16(CurrentVersion)
	f.u32(1) // stage_count

	// meta
	f.fixed("test_shader", nameFieldSize)
	f.u32(1) // buffer_count
	f.u32(1) // resource_count
	f.i32(1) // vertex_input_count
	f.i32(10) // vertex total
	f.i32(1)  // vertex tex reads
	f.i32(0)  // vertex dynamic flow
	f.i32(20) // pixel total
	f.i32(2)  // pixel tex reads
	f.i32(1)  // pixel dynamic flow

	// one buffer: $Global, one var "color"
	f.fixed(GlobalBufferName, smallNameSize)
	f.u8(0) // space
	f.bind(0, 0x3, RegisterConstant)
	f.u32(16) // byte size
	f.u32(1)  // var_count
	f.u32(4)  // default_size
	f.buf.Write([]byte{0, 0, 0x80, 0x3f}) // 1.0f default
	f.fixed("color", smallNameSize)
	f.fixed("", extraFieldSize)
	f.u32(0)  // offset
	f.u32(16) // size
	f.u16(3)  // type
	f.u16(1)  // type_count

	// one vertex component
	f.u32(1) // format
	f.u8(3)  // count
	f.u32(0) // semantic
	f.u8(0)  // semantic_slot

	// one resource
	f.fixed("albedo", smallNameSize)
	f.fixed("white", valueFieldSize)
	f.fixed("srgb", tagsFieldSize)
	f.bind(0, 0x2, RegisterTexture)

	// one stage record
	f.u32(uint32(LanguageSPIRV))
	f.u32(uint32(StageVertex))
	code := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	f.u32(uint32(len(code)))
	f.buf.Write(code)

	return f.buf.Bytes()
}

func TestVerify(t *testing.T) {
	data := buildFixture()
	ok, version, name, err := Verify(data)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || version != CurrentVersion || name != "test_shader" {
		t.Fatalf("ok=%v version=%d name=%q", ok, version, name)
	}
}

func TestVerifyRejectsBadMagic(t *testing.T) {
	data := buildFixture()
	data[0] = 'X'
	ok, _, _, err := Verify(data)
	if ok || err == nil {
		t.Fatalf("expected bad-magic rejection")
	}
}

func TestVerifyRejectsOldVersion(t *testing.T) {
	data := buildFixture()
	binary.LittleEndian.PutUint16(data[8:10], CurrentVersion-1)
	ok, _, _, err := Verify(data)
	if ok || err == nil {
		t.Fatalf("expected old-version rejection")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	data := buildFixture()
	sf, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if sf.Name != "test_shader" {
		t.Fatalf("name = %q", sf.Name)
	}
	if sf.RefCount() != 1 {
		t.Fatalf("refcount = %d, want 1", sf.RefCount())
	}
	if sf.GlobalBufferID != 0 {
		t.Fatalf("global buffer id = %d, want 0", sf.GlobalBufferID)
	}
	gb := sf.GlobalBuffer()
	if gb == nil || gb.ByteSize != 16 || len(gb.Vars) != 1 {
		t.Fatalf("global buffer = %+v", gb)
	}
	if gb.Vars[0].Name != "color" || gb.Vars[0].Size != 16 {
		t.Fatalf("var = %+v", gb.Vars[0])
	}
	if gb.NameHash != HashName(GlobalBufferName) {
		t.Fatalf("buffer name hash mismatch")
	}
	if len(sf.Vertices) != 1 || sf.Vertices[0].Count != 3 {
		t.Fatalf("vertices = %+v", sf.Vertices)
	}
	if len(sf.Resources) != 1 || sf.Resources[0].Name != "albedo" {
		t.Fatalf("resources = %+v", sf.Resources)
	}
	if len(sf.Stages) != 1 || sf.Stages[0].Stage != StageVertex || len(sf.Stages[0].Code) != 8 {
		t.Fatalf("stages = %+v", sf.Stages)
	}
	if sf.VertexOps.Total != 10 || sf.PixelOps.TexReads != 2 {
		t.Fatalf("op counts = %+v %+v", sf.VertexOps, sf.PixelOps)
	}

	// Re-parse and compare structurally.
	sf2, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if sf2.Name != sf.Name || sf2.GlobalBuffer().ByteSize != sf.GlobalBuffer().ByteSize {
		t.Fatalf("re-parse mismatch")
	}
	if sf2.Vertices[0] != sf.Vertices[0] {
		t.Fatalf("vertex component mismatch across reparse")
	}
}

func TestLoadRejectsDuplicateGlobalBuffer(t *testing.T) {
	f := &fixtureBuilder{}
	f.buf.WriteString(Magic)
	f.u16(CurrentVersion)
	f.u32(0) // stage_count
	f.fixed("dup", nameFieldSize)
	f.u32(2) // buffer_count
	f.u32(0) // resource_count
	f.i32(0) // vertex_input_count
	f.i32(0)
	f.i32(0)
	f.i32(0)
	f.i32(0)
	f.i32(0)
	f.i32(0)
	for i := 0; i < 2; i++ {
		f.fixed(GlobalBufferName, smallNameSize)
		f.u8(0)
		f.bind(0, 0, RegisterConstant)
		f.u32(0)
		f.u32(0)
		f.u32(0)
	}
	_, err := Load(f.buf.Bytes())
	if err == nil {
		t.Fatalf("expected error for duplicate $Global buffer")
	}
}

func TestHashNameIsFNV1a64(t *testing.T) {
	// Known FNV-1a 64 test vector for the empty string.
	if got := HashName(""); got != 14695981039346656037 {
		t.Fatalf("HashName(\"\") = %d, want fnv offset basis", got)
	}
}

func TestReleaseReportsLastHolder(t *testing.T) {
	sf := &ShaderFile{refs: 1}
	sf.Retain()
	if sf.Release() {
		t.Fatalf("expected not-last after first release with 2 holders")
	}
	if !sf.Release() {
		t.Fatalf("expected last-holder release")
	}
}
