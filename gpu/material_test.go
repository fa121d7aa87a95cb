package gpu

import (
	"testing"

	"github.com/skforge/skrender/shaderfile"
)

func newTestMaterial(t *testing.T) *Material {
	t.Helper()
	global := &shaderfile.Buffer{
		Name:     shaderfile.GlobalBufferName,
		NameHash: shaderfile.HashName(shaderfile.GlobalBufferName),
		ByteSize: 16,
		Defaults: []byte{1, 2, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		Vars: []shaderfile.Var{
			{Name: "tint", NameHash: shaderfile.HashName("tint"), Offset: 4, Size: 4},
		},
	}
	tex := &shaderfile.Resource{
		Name:     "albedo",
		NameHash: shaderfile.HashName("albedo"),
		Bind:     shaderfile.Bind{Slot: 0, RegisterType: shaderfile.RegisterTexture},
	}
	sf := &shaderfile.ShaderFile{
		Name:           "test",
		Buffers:        []*shaderfile.Buffer{global},
		Resources:      []*shaderfile.Resource{tex},
		GlobalBufferID: 0,
	}
	sf.Retain()

	pool := NewBindPool(4)
	m := &Material{
		Shader:      sf,
		State:       DefaultMaterialState(),
		ParamBuffer: make([]byte, global.ByteSize),
		BindPool:    pool,
		binds:       []bindEntry{{nameHash: tex.NameHash, bind: tex.Bind}},
		BindCount:   1,
	}
	copy(m.ParamBuffer, global.Defaults)
	return m
}

func TestMaterialSetParamWritesAtOffset(t *testing.T) {
	m := newTestMaterial(t)
	if err := m.SetParam("tint", []byte{9, 9, 9, 9}); err != nil {
		t.Fatalf("SetParam: %v", err)
	}
	want := []byte{1, 2, 3, 4, 9, 9, 9, 9, 0, 0, 0, 0, 0, 0, 0, 0}
	for i, b := range want {
		if m.ParamBuffer[i] != b {
			t.Fatalf("ParamBuffer[%d] = %d, want %d", i, m.ParamBuffer[i], b)
		}
	}
}

func TestMaterialSetParamRejectsOversizedWrite(t *testing.T) {
	m := newTestMaterial(t)
	if err := m.SetParam("tint", []byte{1, 2, 3, 4, 5}); err == nil {
		t.Fatal("expected error writing more bytes than the var declares")
	}
}

func TestMaterialSetParamRejectsUnknownName(t *testing.T) {
	m := newTestMaterial(t)
	if err := m.SetParam("nonexistent", []byte{1}); err == nil {
		t.Fatal("expected error for unknown parameter name")
	}
}

func TestMaterialFindBindLocatesResourceByName(t *testing.T) {
	m := newTestMaterial(t)
	entry, slot, ok := m.findBind("albedo")
	if !ok {
		t.Fatal("expected to find bind entry for albedo")
	}
	if slot != m.BindStart {
		t.Errorf("slot = %d, want %d", slot, m.BindStart)
	}
	if entry.bind.RegisterType != shaderfile.RegisterTexture {
		t.Errorf("RegisterType = %v, want RegisterTexture", entry.bind.RegisterType)
	}
}

func TestMaterialFindBindMissingReturnsFalse(t *testing.T) {
	m := newTestMaterial(t)
	if _, _, ok := m.findBind("missing"); ok {
		t.Fatal("expected findBind to report not found")
	}
}
