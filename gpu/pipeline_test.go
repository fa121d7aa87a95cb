package gpu

import (
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/skforge/skrender/shaderfile"
)

func TestDefaultMaterialStateMatchesSpecDefaults(t *testing.T) {
	s := DefaultMaterialState()
	if s.Cull != vk.CullModeBackBit {
		t.Errorf("Cull = %v, want back-face culling", s.Cull)
	}
	if s.DepthTest != vk.CompareOpLess {
		t.Errorf("DepthTest = %v, want Less", s.DepthTest)
	}
	if !s.DepthWrite {
		t.Error("DepthWrite = false, want true")
	}
	if s.WriteMask != WriteMaskColor|WriteMaskDepth {
		t.Errorf("WriteMask = %v, want color|depth", s.WriteMask)
	}
	if s.Blend.Enabled {
		t.Error("Blend.Enabled = true, want false by default")
	}
}

func TestHashVertexComponentsIsOrderSensitive(t *testing.T) {
	a := []shaderfile.VertexComponent{
		{Format: 1, Count: 3, Semantic: 0, SemanticSlot: 0},
		{Format: 2, Count: 2, Semantic: 1, SemanticSlot: 0},
	}
	b := []shaderfile.VertexComponent{a[1], a[0]}

	if hashVertexComponents(a) == hashVertexComponents(b) {
		t.Error("hashVertexComponents should distinguish component order")
	}
	if hashVertexComponents(a) != hashVertexComponents(a) {
		t.Error("hashVertexComponents should be deterministic for identical input")
	}
}

func TestBindSlotDescriptorTypeMapping(t *testing.T) {
	cases := []struct {
		rt       shaderfile.RegisterType
		wantType vk.DescriptorType
		wantShift uint32
	}{
		{shaderfile.RegisterConstant, vk.DescriptorTypeUniformBuffer, shaderfile.BindShiftBuffer},
		{shaderfile.RegisterTexture, vk.DescriptorTypeCombinedImageSampler, shaderfile.BindShiftTexture},
		{shaderfile.RegisterReadBuffer, vk.DescriptorTypeStorageBuffer, shaderfile.BindShiftTexture},
		{shaderfile.RegisterReadWrite, vk.DescriptorTypeStorageBuffer, shaderfile.BindShiftUAV},
		{shaderfile.RegisterReadWriteTex, vk.DescriptorTypeStorageImage, shaderfile.BindShiftUAV},
	}
	for _, c := range cases {
		gotType, gotShift, ok := bindSlotDescriptorType(c.rt)
		if !ok {
			t.Errorf("register type %v: expected ok=true", c.rt)
			continue
		}
		if gotType != c.wantType || gotShift != c.wantShift {
			t.Errorf("register type %v: got (%v, %d), want (%v, %d)", c.rt, gotType, gotShift, c.wantType, c.wantShift)
		}
	}
	if _, _, ok := bindSlotDescriptorType(shaderfile.RegisterDefault); ok {
		t.Error("RegisterDefault should not map to a descriptor slot")
	}
}

func TestFormatByteSizeKnownFormats(t *testing.T) {
	if formatByteSize(vk.FormatR32Sfloat) != 4 {
		t.Error("R32Sfloat should be 4 bytes")
	}
	if formatByteSize(vk.FormatR16Sfloat) != 2 {
		t.Error("R16Sfloat should be 2 bytes")
	}
	if formatByteSize(vk.FormatR8Unorm) != 2 {
		t.Error("R8Unorm should fall into the 2-byte bucket in this table")
	}
}

func TestBytesToUint32SliceRoundsUpAndZeroPads(t *testing.T) {
	out := bytesToUint32Slice([]byte{1, 0, 0, 0, 2})
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0] != 1 {
		t.Errorf("out[0] = %d, want 1", out[0])
	}
	if out[1] != 2 {
		t.Errorf("out[1] = %d, want 2 (zero-padded trailing bytes)", out[1])
	}
}

func TestPipelineCacheLenAndEvict(t *testing.T) {
	pc := &PipelineCache{pipelines: map[pipelineKey]vk.Pipeline{
		{materialIdx: 1, renderPassIdx: 0, vertIdx: 0}: vk.Pipeline(nil),
		{materialIdx: 1, renderPassIdx: 1, vertIdx: 0}: vk.Pipeline(nil),
		{materialIdx: 2, renderPassIdx: 0, vertIdx: 0}: vk.Pipeline(nil),
	}, dl: &DestroyList{}}

	if pc.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", pc.Len())
	}
	pc.Evict(1)
	if pc.Len() != 1 {
		t.Fatalf("Len() after Evict(1) = %d, want 1", pc.Len())
	}
	if _, ok := pc.pipelines[pipelineKey{materialIdx: 2, renderPassIdx: 0, vertIdx: 0}]; !ok {
		t.Error("Evict(1) should not remove material 2's pipeline")
	}
}
