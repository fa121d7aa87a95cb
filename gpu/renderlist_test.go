package gpu

import (
	"testing"

	"github.com/skforge/skrender/shaderfile"
)

func TestComputeSortKeyOrdersByQueueThenPipelineThenMeshThenMaterial(t *testing.T) {
	lower := computeSortKey(0, 0, 0, 0)
	higherQueue := computeSortKey(1, 0, 0, 0)
	higherPipeline := computeSortKey(0, 1, 0, 0)
	higherMesh := computeSortKey(0, 0, 1, 0)
	higherMaterial := computeSortKey(0, 0, 0, 1)

	if !(lower < higherQueue && lower < higherPipeline && lower < higherMesh && lower < higherMaterial) {
		t.Fatalf("expected every higher field to sort above the all-zero key")
	}
	if higherQueue < higherPipeline || higherPipeline < higherMesh || higherMesh < higherMaterial {
		t.Fatalf("expected queue offset to dominate pipeline, pipeline to dominate mesh, mesh to dominate material")
	}
}

func TestRenderListSortIsStableAscending(t *testing.T) {
	rl := &RenderList{items: []RenderItem{
		{SortKey: 3},
		{SortKey: 1},
		{SortKey: 2},
		{SortKey: 1},
	}}
	rl.Sort()
	want := []uint64{1, 1, 2, 3}
	for i, w := range want {
		if rl.items[i].SortKey != w {
			t.Fatalf("items[%d].SortKey = %d, want %d", i, rl.items[i].SortKey, w)
		}
	}
}

func TestRenderListBatchesCoalescesConsecutiveMatches(t *testing.T) {
	buf := &Buffer{}
	a := RenderItem{vertexBuffer0: buf, pipelineMaterialIdx: 1, bindStart: 0, firstIndex: 0, indexCount: 6, vertexOffset: 0, InstanceCount: 1}
	b := a
	b.InstanceCount = 2
	c := a
	c.pipelineMaterialIdx = 2
	c.InstanceCount = 1

	rl := &RenderList{items: []RenderItem{a, b, c}}
	batches := rl.batches()
	if len(batches) != 2 {
		t.Fatalf("len(batches) = %d, want 2", len(batches))
	}
	if batches[0].instanceCount != 3 {
		t.Fatalf("batches[0].instanceCount = %d, want 3 (coalesced a+b)", batches[0].instanceCount)
	}
	if batches[1].instanceCount != 1 {
		t.Fatalf("batches[1].instanceCount = %d, want 1", batches[1].instanceCount)
	}
}

func TestRenderListBatchesKeepsDistinctBuffersSeparate(t *testing.T) {
	a := RenderItem{vertexBuffer0: &Buffer{}, InstanceCount: 1}
	b := RenderItem{vertexBuffer0: &Buffer{}, InstanceCount: 1}
	rl := &RenderList{items: []RenderItem{a, b}}
	if got := len(rl.batches()); got != 2 {
		t.Fatalf("len(batches) = %d, want 2 for distinct vertex buffers", got)
	}
}

func TestGlobalWriteRejectsEmptyAndOutOfRangeSlots(t *testing.T) {
	texBind := shaderfile.Bind{Slot: 0, RegisterType: shaderfile.RegisterTexture}

	if _, ok := globalWrite(nil, texBind); ok {
		t.Fatalf("nil globals must not produce a write")
	}
	globals := &GlobalBinds{}
	if _, ok := globalWrite(globals, shaderfile.Bind{Slot: MaxGlobalSlots, RegisterType: shaderfile.RegisterTexture}); ok {
		t.Fatalf("out-of-range slot must not produce a write")
	}
	if _, ok := globalWrite(globals, texBind); ok {
		t.Fatalf("empty slot must not produce a write")
	}
	if _, ok := globalWrite(globals, shaderfile.Bind{Slot: 0, RegisterType: shaderfile.RegisterReadWrite}); ok {
		t.Fatalf("UAV registers have no global source and must never be back-filled")
	}
}

func TestBuildDescriptorWritesRejectsUnsatisfiedBinding(t *testing.T) {
	shader := &shaderfile.ShaderFile{
		Name:           "unlit",
		GlobalBufferID: -1,
		Resources: []*shaderfile.Resource{{
			Name:     "diffuse",
			NameHash: shaderfile.HashName("diffuse"),
			Bind:     shaderfile.Bind{Slot: 0, RegisterType: shaderfile.RegisterTexture},
		}},
	}
	it := &RenderItem{Material: &Material{Shader: shader}}
	rl := &RenderList{}

	if _, ok := rl.buildDescriptorWrites(it, NewBindPool(0), nil, nil, 0, nil, 0, 0, nil, 0); ok {
		t.Fatalf("a declared binding with no material or global source must fail validation")
	}
}

func TestRenderListResetClearsItemsButKeepsCapacity(t *testing.T) {
	rl := NewRenderList(64, 64)
	rl.items = append(rl.items, RenderItem{}, RenderItem{})
	rl.instanceData = append(rl.instanceData, 1, 2, 3)
	rl.instanceDataUsed = 3
	rl.materialData = append(rl.materialData, 4, 5)
	rl.materialDataUsed = 2

	rl.Reset()

	if len(rl.items) != 0 || len(rl.instanceData) != 0 || rl.instanceDataUsed != 0 || len(rl.materialData) != 0 || rl.materialDataUsed != 0 {
		t.Fatalf("Reset did not clear all accumulated state: %+v", rl)
	}
	if cap(rl.instanceData) == 0 || cap(rl.materialData) == 0 {
		t.Fatalf("Reset must not release the preallocated CPU buffers")
	}
}
