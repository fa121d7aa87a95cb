package gpu

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestBufferKindUsageBit(t *testing.T) {
	cases := map[BufferKind]vk.BufferUsageFlagBits{
		BufferKindVertex:   vk.BufferUsageVertexBufferBit,
		BufferKindIndex:    vk.BufferUsageIndexBufferBit,
		BufferKindConstant: vk.BufferUsageUniformBufferBit,
		BufferKindStorage:  vk.BufferUsageStorageBufferBit,
	}
	for kind, want := range cases {
		if got := kind.usageBit(); got != want {
			t.Errorf("BufferKind(%d).usageBit() = %v, want %v", kind, got, want)
		}
	}
}

func TestBufferUsageFlagsStaticAddsTransferDst(t *testing.T) {
	got := bufferUsageFlags(BufferKindVertex, BufferStatic, BufferComputeNone)
	want := vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit) | vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
	if got != want {
		t.Fatalf("bufferUsageFlags(static) = %v, want %v", got, want)
	}
}

func TestBufferUsageFlagsDynamicOmitsTransferDst(t *testing.T) {
	got := bufferUsageFlags(BufferKindVertex, BufferDynamic, BufferComputeNone)
	want := vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	if got != want {
		t.Fatalf("bufferUsageFlags(dynamic) = %v, want %v", got, want)
	}
}

func TestBufferUsageFlagsComputeAddsStorageAndTransferDst(t *testing.T) {
	got := bufferUsageFlags(BufferKindConstant, BufferDynamic, BufferComputeReadWrite)
	want := vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit) | vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit|vk.BufferUsageTransferDstBit)
	if got != want {
		t.Fatalf("bufferUsageFlags(compute read-write) = %v, want %v", got, want)
	}
}

func TestBufferSetRejectsStaticBuffer(t *testing.T) {
	b := &Buffer{Storage: BufferStatic, Name: "test"}
	if err := b.Set([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected Set on a static buffer to be rejected")
	}
}

func TestBufferSetRejectsDataLargerThanCapacity(t *testing.T) {
	b := &Buffer{Storage: BufferDynamic, Capacity: 2, Name: "test"}
	if err := b.Set([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected Set with data exceeding capacity to be rejected")
	}
}
