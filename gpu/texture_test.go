package gpu

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestIsDepthFormat(t *testing.T) {
	depth := []vk.Format{vk.FormatD16Unorm, vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32Sfloat, vk.FormatD32SfloatS8Uint, vk.FormatX8D24UnormPack32}
	for _, f := range depth {
		if !isDepthFormat(f) {
			t.Errorf("isDepthFormat(%v) = false, want true", f)
		}
	}
	if isDepthFormat(vk.FormatR8g8b8a8Unorm) {
		t.Errorf("isDepthFormat(color format) = true, want false")
	}
}

func TestHasStencilComponent(t *testing.T) {
	withStencil := []vk.Format{vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint}
	for _, f := range withStencil {
		if !hasStencilComponent(f) {
			t.Errorf("hasStencilComponent(%v) = false, want true", f)
		}
	}
	if hasStencilComponent(vk.FormatD32Sfloat) {
		t.Errorf("hasStencilComponent(D32Sfloat) = true, want false (no stencil plane)")
	}
}

func TestIsYcbcrFormat(t *testing.T) {
	if !isYcbcrFormat(vk.FormatG8B8R82Plane420Unorm) || !isYcbcrFormat(vk.FormatG8B8R83Plane420Unorm) {
		t.Errorf("expected both core-1.1 planar 420 formats to report YCbCr")
	}
	if isYcbcrFormat(vk.FormatR8g8b8a8Unorm) {
		t.Errorf("isYcbcrFormat(color format) = true, want false")
	}
}

func TestViewTypeSelection(t *testing.T) {
	cases := []struct {
		name string
		info TextureCreateInfo
		want vk.ImageViewType
	}{
		{"2d", TextureCreateInfo{}, vk.ImageViewType2d},
		{"3d", TextureCreateInfo{Depth: 4}, vk.ImageViewType3d},
		{"array", TextureCreateInfo{Flags: TextureArray}, vk.ImageViewType2dArray},
		{"cube", TextureCreateInfo{Flags: TextureCubemap, LayerCount: 6}, vk.ImageViewTypeCube},
		{"cube array", TextureCreateInfo{Flags: TextureCubemap, LayerCount: 12}, vk.ImageViewTypeCubeArray},
	}
	for _, c := range cases {
		if got := viewType(c.info); got != c.want {
			t.Errorf("%s: viewType = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestNeedsTransitionReportsWhenLayoutDiffers(t *testing.T) {
	tex := &Texture{Layout: LayoutState{CurrentLayout: vk.ImageLayoutUndefined}}
	if !NeedsTransition(tex, TransitionShaderRead) {
		t.Fatal("expected a texture in UNDEFINED to need a transition to shader-read")
	}
	tex.Layout.CurrentLayout = vk.ImageLayoutShaderReadOnlyOptimal
	if NeedsTransition(tex, TransitionShaderRead) {
		t.Fatal("texture already in the target layout should not need a transition")
	}
}

func TestTransitionKindTargetIsDistinctPerKind(t *testing.T) {
	kinds := []TransitionKind{TransitionShaderRead, TransitionTransferSrc, TransitionTransferDst, TransitionColorAttachment, TransitionDepthAttachment, TransitionStorage, TransitionPresent}
	seen := make(map[vk.ImageLayout]int)
	for _, k := range kinds {
		layout, _, _ := k.target()
		seen[layout]++
	}
	if seen[vk.ImageLayoutShaderReadOnlyOptimal] != 1 {
		t.Errorf("expected exactly one kind to target SHADER_READ_ONLY_OPTIMAL")
	}
	if len(seen) != len(kinds) {
		t.Errorf("expected %d distinct target layouts, got %d", len(kinds), len(seen))
	}
}

func TestApplyImplicitTransientDiscardFlagsUnreadableDepth(t *testing.T) {
	flags := applyImplicitTransientDiscard(vk.FormatD32Sfloat, 0)
	if !flags.has(TextureTransientDiscard) {
		t.Fatal("expected unreadable depth to be flagged transient at creation")
	}
	flags = applyImplicitTransientDiscard(vk.FormatD32Sfloat, TextureReadable)
	if flags.has(TextureTransientDiscard) {
		t.Fatal("readable depth must not be implicitly flagged transient")
	}
	flags = applyImplicitTransientDiscard(vk.FormatR8g8b8a8Unorm, 0)
	if flags.has(TextureTransientDiscard) {
		t.Fatal("color formats must not be implicitly flagged transient")
	}
}

func TestApplyTransientDiscardResetsFlaggedDepth(t *testing.T) {
	tex := &Texture{
		Format: vk.FormatD32Sfloat,
		Flags:  applyImplicitTransientDiscard(vk.FormatD32Sfloat, 0),
		Layout: LayoutState{CurrentLayout: vk.ImageLayoutDepthStencilAttachmentOptimal},
	}
	ApplyTransientDiscard(tex)
	if tex.Layout.CurrentLayout != vk.ImageLayoutUndefined {
		t.Fatalf("expected unreadable depth texture to reset to UNDEFINED, got %v", tex.Layout.CurrentLayout)
	}
}

func TestApplyTransientDiscardResetsFlaggedMSAAColor(t *testing.T) {
	tex := &Texture{
		Format:  vk.FormatR8g8b8a8Unorm,
		Samples: vk.SampleCount4Bit,
		Flags:   TextureRenderTarget | TextureTransientDiscard,
		Layout:  LayoutState{CurrentLayout: vk.ImageLayoutColorAttachmentOptimal},
	}
	ApplyTransientDiscard(tex)
	if tex.Layout.CurrentLayout != vk.ImageLayoutUndefined {
		t.Fatalf("expected a transient-flagged MSAA color target to reset to UNDEFINED, got %v", tex.Layout.CurrentLayout)
	}
}

func TestApplyTransientDiscardLeavesReadableDepthAlone(t *testing.T) {
	tex := &Texture{Format: vk.FormatD32Sfloat, Flags: TextureReadable, Layout: LayoutState{CurrentLayout: vk.ImageLayoutDepthStencilAttachmentOptimal}}
	ApplyTransientDiscard(tex)
	if tex.Layout.CurrentLayout != vk.ImageLayoutDepthStencilAttachmentOptimal {
		t.Fatalf("expected readable depth texture layout to be left alone, got %v", tex.Layout.CurrentLayout)
	}
}

func TestApplyTransientDiscardLeavesUnflaggedColorAlone(t *testing.T) {
	tex := &Texture{Format: vk.FormatR8g8b8a8Unorm, Layout: LayoutState{CurrentLayout: vk.ImageLayoutColorAttachmentOptimal}}
	ApplyTransientDiscard(tex)
	if tex.Layout.CurrentLayout != vk.ImageLayoutColorAttachmentOptimal {
		t.Fatalf("expected an unflagged color texture layout to be left alone, got %v", tex.Layout.CurrentLayout)
	}
}

func TestTextureFramebufferCacheHitRequiresMatchingPassIdentity(t *testing.T) {
	tex := &Texture{}
	dl := NewDestroyList(nil)
	var fb vk.Framebuffer
	tex.SetFramebuffer(false, fb, 7, dl)

	if _, ok := tex.Framebuffer(false, 8); ok {
		t.Fatal("expected a miss for a different pass identity")
	}
	if _, ok := tex.Framebuffer(false, 7); !ok {
		t.Fatal("expected a hit for the same pass identity")
	}
	if _, ok := tex.Framebuffer(true, 7); ok {
		t.Fatal("expected the with-depth slot to be independent of the no-depth slot")
	}
}

func TestTransitionQueueEnqueueKeepsHigherPriorityKind(t *testing.T) {
	q := NewTransitionQueue()
	tex := &Texture{}
	q.Enqueue(tex, TransitionShaderRead)
	q.Enqueue(tex, TransitionColorAttachment)
	if got := q.pending[tex]; got != TransitionColorAttachment {
		t.Fatalf("pending kind = %v, want TransitionColorAttachment (higher priority)", got)
	}
	q.Enqueue(tex, TransitionShaderRead)
	if got := q.pending[tex]; got != TransitionColorAttachment {
		t.Fatalf("a lower-priority Enqueue must not downgrade the pending kind, got %v", got)
	}
}
