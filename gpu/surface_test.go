package gpu

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestPickSurfaceFormatPrefersSrgb(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	got := pickSurfaceFormat(formats)
	if got.Format != vk.FormatB8g8r8a8Srgb {
		t.Fatalf("pickSurfaceFormat = %v, want FormatB8g8r8a8Srgb when available", got.Format)
	}
}

func TestPickSurfaceFormatFallsBackToUnorm(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	got := pickSurfaceFormat(formats)
	if got.Format != vk.FormatB8g8r8a8Unorm {
		t.Fatalf("pickSurfaceFormat = %v, want FormatB8g8r8a8Unorm fallback", got.Format)
	}
}

func TestPickSurfaceFormatFallsBackToFirstWhenNeitherPreferredPresent(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	got := pickSurfaceFormat(formats)
	if got.Format != vk.FormatR8g8b8a8Unorm {
		t.Fatalf("pickSurfaceFormat = %v, want the sole available format", got.Format)
	}
}

func TestPickSurfaceFormatHandlesEmptyList(t *testing.T) {
	got := pickSurfaceFormat(nil)
	if got.Format != vk.FormatB8g8r8a8Unorm || got.ColorSpace != vk.ColorSpaceSrgbNonlinear {
		t.Fatalf("pickSurfaceFormat(nil) = %+v, want the hardcoded backstop", got)
	}
}

func TestPickPresentModePrefersMailbox(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeFifoRelaxed, vk.PresentModeMailbox}
	if got := pickPresentMode(modes); got != vk.PresentModeMailbox {
		t.Fatalf("pickPresentMode = %v, want Mailbox", got)
	}
}

func TestPickPresentModeFallsBackToFifoRelaxed(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeFifoRelaxed}
	if got := pickPresentMode(modes); got != vk.PresentModeFifoRelaxed {
		t.Fatalf("pickPresentMode = %v, want FifoRelaxed", got)
	}
}

func TestPickPresentModeFallsBackToFifo(t *testing.T) {
	if got := pickPresentMode([]vk.PresentMode{vk.PresentModeFifo}); got != vk.PresentModeFifo {
		t.Fatalf("pickPresentMode = %v, want Fifo", got)
	}
	if got := pickPresentMode(nil); got != vk.PresentModeFifo {
		t.Fatalf("pickPresentMode(nil) = %v, want Fifo backstop", got)
	}
}

func TestClampExtentClampsBothDimensions(t *testing.T) {
	want := vk.Extent2D{Width: 10, Height: 4000}
	min := vk.Extent2D{Width: 64, Height: 64}
	max := vk.Extent2D{Width: 2048, Height: 2048}
	got := clampExtent(want, min, max)
	if got.Width != 64 || got.Height != 2048 {
		t.Fatalf("clampExtent = %+v, want {64 2048}", got)
	}
}

func TestClampExtentPassesThroughInRange(t *testing.T) {
	want := vk.Extent2D{Width: 800, Height: 600}
	min := vk.Extent2D{Width: 1, Height: 1}
	max := vk.Extent2D{Width: 4096, Height: 4096}
	if got := clampExtent(want, min, max); got != want {
		t.Fatalf("clampExtent = %+v, want unchanged %+v", got, want)
	}
}

func TestSurfaceSemaphoreIndexingAndFrameAdvance(t *testing.T) {
	s := &Surface{
		acquireSem: make([]vk.Semaphore, 3),
		submitSem:  make([]vk.Semaphore, 3),
		frameFuture: make([]Future, 3),
	}
	s.CurrentImage = 2
	if s.AcquireSemaphore() != s.acquireSem[0] {
		t.Fatal("AcquireSemaphore should be indexed by frameIdx, not CurrentImage")
	}
	if s.SubmitSemaphore() != s.submitSem[2] {
		t.Fatal("SubmitSemaphore should be indexed by CurrentImage")
	}

	var f Future
	s.SetFuture(f)
	if s.frameFuture[s.CurrentImage] != f {
		t.Fatal("SetFuture must record into the CurrentImage slot")
	}

	s.AdvanceFrame()
	if s.frameIdx != 1 {
		t.Fatalf("frameIdx after AdvanceFrame = %d, want 1", s.frameIdx)
	}
	s.frameIdx = 2
	s.AdvanceFrame()
	if s.frameIdx != 0 {
		t.Fatalf("frameIdx should wrap around the ring, got %d", s.frameIdx)
	}
}
