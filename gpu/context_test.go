package gpu

import "testing"

func TestVkCStringStopsAtFirstNul(t *testing.T) {
	b := make([]byte, 16)
	copy(b, "VK_KHR_swapchain")
	b[len("VK_KHR_swapchain")] = 0
	if got := vkCString(b); got != "VK_KHR_swapchain" {
		t.Fatalf("vkCString = %q, want %q", got, "VK_KHR_swapchain")
	}
}

func TestVkCStringHandlesAllZero(t *testing.T) {
	b := make([]byte, 8)
	if got := vkCString(b); got != "" {
		t.Fatalf("vkCString(all-zero) = %q, want empty string", got)
	}
}

func TestVkCStringHandlesNoTrailingNul(t *testing.T) {
	b := []byte("abc")
	if got := vkCString(b); got != "abc" {
		t.Fatalf("vkCString(no nul) = %q, want %q", got, "abc")
	}
}
