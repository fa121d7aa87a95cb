package gpu

import "testing"

func TestAlignUpRoundsToAlignment(t *testing.T) {
	cases := []struct{ v, align, want uint32 }{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{100, 1, 100},
	}
	for _, c := range cases {
		if got := alignUp(c.v, c.align); got != c.want {
			t.Fatalf("alignUp(%d, %d) = %d, want %d", c.v, c.align, got, c.want)
		}
	}
}

func TestAlignUpZeroAlignmentIsNoop(t *testing.T) {
	if got := alignUp(123, 0); got != 123 {
		t.Fatalf("alignUp(123, 0) = %d, want 123 (no-op)", got)
	}
}

func TestBumpAllocatorResetIgnoresOutOfRangeFlightIndex(t *testing.T) {
	b := &BumpAllocator{regions: make([]bumpRegion, 2)}
	b.regions[0].offset = 64
	b.Reset(5) // out of range, must not panic or affect existing regions
	if b.regions[0].offset != 64 {
		t.Fatalf("Reset with an out-of-range flight index must not mutate other regions")
	}
	b.Reset(0)
	if b.regions[0].offset != 0 {
		t.Fatalf("Reset(0) = %d, want 0", b.regions[0].offset)
	}
}
