package gpu

import "testing"

func TestBindPoolAllocFreeRoundTrip(t *testing.T) {
	p := newBindPool(8)
	start, err := p.alloc(3)
	if err != nil || start != 0 {
		t.Fatalf("alloc(3) = %d, %v", start, err)
	}
	start2, err := p.alloc(3)
	if err != nil || start2 != 3 {
		t.Fatalf("alloc(3) = %d, %v", start2, err)
	}
	p.free(start, 3)
	start3, err := p.alloc(3)
	if err != nil || start3 != 0 {
		t.Fatalf("expected reused range at 0, got %d, %v", start3, err)
	}
}

func TestBindPoolExhausted(t *testing.T) {
	p := newBindPool(4)
	if _, err := p.alloc(4); err != nil {
		t.Fatal(err)
	}
	if _, err := p.alloc(1); err == nil {
		t.Fatalf("expected exhaustion error")
	}
}

func TestBindPoolFreeCoalescesAdjacentRanges(t *testing.T) {
	p := newBindPool(8)
	a, _ := p.alloc(2)
	b, _ := p.alloc(2)
	p.free(a, 2)
	p.free(b, 2)
	// The whole pool should be a single free range again, allowing one
	// allocation of the full capacity.
	if _, err := p.alloc(8); err != nil {
		t.Fatalf("expected coalesced full-capacity allocation: %v", err)
	}
}
