package gpu

import "testing"

func TestSelectFreeSlotPrefersRingIndex(t *testing.T) {
	var alive [MaxCommandRing]bool
	idx, found := selectFreeSlot(alive, 1)
	if !found || idx != 1 {
		t.Fatalf("selectFreeSlot = %d, %v; want 1, true", idx, found)
	}
}

func TestSelectFreeSlotSkipsAliveSlots(t *testing.T) {
	alive := [MaxCommandRing]bool{true, true, false}
	idx, found := selectFreeSlot(alive, 0)
	if !found || idx != 2 {
		t.Fatalf("selectFreeSlot = %d, %v; want 2, true", idx, found)
	}
}

func TestSelectFreeSlotWrapsAroundRing(t *testing.T) {
	alive := [MaxCommandRing]bool{false, true, true}
	idx, found := selectFreeSlot(alive, 1)
	if !found || idx != 0 {
		t.Fatalf("selectFreeSlot = %d, %v; want 0, true (wrap)", idx, found)
	}
}

func TestSelectFreeSlotReportsNotFoundWhenFull(t *testing.T) {
	alive := [MaxCommandRing]bool{true, true, true}
	if _, found := selectFreeSlot(alive, 0); found {
		t.Fatalf("expected not found when every slot is alive")
	}
}

func TestFutureZeroValueIsAlwaysDone(t *testing.T) {
	var f Future
	if !f.Check() {
		t.Fatalf("zero-value Future should report done")
	}
	// Wait must not block or panic on a zero-value Future.
	f.Wait()
}

func TestThreadStateAliveMask(t *testing.T) {
	ts := &threadState{}
	ts.slots[0] = &threadSlot{alive: true}
	ts.slots[2] = &threadSlot{alive: false}
	mask := ts.aliveMask()
	want := [MaxCommandRing]bool{true, false, false}
	if mask != want {
		t.Fatalf("aliveMask = %v, want %v", mask, want)
	}
}

func TestThreadTableStateRejectsForeignHandle(t *testing.T) {
	tt1 := &ThreadTable{}
	tt2 := &ThreadTable{}
	h := &ThreadHandle{idx: 0, table: tt2}
	if _, err := tt1.state(h); err == nil {
		t.Fatalf("expected error resolving a handle minted by a different table")
	}
}
