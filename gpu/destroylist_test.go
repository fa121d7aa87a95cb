package gpu

import "testing"

type recordingHandle struct {
	name string
	log  *[]string
}

func (h recordingHandle) release(_ *Context, _ *BindPool) {
	*h.log = append(*h.log, h.name)
}

func TestDestroyListExecutesInReverseOrder(t *testing.T) {
	var log []string
	d := NewDestroyList(nil)
	d.push(recordingHandle{"image_view", &log})
	d.push(recordingHandle{"image", &log})
	d.push(recordingHandle{"framebuffer", &log})

	d.Execute(nil)

	want := []string{"framebuffer", "image", "image_view"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
	if d.Len() != 0 {
		t.Fatalf("expected list emptied after Execute")
	}
}

func TestDestroyListClearDoesNotExecute(t *testing.T) {
	var log []string
	d := NewDestroyList(nil)
	d.push(recordingHandle{"buffer", &log})
	d.Clear()
	if d.Len() != 0 {
		t.Fatalf("expected cleared list to be empty")
	}
	if len(log) != 0 {
		t.Fatalf("Clear must not execute releases, got %v", log)
	}
}

func TestDestroyListBindPoolSlotsRoutesToPool(t *testing.T) {
	bp := newBindPool(4)
	start, err := bp.alloc(2)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDestroyList(bp)
	d.PushBindPoolSlots(start, 2)
	d.Execute(nil)

	// The range should be free again: allocating 4 slots should now succeed.
	if _, err := bp.alloc(4); err != nil {
		t.Fatalf("expected slots freed back to pool: %v", err)
	}
}
