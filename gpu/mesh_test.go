package gpu

import "testing"

func TestIndexFormatByteSize(t *testing.T) {
	cases := map[IndexFormat]uint32{
		IndexFormatNone:   0,
		IndexFormatUint16: 2,
		IndexFormatUint32: 4,
	}
	for format, want := range cases {
		if got := format.byteSize(); got != want {
			t.Errorf("IndexFormat(%d).byteSize() = %d, want %d", format, got, want)
		}
	}
}

func TestMeshAddVertexStreamRejectsBeyondMax(t *testing.T) {
	m := &Mesh{streamCount: MaxVertexBuffers}
	_, err := m.AddVertexStream(nil, nil, nil, nil, 0, nil, 0)
	if err == nil {
		t.Fatal("expected error adding a stream beyond MaxVertexBuffers")
	}
}

func TestMeshSetStreamVertsRejectsUnregisteredStream(t *testing.T) {
	m := &Mesh{streamCount: 1}
	err := m.setStreamVerts(nil, nil, nil, 3, nil, 0, nil)
	if err == nil {
		t.Fatal("expected error setting verts on an unregistered stream index")
	}
}
