package extlibs

import (
	"encoding/binary"
	"math"
	"testing"
)

type fakeAppender struct {
	chunks [][]byte
}

func (f *fakeAppender) AppendBytes(b []byte) error {
	cp := append([]byte(nil), b...)
	f.chunks = append(f.chunks, cp)
	return nil
}

func TestCircularBufferSetGet(t *testing.T) {
	cb := NewCircularBuffer(3, 2, 1)

	if !cb.Set(100, 0, 1.5) {
		t.Fatal("expected Set to succeed on a fresh buffer")
	}
	v, ok := cb.Get(100, 0)
	if !ok || v != 1.5 {
		t.Fatalf("got (%v, %v), want (1.5, true)", v, ok)
	}
}

func TestCircularBufferAddAccumulates(t *testing.T) {
	cb := NewCircularBuffer(3, 1, 1)

	sum, ok := cb.Add(10, 0, 2)
	if !ok || sum != 2 {
		t.Fatalf("first add: got (%v, %v), want (2, true)", sum, ok)
	}
	sum, ok = cb.Add(10, 0, 3)
	if !ok || sum != 5 {
		t.Fatalf("second add: got (%v, %v), want (5, true)", sum, ok)
	}
}

func TestCircularBufferAdvanceEvictsOldRows(t *testing.T) {
	cb := NewCircularBuffer(2, 1, 1)

	cb.Set(10, 0, 1)
	cb.Set(11, 0, 2)
	// Advancing past the window should evict the row at t=10.
	cb.Set(12, 0, 3)

	if _, ok := cb.Get(10, 0); ok {
		t.Fatal("expected the oldest row to have been evicted")
	}
	v, ok := cb.Get(12, 0)
	if !ok || v != 3 {
		t.Fatalf("got (%v, %v), want (3, true)", v, ok)
	}
}

func TestCircularBufferOutOfRangeColumn(t *testing.T) {
	cb := NewCircularBuffer(2, 2, 1)
	if cb.Set(1, 5, 1) {
		t.Fatal("expected out-of-range column to be rejected")
	}
}

func TestCircularBufferDumpOutputHeader(t *testing.T) {
	cb := NewCircularBuffer(2, 2, 5)
	cb.Set(100, 0, 1)
	cb.Set(100, 1, 2)

	app := &fakeAppender{}
	if err := cb.DumpOutput(app); err != nil {
		t.Fatalf("DumpOutput returned error: %v", err)
	}
	if len(app.chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(app.chunks))
	}
	buf := app.chunks[0]
	if len(buf) != 32+8*2*2 {
		t.Fatalf("unexpected dump length %d", len(buf))
	}
	rows := binary.LittleEndian.Uint64(buf[0:8])
	cols := binary.LittleEndian.Uint64(buf[8:16])
	secs := binary.LittleEndian.Uint64(buf[16:24])
	if rows != 2 || cols != 2 || secs != 5 {
		t.Fatalf("unexpected header: rows=%d cols=%d secs=%d", rows, cols, secs)
	}
	// The first write anchors t=100 as the newest row, which is the last
	// row of the dump (rows run oldest to newest).
	firstCell := math.Float64frombits(binary.LittleEndian.Uint64(buf[48:56]))
	if firstCell != 1 {
		t.Fatalf("expected first cell of the newest row to be 1, got %v", firstCell)
	}
}
