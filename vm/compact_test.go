package vm

import (
	"math"
	"testing"
)

func TestCompactSizes(t *testing.T) {
	tests := []struct {
		v    int32
		want int
	}{
		{0, 1},
		{1, 1},
		{-1, 1},
		{63, 1},
		{-63, 1},
		{64, 2},
		{-64, 2},
		{8191, 2},
		{8192, 3},
		{1<<20 - 1, 3},
		{1 << 20, 4},
		{1<<27 - 1, 4},
		{1 << 27, 5},
		{math.MaxInt32, 5},
		{math.MinInt32 + 1, 5},
	}
	for _, tt := range tests {
		if got := CompactSize(tt.v); got != tt.want {
			t.Errorf("CompactSize(%d): got %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestCompactRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 63, 64, -64, 127, 128, 8191, 8192, -8192, 1 << 20, -(1 << 20),
		1<<27 - 1, 1 << 27, math.MaxInt32, math.MinInt32 + 1}

	for _, v := range values {
		buf := AppendCompact(nil, v)
		got, n := DecodeCompact(buf)
		if n != len(buf) {
			t.Errorf("DecodeCompact(%d): consumed %d of %d bytes", v, n, len(buf))
		}
		if got != v {
			t.Errorf("DecodeCompact(AppendCompact(%d)): got %d", v, got)
		}
	}
}

func TestCompactThroughArchive(t *testing.T) {
	rt := NewRuntime(Options{})
	values := []int32{0, -5, 300, -70000, math.MaxInt32}

	w := NewMemoryWriter(rt, 0)
	for i := range values {
		SerializeCompact(w, &values[i])
	}

	r := NewMemoryReader(rt, w.Bytes(), 0)
	for _, want := range values {
		var got int32
		SerializeCompact(r, &got)
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
	if r.Err() != nil {
		t.Fatalf("read error: %v", r.Err())
	}
	if r.Tell() != int64(len(w.Bytes())) {
		t.Errorf("reader stopped at %d of %d bytes", r.Tell(), len(w.Bytes()))
	}
}

func TestCompactTruncated(t *testing.T) {
	buf := AppendCompact(nil, 1<<20)
	if _, n := DecodeCompact(buf[:len(buf)-1]); n != 0 {
		t.Errorf("DecodeCompact on truncated input consumed %d bytes, want 0", n)
	}

	rt := NewRuntime(Options{})
	r := NewMemoryReader(rt, buf[:1], 0)
	var v int32 = 7
	SerializeCompact(r, &v)
	if r.Err() == nil {
		t.Fatal("expected an error reading a truncated compact index")
	}
	if v != 0 {
		t.Errorf("truncated read left %d, want 0", v)
	}
}
