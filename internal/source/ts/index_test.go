package ts

import (
	"math"
	"testing"
)

func TestEstimateFPS(t *testing.T) {
	t.Parallel()
	seq := func(start, step int64, n int) []int64 {
		out := make([]int64, n)
		for i := range out {
			out[i] = start + int64(i)*step
		}
		return out
	}
	tests := []struct {
		name string
		pts  []int64
		want float64
	}{
		{"30", seq(0, 3000, 20), 30},
		{"25", seq(1000, 3600, 20), 25},
		{"29.97", seq(0, 3003, 20), 30000.0 / 1001},
		{"23.976", seq(0, 3754, 20), 24000.0 / 1001},
		{"60", seq(0, 1500, 20), 60},
		{"B-frame order", []int64{0, 9000, 3000, 6000, 18000, 12000, 15000}, 30},
		{"dropped frame", []int64{0, 3000, 6000, 12000, 15000, 18000}, 30},
		{"uncommon rate", seq(0, 7500, 10), 12},
		{"single", []int64{42}, 0},
		{"duplicates", []int64{5, 5, 5}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := estimateFPS(tt.pts); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("estimateFPS: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ts, ref, want int64
	}{
		{1000, 500, 1000},
		{500, 1000, 500},
		{100, ptsWrap - 9000, ptsWrap + 100},
		{ptsWrap - 100, ptsWrap - 9000, ptsWrap - 100},
	}
	for _, tt := range tests {
		if got := unwrap(tt.ts, tt.ref); got != tt.want {
			t.Errorf("unwrap(%d, %d): got %d, want %d", tt.ts, tt.ref, got, tt.want)
		}
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()
	var x index
	if _, ok := x.find(5, false); ok {
		t.Error("find on empty index succeeded")
	}
	if x.resume() != 0 {
		t.Errorf("resume on empty index: got %d, want 0", x.resume())
	}

	// Decode order with a B-frame: I0 P3 B1 B2 I4 P6 B5.
	for i, f := range []int64{0, 3, 1, 2, 4, 6, 5} {
		x.add(indexEntry{frame: f, offset: int64(i) * 188, keyframe: f%4 == 0})
	}
	x.add(indexEntry{frame: 99, offset: 188}) // already indexed
	if len(x.entries) != 7 {
		t.Fatalf("entries: got %d, want 7", len(x.entries))
	}
	if x.resume() != 6*188 {
		t.Errorf("resume: got %d, want %d", x.resume(), 6*188)
	}

	tests := []struct {
		frame      int64
		anyUnit    bool
		wantFrame  int64
		wantOK     bool
		wantCovers bool
	}{
		{0, false, 0, true, true},
		{3, false, 0, true, true},
		{5, false, 4, true, false},
		{5, true, 5, true, true},
		{2, true, 2, true, true},
		{-1, false, 0, false, true},
	}
	for _, tt := range tests {
		e, ok := x.find(tt.frame, tt.anyUnit)
		if e.frame != tt.wantFrame || ok != tt.wantOK {
			t.Errorf("find(%d, %v): got frame %d ok %v, want frame %d ok %v",
				tt.frame, tt.anyUnit, e.frame, ok, tt.wantFrame, tt.wantOK)
		}
		if got := x.covers(tt.frame, tt.anyUnit); got != tt.wantCovers {
			t.Errorf("covers(%d, %v): got %v, want %v", tt.frame, tt.anyUnit, got, tt.wantCovers)
		}
	}

	x.complete = true
	if !x.covers(1000, false) {
		t.Error("complete index should cover every frame")
	}
}
