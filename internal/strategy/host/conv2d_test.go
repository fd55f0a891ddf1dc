package host

import (
	"testing"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// TestConv2D_Forward tests a hand-computed 3x3 input with a 2x2 kernel.
func TestConv2D_Forward(t *testing.T) {
	conv := Conv2D{}

	x, _ := tensor.FromSlice([]float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3})
	w, _ := tensor.FromSlice([]float32{
		1, 0,
		0, 1,
	}, tensor.Shape{1, 1, 2, 2})

	z, err := conv.Forward(x, w, nil, [2]int{1, 1}, [2]int{0, 0})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !z.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("output shape %v, want [1 1 2 2]", z.Shape())
	}

	// Each output = top-left + bottom-right of the window.
	want := []float32{6, 8, 12, 14}
	for i := range want {
		if z.Float32s()[i] != want[i] {
			t.Errorf("z[%d] = %v, want %v", i, z.Float32s()[i], want[i])
		}
	}
}

func TestConv2D_ForwardWithPaddingAndBias(t *testing.T) {
	conv := Conv2D{}

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	w, _ := tensor.FromSlice([]float32{1}, tensor.Shape{1, 1, 1, 1})
	b, _ := tensor.FromSlice([]float32{10}, tensor.Shape{1})

	// 1x1 kernel with padding 1: output is 4x4, padded ring contributes
	// only the bias.
	z, err := conv.Forward(x, w, b, [2]int{1, 1}, [2]int{1, 1})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !z.Shape().Equal(tensor.Shape{1, 1, 4, 4}) {
		t.Fatalf("output shape %v, want [1 1 4 4]", z.Shape())
	}
	zd := z.Float32s()
	if zd[0] != 10 {
		t.Errorf("padded corner = %v, want 10", zd[0])
	}
	if zd[5] != 11 { // (1,1) hits x[0,0]=1
		t.Errorf("z[1,1] = %v, want 11", zd[5])
	}
}

// TestConv2D_BackwardGradientMass verifies gradient bookkeeping: with a
// one-filled kernel and stride 1 without padding, every dZ element spreads
// exactly once into each kernel position.
func TestConv2D_BackwardGradientMass(t *testing.T) {
	conv := Conv2D{}

	x, _ := tensor.FromSlice([]float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, tensor.Shape{1, 1, 3, 3})
	w, _ := tensor.FromSlice([]float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2})
	dz, _ := tensor.FromSlice([]float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2})

	dx, dw, db, err := conv.Backward(x, w, dz, [2]int{1, 1}, [2]int{0, 0}, true)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	// dx counts how many windows cover each input position.
	wantDx := []float32{1, 2, 1, 2, 4, 2, 1, 2, 1}
	for i := range wantDx {
		if dx.Float32s()[i] != wantDx[i] {
			t.Errorf("dx[%d] = %v, want %v", i, dx.Float32s()[i], wantDx[i])
		}
	}

	// dw[kh,kw] = sum over windows of the input value at that offset.
	wantDw := []float32{1 + 2 + 4 + 5, 2 + 3 + 5 + 6, 4 + 5 + 7 + 8, 5 + 6 + 8 + 9}
	for i := range wantDw {
		if dw.Float32s()[i] != wantDw[i] {
			t.Errorf("dw[%d] = %v, want %v", i, dw.Float32s()[i], wantDw[i])
		}
	}

	if db.Float32s()[0] != 4 {
		t.Errorf("db = %v, want 4", db.Float32s()[0])
	}
}

func TestConv2D_BackwardSkipsWeightGrads(t *testing.T) {
	conv := Conv2D{}
	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	w, _ := tensor.FromSlice([]float32{1}, tensor.Shape{1, 1, 1, 1})
	dz, _ := tensor.FromSlice([]float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2})

	dx, dw, db, err := conv.Backward(x, w, dz, [2]int{1, 1}, [2]int{0, 0}, false)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	if dx == nil || dw != nil || db != nil {
		t.Error("expected dx only when weight gradients are not requested")
	}
}
