package host

import (
	"math"
	"testing"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// TestMaxPool2D_ForwardWithIndices tests pooled values and unpooling indices.
func TestMaxPool2D_ForwardWithIndices(t *testing.T) {
	pool := MaxPool2D{}

	// Input: [1, 1, 4, 4] with sequential values 1-16.
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i + 1)
	}
	x, _ := tensor.FromSlice(data, tensor.Shape{1, 1, 4, 4})

	z, indices, err := pool.Forward(x, [2]int{2, 2}, [2]int{2, 2}, [2]int{0, 0})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !z.Shape().Equal(tensor.Shape{1, 1, 2, 2}) {
		t.Fatalf("output shape %v, want [1 1 2 2]", z.Shape())
	}

	wantZ := []float32{6, 8, 14, 16}
	wantIdx := []int{5, 7, 13, 15}
	for i := range wantZ {
		if z.Float32s()[i] != wantZ[i] {
			t.Errorf("z[%d] = %v, want %v", i, z.Float32s()[i], wantZ[i])
		}
		if indices[i] != wantIdx[i] {
			t.Errorf("indices[%d] = %d, want %d", i, indices[i], wantIdx[i])
		}
	}
}

// TestMaxPool2D_NonFiniteWindow tests that a window with no finite value is
// an error rather than a silently short index list.
func TestMaxPool2D_NonFiniteWindow(t *testing.T) {
	pool := MaxPool2D{}

	nan := float32(math.NaN())
	x, _ := tensor.FromSlice([]float32{nan, nan, nan, nan, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, tensor.Shape{1, 1, 4, 4})

	_, _, err := pool.Forward(x, [2]int{2, 2}, [2]int{2, 2}, [2]int{0, 0})
	if err == nil {
		t.Fatal("expected error for all-NaN pooling window")
	}
}

// TestMaxPool2D_NaNSkipped tests that a window with some finite values still
// pools correctly.
func TestMaxPool2D_NaNSkipped(t *testing.T) {
	pool := MaxPool2D{}

	nan := float32(math.NaN())
	x, _ := tensor.FromSlice([]float32{nan, 2, 3, nan}, tensor.Shape{1, 1, 2, 2})

	z, indices, err := pool.Forward(x, [2]int{2, 2}, [2]int{2, 2}, [2]int{0, 0})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if z.Float32s()[0] != 3 || indices[0] != 2 {
		t.Errorf("got z=%v idx=%v, want 3 at index 2", z.Float32s()[0], indices[0])
	}
}

func TestMaxPool2D_Backward(t *testing.T) {
	pool := MaxPool2D{}

	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i + 1)
	}
	x, _ := tensor.FromSlice(data, tensor.Shape{1, 1, 4, 4})
	_, indices, err := pool.Forward(x, [2]int{2, 2}, [2]int{2, 2}, [2]int{0, 0})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	dz, _ := tensor.FromSlice([]float32{10, 20, 30, 40}, tensor.Shape{1, 1, 2, 2})
	dx, err := pool.Backward(x, indices, dz)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	dxd := dx.Float32s()
	// Gradients land only at the window maxima.
	for i, want := range map[int]float32{5: 10, 7: 20, 13: 30, 15: 40} {
		if dxd[i] != want {
			t.Errorf("dx[%d] = %v, want %v", i, dxd[i], want)
		}
	}
	var total float32
	for _, v := range dxd {
		total += v
	}
	if total != 100 {
		t.Errorf("gradient mass %v, want 100", total)
	}
}

func TestAvgPool2D_RoundTrip(t *testing.T) {
	pool := AvgPool2D{}

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	z, err := pool.Forward(x, [2]int{2, 2}, [2]int{2, 2}, [2]int{0, 0})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if z.Float32s()[0] != 2.5 {
		t.Errorf("avg = %v, want 2.5", z.Float32s()[0])
	}

	dz, _ := tensor.FromSlice([]float32{4}, tensor.Shape{1, 1, 1, 1})
	dx, err := pool.Backward(x, dz, [2]int{2, 2}, [2]int{2, 2}, [2]int{0, 0})
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}
	for i, v := range dx.Float32s() {
		if v != 1 {
			t.Errorf("dx[%d] = %v, want 1", i, v)
		}
	}
}
