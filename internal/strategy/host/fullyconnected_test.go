package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-ml/plexus/internal/tensor"
)

func TestFullyConnected_Forward(t *testing.T) {
	fc := FullyConnected{}

	// X: [2, 3], W: [2, 3], b: [2]
	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	w, _ := tensor.FromSlice([]float32{1, 0, -1, 2, 1, 0}, tensor.Shape{2, 3})
	b, _ := tensor.FromSlice([]float32{0.5, -0.5}, tensor.Shape{2})

	z, err := fc.Forward(x, w, b)
	require.NoError(t, err)
	require.True(t, z.Shape().Equal(tensor.Shape{2, 2}))

	// Row 1: [1*1+2*0+3*(-1)+0.5, 1*2+2*1+3*0-0.5] = [-1.5, 3.5]
	// Row 2: [4-6+0.5, 8+5-0.5] = [-1.5, 12.5]
	want := []float32{-1.5, 3.5, -1.5, 12.5}
	assert.Equal(t, want, z.Float32s())
}

func TestFullyConnected_ForwardShapeMismatch(t *testing.T) {
	fc := FullyConnected{}
	x, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{1, 2})
	w, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{1, 3})
	_, err := fc.Forward(x, w, nil)
	assert.Error(t, err)
}

func TestFullyConnected_Backward(t *testing.T) {
	fc := FullyConnected{}

	x, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	w, _ := tensor.FromSlice([]float32{1, -1, 2, 0}, tensor.Shape{2, 2})
	dz, _ := tensor.FromSlice([]float32{1, 0, 0, 1}, tensor.Shape{2, 2})

	dx, dw, db, err := fc.Backward(x, w, dz, true)
	require.NoError(t, err)

	// dX = dZ*W: row1 = [1, -1], row2 = [2, 0]
	assert.Equal(t, []float32{1, -1, 2, 0}, dx.Float32s())
	// dW = dZ^T*X: [[1,2],[3,4]]
	assert.Equal(t, []float32{1, 2, 3, 4}, dw.Float32s())
	// dB = column sums of dZ
	assert.Equal(t, []float32{1, 1}, db.Float32s())
}

func TestFullyConnected_BackwardSkipsWeightGrads(t *testing.T) {
	fc := FullyConnected{}
	x, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{1, 2})
	w, _ := tensor.FromSlice([]float32{1, 1}, tensor.Shape{1, 2})
	dz, _ := tensor.FromSlice([]float32{1}, tensor.Shape{1, 1})

	dx, dw, db, err := fc.Backward(x, w, dz, false)
	require.NoError(t, err)
	assert.NotNil(t, dx)
	assert.Nil(t, dw)
	assert.Nil(t, db)
}
