package layer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-ml/plexus/internal/tensor"
)

func TestImageInputPropagatesDeclaredSize(t *testing.T) {
	l := NewImageInput("in", tensor.Shape{1, 28, 28})
	out := l.ForwardPropagateSize(nil)
	require.Len(t, out, 1)
	assert.Equal(t, tensor.Shape{1, 28, 28}, out[0])
	assert.Empty(t, l.InputNames())
	assert.True(t, IsInput(l))
	assert.True(t, IsImageSpecific(l))
}

func TestConvolutionSizePropagation(t *testing.T) {
	l := NewConvolution2D("conv", 8, [2]int{3, 3}, [2]int{1, 1}, [2]int{0, 0})
	in := []tensor.Shape{{1, 28, 28}}

	require.NoError(t, l.InferSize(in))
	assert.True(t, l.HasSizeDetermined())

	out := l.ForwardPropagateSize(in)
	require.Len(t, out, 1)
	assert.Equal(t, tensor.Shape{8, 26, 26}, out[0])

	// Pure: a second call gives the identical result.
	assert.Equal(t, out, l.ForwardPropagateSize(in))
}

func TestConvolutionSamePaddingKeepsSpatialDims(t *testing.T) {
	l := NewConvolution2DSame("conv", 4, [2]int{3, 3}, [2]int{1, 1})
	in := []tensor.Shape{{3, 16, 16}}

	require.NoError(t, l.InferSize(in))
	out := l.ForwardPropagateSize(in)
	assert.Equal(t, tensor.Shape{4, 16, 16}, out[0])
}

func TestConvolutionSamePaddingRejectsEvenKernel(t *testing.T) {
	l := NewConvolution2DSame("conv", 4, [2]int{2, 2}, [2]int{1, 1})
	assert.Error(t, l.InferSize([]tensor.Shape{{3, 16, 16}}))
}

func TestConvolutionInvalidInputGivesInvalidOutput(t *testing.T) {
	l := NewConvolution2D("conv", 8, [2]int{3, 3}, [2]int{1, 1}, [2]int{0, 0})

	out := l.ForwardPropagateSize([]tensor.Shape{nil})
	require.Len(t, out, 1)
	assert.False(t, out[0].IsValid())

	// Kernel larger than the padded input.
	out = l.ForwardPropagateSize([]tensor.Shape{{1, 2, 2}})
	assert.False(t, out[0].IsValid())
}

func TestMaxPoolingPortTopology(t *testing.T) {
	l := NewMaxPooling2D("mp", [2]int{2, 2}, [2]int{2, 2}, [2]int{0, 0})
	assert.Equal(t, []string{"out", "indices", "size"}, l.OutputNames())

	out := l.ForwardPropagateSize([]tensor.Shape{{8, 24, 24}})
	require.Len(t, out, 3)
	assert.Equal(t, tensor.Shape{8, 12, 12}, out[0])
	assert.Equal(t, tensor.Shape{8, 12, 12}, out[1])
}

func TestFullyConnectedInfersInputSize(t *testing.T) {
	l := NewFullyConnected("fc", 10)
	assert.False(t, l.HasSizeDetermined())

	in := []tensor.Shape{{8, 12, 12}}
	require.NoError(t, l.InferSize(in))
	assert.True(t, l.HasSizeDetermined())

	l.InitializeLearnables(rand.New(rand.NewSource(1)))
	params := l.Learnables()
	require.Len(t, params, 2)
	assert.Equal(t, tensor.Shape{10, 8 * 12 * 12}, params[0].Value().Shape())
	assert.Equal(t, tensor.Shape{10}, params[1].Value().Shape())
	assert.True(t, Updatable(l))

	out := l.ForwardPropagateSize(in)
	assert.Equal(t, tensor.Shape{10}, out[0])

	// Once determined, a mismatched input is invalid.
	assert.False(t, l.IsValidInputSize([]tensor.Shape{{3}}))
}

func TestFlattenCollapsesSize(t *testing.T) {
	l := NewFlatten("flatten")
	out := l.ForwardPropagateSize([]tensor.Shape{{8, 12, 12}})
	assert.Equal(t, tensor.Shape{8 * 12 * 12}, out[0])

	x := tensor.Ones(tensor.Shape{2, 3, 4, 4})
	zs, _, err := l.Forward([]*tensor.Dense{x})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 48}, zs[0].Shape())

	dxs, _, err := l.Backward([]*tensor.Dense{x}, zs, zs, nil, false)
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), dxs[0].Shape())
}

func TestClassificationFlagsAndSizes(t *testing.T) {
	c := NewClassification("out", 10)
	assert.True(t, IsOutput(c))
	assert.True(t, IsClassification(c))
	assert.Empty(t, c.OutputNames())
	assert.True(t, c.IsValidInputSize([]tensor.Shape{{10}}))
	assert.False(t, c.IsValidInputSize([]tensor.Shape{{7}}))

	s := NewSoftmax("sm")
	assert.True(t, IsSoftmax(s))
	assert.False(t, IsSoftmax(c))
}

func TestRecurrentFlags(t *testing.T) {
	l := NewLSTM("lstm", 16, OutputSequence)
	assert.True(t, IsRecurrent(l))
	assert.True(t, IsSequenceSpecific(l))
	assert.False(t, IsImageSpecific(l))

	b := NewBiLSTM("bi", 16, OutputLast)
	assert.True(t, IsRecurrent(b))

	in := NewSequenceInput("seq", 12)
	assert.True(t, IsSequenceSpecific(in))
	assert.False(t, IsRecurrent(in))
}

func TestBatchNormInfersChannels(t *testing.T) {
	l := NewBatchNormalization("bn", 1e-5)
	require.NoError(t, l.InferSize([]tensor.Shape{{8, 12, 12}}))
	l.InitializeLearnables(rand.New(rand.NewSource(1)))

	params := l.Learnables()
	require.Len(t, params, 2)
	assert.Equal(t, tensor.Shape{8}, params[0].Value().Shape())

	out := l.ForwardPropagateSize([]tensor.Shape{{8, 12, 12}})
	assert.Equal(t, tensor.Shape{8, 12, 12}, out[0])
}

func TestAdditionValidatesEqualSizes(t *testing.T) {
	l := NewAddition("add", 2)
	assert.Equal(t, []string{"in1", "in2"}, l.InputNames())

	assert.True(t, l.IsValidInputSize([]tensor.Shape{{4, 4, 2}, {4, 4, 2}}))
	assert.False(t, l.IsValidInputSize([]tensor.Shape{{4, 4, 2}, {4, 4, 3}}))
	assert.False(t, l.IsValidInputSize([]tensor.Shape{{4, 4, 2}, nil}))
}
