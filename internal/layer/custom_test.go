package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// doubler is a well-behaved parameterless custom layer: z = 2x.
type doubler struct{}

func (doubler) Predict(x *tensor.Dense) (*tensor.Dense, error) {
	z := x.Clone()
	zd := z.Float32s()
	for i := range zd {
		zd[i] *= 2
	}
	return z, nil
}

func (d doubler) Forward(x *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	z, err := d.Predict(x)
	return z, nil, err
}

func (doubler) Backward(x, _, dz, _ *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	dx := dz.Clone()
	dd := dx.Float32s()
	for i := range dd {
		dd[i] *= 2
	}
	return dx, nil, nil
}

// scaler declares one parameter but returns no weight gradients.
type scaler struct {
	scale *param.Learnable
}

func (s *scaler) DeclareParameters(reg *ParameterRegistry) {
	s.scale = reg.Declare("scale", tensor.Ones(tensor.Shape{1}))
}

func (s *scaler) Predict(x *tensor.Dense) (*tensor.Dense, error) {
	z := x.Clone()
	zd := z.Float32s()
	k := s.scale.Value().Float32s()[0]
	for i := range zd {
		zd[i] *= k
	}
	return z, nil
}

func (s *scaler) Forward(x *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	z, err := s.Predict(x)
	return z, nil, err
}

func (s *scaler) Backward(x, _, dz, _ *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	return dz.Clone(), nil, nil // missing the scale gradient
}

// batchOneOnly breaks for any batch size other than one.
type batchOneOnly struct{ doubler }

func (b batchOneOnly) Forward(x *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	if x.Shape()[0] != 1 {
		panic("expects a single observation")
	}
	return b.doubler.Forward(x)
}

func TestCustomLayerEmpiricalSizeInference(t *testing.T) {
	l := NewCustomLayer("user", doubler{})

	out := l.ForwardPropagateSize([]tensor.Shape{{3, 4}})
	require.Len(t, out, 1)
	assert.Equal(t, tensor.Shape{3, 4}, out[0])

	require.NoError(t, l.InferSize([]tensor.Shape{{3, 4}}))
	assert.True(t, l.HasSizeDetermined())
	assert.True(t, IsCustom(l))
}

func TestCustomLayerBehaviorVerification(t *testing.T) {
	l := NewCustomLayer("user", doubler{})
	require.NoError(t, l.VerifyDeclarations())
	assert.NoError(t, l.VerifyBehavior(1, tensor.Shape{3, 4}))
	assert.NoError(t, l.VerifyBehavior(5, tensor.Shape{3, 4}))
}

func TestCustomLayerWrongGradientCount(t *testing.T) {
	l := NewCustomLayer("user", &scaler{})
	require.Len(t, l.Learnables(), 1)

	err := l.VerifyBehavior(1, tensor.Shape{4})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongBackwardGradientCount)
	assert.Contains(t, err.Error(), `"user"`)
}

func TestCustomLayerBatchProbeCatchesBatchOneAssumption(t *testing.T) {
	l := NewCustomLayer("user", batchOneOnly{})

	assert.NoError(t, l.VerifyBehavior(1, tensor.Shape{4}))

	err := l.VerifyBehavior(5, tensor.Shape{4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single observation")
}

func TestCustomLayerPanicBecomesError(t *testing.T) {
	l := NewCustomLayer("user", batchOneOnly{})

	_, _, err := l.Forward([]*tensor.Dense{tensor.Ones(tensor.Shape{2, 4})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked in forward")
}

// silent returns nil tensors with nil errors from every method.
type silent struct{}

func (silent) Predict(*tensor.Dense) (*tensor.Dense, error) { return nil, nil }

func (silent) Forward(*tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	return nil, nil, nil
}

func (silent) Backward(_, _, _, _ *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	return nil, nil, nil
}

// forgetfulScaler declares a parameter but returns a nil entry in its place.
type forgetfulScaler struct{ scaler }

func (f *forgetfulScaler) Backward(_, _, dz, _ *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	return dz.Clone(), []*tensor.Dense{nil}, nil
}

func TestCustomLayerNilResultsBecomeErrors(t *testing.T) {
	l := NewCustomLayer("user", silent{})

	out := l.ForwardPropagateSize([]tensor.Shape{{4}})
	require.Len(t, out, 1)
	assert.False(t, out[0].IsValid())

	err := l.InferSize([]tensor.Shape{{4}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")

	err = l.VerifyBehavior(1, tensor.Shape{4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")

	_, err = l.Predict([]*tensor.Dense{tensor.Ones(tensor.Shape{1, 4})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
}

func TestCustomLayerNilGradientEntryRejected(t *testing.T) {
	l := NewCustomLayer("user", &forgetfulScaler{})
	require.Len(t, l.Learnables(), 1)

	err := l.VerifyBehavior(1, tensor.Shape{4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gradient")
	assert.Contains(t, err.Error(), `"scale"`)
}
