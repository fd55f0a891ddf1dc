package layer

import (
	"errors"
	"fmt"

	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Custom is the contract user-authored layers implement. Forward may return
// a memory tensor carrying values Backward needs; Backward must return the
// data gradient plus one weight gradient per declared parameter, in
// declaration order.
type Custom interface {
	Predict(x *tensor.Dense) (*tensor.Dense, error)
	Forward(x *tensor.Dense) (z, memory *tensor.Dense, err error)
	Backward(x, z, dz, memory *tensor.Dense) (dx *tensor.Dense, dw []*tensor.Dense, err error)
}

// ParameterDeclarer is implemented by custom layers with learnable
// parameters. DeclareParameters is called once when the layer is wrapped;
// the declaration order fixes the gradient order Backward must follow.
type ParameterDeclarer interface {
	DeclareParameters(reg *ParameterRegistry)
}

// ParameterRegistry collects a custom layer's parameter declarations.
type ParameterRegistry struct {
	params []*param.Learnable
}

// Declare registers a parameter with unit learning-rate and L2 multipliers.
func (r *ParameterRegistry) Declare(name string, initial *tensor.Dense) *param.Learnable {
	return r.DeclareWithFactors(name, initial, 1, 1)
}

// DeclareWithFactors registers a parameter with explicit multipliers.
func (r *ParameterRegistry) DeclareWithFactors(name string, initial *tensor.Dense, learnRate, l2 float64) *param.Learnable {
	p := param.NewLearnable(name, initial)
	p.LearnRateFactor = learnRate
	p.L2Factor = l2
	r.params = append(r.params, p)
	return p
}

// ErrWrongBackwardGradientCount marks a custom Backward returning a weight
// gradient count different from the declared parameter count.
var ErrWrongBackwardGradientCount = errors.New("wrong backward gradient count")

// CustomLayer adapts a user-authored layer to the Layer contract. The
// user's code is never trusted: declarations are checked up front, panics
// inside user methods are converted to errors, and the analyzer runs probe
// batches through VerifyBehavior before training starts. Output size
// inference is empirical, by running a ones probe through the user forward.
type CustomLayer struct {
	base
	user   Custom
	params []*param.Learnable

	inputSize  tensor.Shape // resolved during size inference
	outputSize tensor.Shape // observed from the probe
}

func NewCustomLayer(name string, user Custom) *CustomLayer {
	l := &CustomLayer{base: newBase(name), user: user}
	if d, ok := user.(ParameterDeclarer); ok {
		reg := &ParameterRegistry{}
		d.DeclareParameters(reg)
		l.params = reg.params
	}
	return l
}

func (*CustomLayer) DefaultName() string { return "custom" }

// Wrapped returns the user layer.
func (l *CustomLayer) Wrapped() Custom { return l.user }

func (l *CustomLayer) Learnables() []*param.Learnable { return l.params }

func (l *CustomLayer) HasSizeDetermined() bool { return l.outputSize.IsValid() }

func (l *CustomLayer) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return false
	}
	out, err := l.probeOutputSize(inputs[0])
	return err == nil && out.IsValid()
}

// ForwardPropagateSize infers the output size empirically: analytic
// propagation is impossible for opaque user code, so a ones probe with a
// single observation is run through the user forward and the observed output
// size read back.
func (l *CustomLayer) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return invalid(1)
	}
	out, err := l.probeOutputSize(inputs[0])
	if err != nil {
		return invalid(1)
	}
	return []tensor.Shape{out}
}

func (l *CustomLayer) InferSize(inputs []tensor.Shape) error {
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return fmt.Errorf("layer %q: cannot probe output size from %v", l.name, inputs)
	}
	out, err := l.probeOutputSize(inputs[0])
	if err != nil {
		return err
	}
	l.inputSize = inputs[0].Clone()
	l.outputSize = out
	return nil
}

func (l *CustomLayer) probeOutputSize(inputSize tensor.Shape) (tensor.Shape, error) {
	probe := tensor.Ones(append(tensor.Shape{1}, inputSize...))
	z, _, err := l.forwardGuarded(probe)
	if err != nil {
		return nil, fmt.Errorf("layer %q: forward probe failed: %w", l.name, err)
	}
	zs := z.Shape()
	if len(zs) < 1 {
		return nil, fmt.Errorf("layer %q: forward probe returned output without a batch dim", l.name)
	}
	return zs[1:].Clone(), nil
}

// InputSize returns the size recorded during inference.
func (l *CustomLayer) InputSize() tensor.Shape { return l.inputSize }

func (l *CustomLayer) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	z, err := l.predictGuarded(xs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.Dense{z}, nil
}

func (l *CustomLayer) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	z, mem, err := l.forwardGuarded(xs[0])
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{z}, mem, nil
}

func (l *CustomLayer) Backward(xs, zs, dzs []*tensor.Dense, mem Memory, needWeightGrads bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	var m *tensor.Dense
	if mem != nil {
		m = mem.(*tensor.Dense)
	}
	dx, dw, err := l.backwardGuarded(xs[0], zs[0], dzs[0], m)
	if err != nil {
		return nil, nil, err
	}
	if len(dw) != len(l.params) {
		return nil, nil, fmt.Errorf("layer %q: %w: got %d, declared %d parameters",
			l.name, ErrWrongBackwardGradientCount, len(dw), len(l.params))
	}
	if !needWeightGrads {
		dw = nil
	}
	return []*tensor.Dense{dx}, dw, nil
}

// VerifyDeclarations checks the parameter declarations before any data runs:
// non-nil initial values and positive multipliers.
func (l *CustomLayer) VerifyDeclarations() error {
	for i, p := range l.params {
		if p.Value() == nil {
			return fmt.Errorf("layer %q: parameter %d (%s) has no initial value", l.name, i+1, p.Name())
		}
		if p.LearnRateFactor < 0 || p.L2Factor < 0 {
			return fmt.Errorf("layer %q: parameter %d (%s) has negative multipliers", l.name, i+1, p.Name())
		}
	}
	return nil
}

// VerifyBehavior runs a ones probe with the given batch size through the
// user's forward and backward and checks the contract: output type and
// device match the input, the data gradient matches the input size, each
// weight gradient matches its parameter's size, and the gradient count
// matches the declaration count. User errors are wrapped so the cause chain
// survives into the Issue report.
func (l *CustomLayer) VerifyBehavior(batch int, inputSize tensor.Shape) error {
	if !inputSize.IsValid() {
		return fmt.Errorf("layer %q: cannot verify with input size %v", l.name, inputSize)
	}
	x := tensor.Ones(append(tensor.Shape{batch}, inputSize...))

	z, mem, err := l.forwardGuarded(x)
	if err != nil {
		return fmt.Errorf("layer %q: forward failed on a batch of %d: %w", l.name, batch, err)
	}
	if z.DType() != x.DType() {
		return fmt.Errorf("layer %q: forward changed the numeric type from %v to %v", l.name, x.DType(), z.DType())
	}
	if z.Device() != x.Device() {
		return fmt.Errorf("layer %q: forward moved data from %v to %v", l.name, x.Device(), z.Device())
	}

	dz := tensor.Ones(z.Shape())
	dx, dw, err := l.backwardGuarded(x, z, dz, mem)
	if err != nil {
		return fmt.Errorf("layer %q: backward failed on a batch of %d: %w", l.name, batch, err)
	}
	if len(dw) != len(l.params) {
		return fmt.Errorf("layer %q: %w: got %d, declared %d parameters",
			l.name, ErrWrongBackwardGradientCount, len(dw), len(l.params))
	}
	if !dx.Shape().Equal(x.Shape()) {
		return fmt.Errorf("layer %q: backward data gradient size %v does not match input size %v",
			l.name, dx.Shape(), x.Shape())
	}
	for i, g := range dw {
		if g == nil {
			return fmt.Errorf("layer %q: backward returned no gradient for parameter %q",
				l.name, l.params[i].Name())
		}
		want := l.params[i].Value().Shape()
		if !g.Shape().Equal(want) {
			return fmt.Errorf("layer %q: gradient %d size %v does not match parameter %q size %v",
				l.name, i+1, g.Shape(), l.params[i].Name(), want)
		}
	}
	return nil
}

// The guarded wrappers convert panics in user code into errors so one broken
// custom layer cannot take down an analysis run. A nil result tensor with a
// nil error is converted too: the adapter reads the result's shape next, and
// the fault belongs to the user layer, not the caller.

func (l *CustomLayer) predictGuarded(x *tensor.Dense) (z *tensor.Dense, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("custom layer panicked in predict: %v", r)
		}
	}()
	z, err = l.user.Predict(x)
	if err == nil && z == nil {
		err = errors.New("custom layer returned no output from predict")
	}
	return z, err
}

func (l *CustomLayer) forwardGuarded(x *tensor.Dense) (z, mem *tensor.Dense, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("custom layer panicked in forward: %v", r)
		}
	}()
	z, mem, err = l.user.Forward(x)
	if err == nil && z == nil {
		err = errors.New("custom layer returned no output from forward")
	}
	return z, mem, err
}

func (l *CustomLayer) backwardGuarded(x, z, dz, mem *tensor.Dense) (dx *tensor.Dense, dw []*tensor.Dense, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("custom layer panicked in backward: %v", r)
		}
	}()
	dx, dw, err = l.user.Backward(x, z, dz, mem)
	if err == nil && dx == nil {
		err = errors.New("custom layer returned no data gradient from backward")
	}
	return dx, dw, err
}
