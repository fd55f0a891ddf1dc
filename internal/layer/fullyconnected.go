package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// FullyConnected computes Z = W*X + b over the flattened input features.
// The input feature count is late-bound: it resolves during size inference
// from the connected input size.
type FullyConnected struct {
	base
	outputSize int
	inputSize  int // 0 until inferred

	weights *param.Learnable
	bias    *param.Learnable

	exec strategy.FullyConnected
}

func NewFullyConnected(name string, outputSize int) *FullyConnected {
	return &FullyConnected{
		base:       newBase(name),
		outputSize: outputSize,
		exec:       host.FullyConnected{},
	}
}

func (*FullyConnected) DefaultName() string { return "fc" }
func (l *FullyConnected) OutputSize() int   { return l.outputSize }

func (l *FullyConnected) HasSizeDetermined() bool { return l.inputSize > 0 }

func (l *FullyConnected) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return false
	}
	if l.inputSize > 0 && inputs[0].NumElements() != l.inputSize {
		return false
	}
	return true
}

func (l *FullyConnected) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) || l.outputSize <= 0 {
		return invalid(1)
	}
	return []tensor.Shape{{l.outputSize}}
}

func (l *FullyConnected) InferSize(inputs []tensor.Shape) error {
	if l.HasSizeDetermined() {
		return nil
	}
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return fmt.Errorf("layer %q: cannot infer input size from %v", l.name, inputs)
	}
	l.inputSize = inputs[0].NumElements()
	return nil
}

func (l *FullyConnected) Learnables() []*param.Learnable {
	if l.weights == nil {
		return nil
	}
	return []*param.Learnable{l.weights, l.bias}
}

func (l *FullyConnected) InitializeLearnables(rng *rand.Rand) {
	if !l.HasSizeDetermined() {
		return
	}
	w := tensor.Zeros(tensor.Shape{l.outputSize, l.inputSize})
	bound := float32(math.Sqrt(6 / float64(l.inputSize+l.outputSize)))
	wd := w.Float32s()
	for i := range wd {
		wd[i] = (2*rng.Float32() - 1) * bound
	}
	l.weights = param.NewLearnable(l.name+".weights", w)
	l.bias = param.NewLearnable(l.name+".bias", tensor.Zeros(tensor.Shape{l.outputSize}))
}

// flatten2D views x as [N, features], collapsing any trailing dims.
func flatten2D(x *tensor.Dense) (*tensor.Dense, error) {
	s := x.Shape()
	if len(s) == 2 {
		return x, nil
	}
	if len(s) < 2 {
		return nil, fmt.Errorf("fully connected: input must have a batch dim, got %v", s)
	}
	features := 1
	for _, d := range s[1:] {
		features *= d
	}
	return x.Reshape(tensor.Shape{s[0], features})
}

func (l *FullyConnected) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	z, _, err := l.Forward(xs)
	return z, err
}

func (l *FullyConnected) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	x, err := flatten2D(xs[0])
	if err != nil {
		return nil, nil, err
	}
	z, err := l.exec.Forward(x, l.weights.Value(), l.bias.Value())
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{z}, nil, nil
}

func (l *FullyConnected) Backward(xs, _, dzs []*tensor.Dense, _ Memory, needWeightGrads bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	x, err := flatten2D(xs[0])
	if err != nil {
		return nil, nil, err
	}
	dx, dw, db, err := l.exec.Backward(x, l.weights.Value(), dzs[0], needWeightGrads)
	if err != nil {
		return nil, nil, err
	}
	if !xs[0].Shape().Equal(x.Shape()) {
		if dx, err = dx.Reshape(xs[0].Shape()); err != nil {
			return nil, nil, err
		}
	}
	if !needWeightGrads {
		return []*tensor.Dense{dx}, nil, nil
	}
	return []*tensor.Dense{dx}, []*tensor.Dense{dw, db}, nil
}

func (l *FullyConnected) SetupForHostTraining()   { l.exec = host.FullyConnected{} }
func (l *FullyConnected) SetupForHostPrediction() { l.exec = host.FullyConnected{} }

// The dense GEMM has no device kernel; accelerator setup keeps the reference
// numerics and warms the parameter caches.
func (l *FullyConnected) SetupForAccelTraining(ctx *device.Context)   { l.setupAccel(ctx) }
func (l *FullyConnected) SetupForAccelPrediction(ctx *device.Context) { l.setupAccel(ctx) }

func (l *FullyConnected) setupAccel(ctx *device.Context) {
	l.exec = host.FullyConnected{}
	for _, p := range l.Learnables() {
		p.DeviceValue(ctx) // cache warm-up; failure falls back to lazy upload
	}
}
