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

// Convolution2D cross-correlates image maps with a learned filter bank.
// The input channel count is late-bound; "same" padding resolves during size
// inference once the kernel is known.
type Convolution2D struct {
	base
	numFilters int
	kernel     [2]int
	stride     [2]int

	samePadding bool
	padding     [2]int
	channels    int // 0 until inferred

	weights *param.Learnable
	bias    *param.Learnable

	exec strategy.Conv2D
}

func NewConvolution2D(name string, numFilters int, kernel, stride [2]int, padding [2]int) *Convolution2D {
	return &Convolution2D{
		base:       newBase(name),
		numFilters: numFilters,
		kernel:     kernel,
		stride:     stride,
		padding:    padding,
		exec:       host.Conv2D{},
	}
}

// NewConvolution2DSame pads so the spatial output size equals the input size
// at stride 1. Requires odd kernel extents.
func NewConvolution2DSame(name string, numFilters int, kernel, stride [2]int) *Convolution2D {
	l := NewConvolution2D(name, numFilters, kernel, stride, [2]int{})
	l.samePadding = true
	return l
}

func (*Convolution2D) DefaultName() string { return "conv" }
func (*Convolution2D) imageSpecific()      {}

func (l *Convolution2D) NumFilters() int   { return l.numFilters }
func (l *Convolution2D) Kernel() [2]int    { return l.kernel }
func (l *Convolution2D) Stride() [2]int    { return l.stride }
func (l *Convolution2D) Padding() [2]int   { return l.padding }
func (l *Convolution2D) SamePadding() bool { return l.samePadding }

func (l *Convolution2D) HasSizeDetermined() bool { return l.channels > 0 }

func (l *Convolution2D) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() || len(inputs[0]) != 3 {
		return false
	}
	if l.channels > 0 && inputs[0][0] != l.channels {
		return false
	}
	oh, ow := l.outputDims(inputs[0][1], inputs[0][2])
	return oh > 0 && ow > 0
}

func (l *Convolution2D) outputDims(h, w int) (int, int) {
	pad := l.padding
	if l.samePadding {
		pad = [2]int{(l.kernel[0] - 1) / 2, (l.kernel[1] - 1) / 2}
	}
	oh := (h+2*pad[0]-l.kernel[0])/l.stride[0] + 1
	ow := (w+2*pad[1]-l.kernel[1])/l.stride[1] + 1
	return oh, ow
}

func (l *Convolution2D) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) || l.numFilters <= 0 {
		return invalid(1)
	}
	oh, ow := l.outputDims(inputs[0][1], inputs[0][2])
	return []tensor.Shape{{l.numFilters, oh, ow}}
}

func (l *Convolution2D) InferSize(inputs []tensor.Shape) error {
	if l.HasSizeDetermined() {
		return nil
	}
	if len(inputs) != 1 || !inputs[0].IsValid() || len(inputs[0]) != 3 {
		return fmt.Errorf("layer %q: convolution needs a [channels height width] input, got %v", l.name, inputs)
	}
	if l.samePadding {
		if l.kernel[0]%2 == 0 || l.kernel[1]%2 == 0 {
			return fmt.Errorf("layer %q: same padding requires odd kernel extents, got %v", l.name, l.kernel)
		}
		l.padding = [2]int{(l.kernel[0] - 1) / 2, (l.kernel[1] - 1) / 2}
	}
	l.channels = inputs[0][0]
	return nil
}

func (l *Convolution2D) Learnables() []*param.Learnable {
	if l.weights == nil {
		return nil
	}
	return []*param.Learnable{l.weights, l.bias}
}

func (l *Convolution2D) InitializeLearnables(rng *rand.Rand) {
	if !l.HasSizeDetermined() {
		return
	}
	fanIn := l.channels * l.kernel[0] * l.kernel[1]
	fanOut := l.numFilters * l.kernel[0] * l.kernel[1]
	bound := float32(math.Sqrt(6 / float64(fanIn+fanOut)))

	w := tensor.Zeros(tensor.Shape{l.numFilters, l.channels, l.kernel[0], l.kernel[1]})
	wd := w.Float32s()
	for i := range wd {
		wd[i] = (2*rng.Float32() - 1) * bound
	}
	l.weights = param.NewLearnable(l.name+".weights", w)
	l.bias = param.NewLearnable(l.name+".bias", tensor.Zeros(tensor.Shape{l.numFilters}))
}

func (l *Convolution2D) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	z, _, err := l.Forward(xs)
	return z, err
}

func (l *Convolution2D) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	z, err := l.exec.Forward(xs[0], l.weights.Value(), l.bias.Value(), l.stride, l.padding)
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{z}, nil, nil
}

func (l *Convolution2D) Backward(xs, _, dzs []*tensor.Dense, _ Memory, needWeightGrads bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dx, dw, db, err := l.exec.Backward(xs[0], l.weights.Value(), dzs[0], l.stride, l.padding, needWeightGrads)
	if err != nil {
		return nil, nil, err
	}
	if !needWeightGrads {
		return []*tensor.Dense{dx}, nil, nil
	}
	return []*tensor.Dense{dx}, []*tensor.Dense{dw, db}, nil
}

func (l *Convolution2D) SetupForHostTraining()   { l.exec = host.Conv2D{} }
func (l *Convolution2D) SetupForHostPrediction() { l.exec = host.Conv2D{} }

func (l *Convolution2D) SetupForAccelTraining(ctx *device.Context)   { l.setupAccel(ctx) }
func (l *Convolution2D) SetupForAccelPrediction(ctx *device.Context) { l.setupAccel(ctx) }

func (l *Convolution2D) setupAccel(ctx *device.Context) {
	l.exec = host.Conv2D{}
	for _, p := range l.Learnables() {
		p.DeviceValue(ctx)
	}
}
