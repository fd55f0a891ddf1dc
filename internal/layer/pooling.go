package layer

import (
	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

func poolOutputDims(h, w int, pool, stride, padding [2]int) (int, int) {
	oh := (h+2*padding[0]-pool[0])/stride[0] + 1
	ow := (w+2*padding[1]-pool[1])/stride[1] + 1
	return oh, ow
}

// MaxPooling2D pools image maps by window maximum. Besides the pooled map it
// exposes the argmax indices and the pre-pooling size on the extra output
// ports, for consumption by unpooling layers.
type MaxPooling2D struct {
	base
	pool    [2]int
	stride  [2]int
	padding [2]int

	exec strategy.MaxPool2D
}

func NewMaxPooling2D(name string, pool, stride, padding [2]int) *MaxPooling2D {
	return &MaxPooling2D{base: newBase(name), pool: pool, stride: stride, padding: padding, exec: host.MaxPool2D{}}
}

func (*MaxPooling2D) DefaultName() string   { return "maxpool" }
func (*MaxPooling2D) OutputNames() []string { return []string{"out", "indices", "size"} }
func (*MaxPooling2D) imageSpecific()        {}

// OptionalOutputPorts marks the unpooling ports as fine to leave dangling.
func (*MaxPooling2D) OptionalOutputPorts() []string { return []string{"indices", "size"} }

func (l *MaxPooling2D) Pool() [2]int    { return l.pool }
func (l *MaxPooling2D) Stride() [2]int  { return l.stride }
func (l *MaxPooling2D) Padding() [2]int { return l.padding }

func (l *MaxPooling2D) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() || len(inputs[0]) != 3 {
		return false
	}
	oh, ow := poolOutputDims(inputs[0][1], inputs[0][2], l.pool, l.stride, l.padding)
	return oh > 0 && ow > 0
}

// ForwardPropagateSize reports per-observation sizes for the data and
// indices ports. The size port is metadata, one [N, C, H, W] extent vector
// per forward call rather than per observation; {4} here is that tensor's
// whole extent, and Forward emits it without a batch dimension.
func (l *MaxPooling2D) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(3)
	}
	oh, ow := poolOutputDims(inputs[0][1], inputs[0][2], l.pool, l.stride, l.padding)
	out := tensor.Shape{inputs[0][0], oh, ow}
	return []tensor.Shape{out, out.Clone(), {4}}
}

func (l *MaxPooling2D) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	zs, _, err := l.Forward(xs)
	return zs, err
}

func (l *MaxPooling2D) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	z, indices, err := l.exec.Forward(xs[0], l.pool, l.stride, l.padding)
	if err != nil {
		return nil, nil, err
	}
	idx := tensor.Zeros(z.Shape())
	id := idx.Float32s()
	for i, v := range indices {
		id[i] = float32(v)
	}
	// One extent vector for the whole batch, matching the size-port
	// convention documented on ForwardPropagateSize.
	size := tensor.Zeros(tensor.Shape{len(xs[0].Shape())})
	sd := size.Float32s()
	for i, d := range xs[0].Shape() {
		sd[i] = float32(d)
	}
	return []*tensor.Dense{z, idx, size}, indices, nil
}

// Backward only propagates the gradient of the pooled map; the indices and
// size ports carry no gradient.
func (l *MaxPooling2D) Backward(xs, _, dzs []*tensor.Dense, mem Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	indices := mem.([]int)
	dx, err := l.exec.Backward(xs[0], indices, dzs[0])
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{dx}, nil, nil
}

func (l *MaxPooling2D) SetupForHostTraining()                 { l.exec = host.MaxPool2D{} }
func (l *MaxPooling2D) SetupForHostPrediction()               { l.exec = host.MaxPool2D{} }
func (l *MaxPooling2D) SetupForAccelTraining(*device.Context) { l.exec = host.MaxPool2D{} }
func (l *MaxPooling2D) SetupForAccelPrediction(*device.Context) {
	l.exec = host.MaxPool2D{}
}

// AveragePooling2D pools image maps by window mean with a fixed divisor, so
// padded cells count toward the average.
type AveragePooling2D struct {
	base
	pool    [2]int
	stride  [2]int
	padding [2]int

	exec strategy.AvgPool2D
}

func NewAveragePooling2D(name string, pool, stride, padding [2]int) *AveragePooling2D {
	return &AveragePooling2D{base: newBase(name), pool: pool, stride: stride, padding: padding, exec: host.AvgPool2D{}}
}

func (*AveragePooling2D) DefaultName() string { return "avgpool" }
func (*AveragePooling2D) imageSpecific()      {}

func (l *AveragePooling2D) Pool() [2]int    { return l.pool }
func (l *AveragePooling2D) Stride() [2]int  { return l.stride }
func (l *AveragePooling2D) Padding() [2]int { return l.padding }

func (l *AveragePooling2D) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() || len(inputs[0]) != 3 {
		return false
	}
	oh, ow := poolOutputDims(inputs[0][1], inputs[0][2], l.pool, l.stride, l.padding)
	return oh > 0 && ow > 0
}

func (l *AveragePooling2D) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(1)
	}
	oh, ow := poolOutputDims(inputs[0][1], inputs[0][2], l.pool, l.stride, l.padding)
	return []tensor.Shape{{inputs[0][0], oh, ow}}
}

func (l *AveragePooling2D) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	zs, _, err := l.Forward(xs)
	return zs, err
}

func (l *AveragePooling2D) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	z, err := l.exec.Forward(xs[0], l.pool, l.stride, l.padding)
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{z}, nil, nil
}

func (l *AveragePooling2D) Backward(xs, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dx, err := l.exec.Backward(xs[0], dzs[0], l.pool, l.stride, l.padding)
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{dx}, nil, nil
}

func (l *AveragePooling2D) SetupForHostTraining()                   { l.exec = host.AvgPool2D{} }
func (l *AveragePooling2D) SetupForHostPrediction()                 { l.exec = host.AvgPool2D{} }
func (l *AveragePooling2D) SetupForAccelTraining(*device.Context)   { l.exec = host.AvgPool2D{} }
func (l *AveragePooling2D) SetupForAccelPrediction(*device.Context) { l.exec = host.AvgPool2D{} }
