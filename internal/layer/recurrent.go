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

// OutputMode selects whether a recurrent layer emits the whole hidden
// sequence or only the final timestep.
type OutputMode int

const (
	OutputSequence OutputMode = iota
	OutputLast
)

// LSTM is a single-direction long short-term memory layer over [N, D, T]
// sequences. The input feature size is late-bound. In last-output mode the
// downstream graph sees only the final timestep; backward rebuilds the
// full-length gradient with the incoming gradient placed at that step.
type LSTM struct {
	base
	hiddenSize int
	inputSize  int // 0 until inferred
	outputMode OutputMode

	weights   *param.Learnable // [4H, D]
	recurrent *param.Learnable // [4H, H]
	bias      *param.Learnable // [4H]

	exec strategy.LSTM
}

func NewLSTM(name string, hiddenSize int, mode OutputMode) *LSTM {
	return &LSTM{base: newBase(name), hiddenSize: hiddenSize, outputMode: mode, exec: host.LSTM{}}
}

func (*LSTM) DefaultName() string { return "lstm" }
func (*LSTM) sequenceSpecific()   {}
func (l *LSTM) HiddenSize() int   { return l.hiddenSize }
func (l *LSTM) Mode() OutputMode  { return l.outputMode }

func (l *LSTM) HasSizeDetermined() bool { return l.inputSize > 0 }

func (l *LSTM) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() || len(inputs[0]) != 1 {
		return false
	}
	return l.inputSize == 0 || inputs[0][0] == l.inputSize
}

func (l *LSTM) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) || l.hiddenSize <= 0 {
		return invalid(1)
	}
	return []tensor.Shape{{l.hiddenSize}}
}

func (l *LSTM) InferSize(inputs []tensor.Shape) error {
	if l.HasSizeDetermined() {
		return nil
	}
	if len(inputs) != 1 || !inputs[0].IsValid() || len(inputs[0]) != 1 {
		return fmt.Errorf("layer %q: lstm needs a [features] sequence input, got %v", l.name, inputs)
	}
	l.inputSize = inputs[0][0]
	return nil
}

func (l *LSTM) Learnables() []*param.Learnable {
	if l.weights == nil {
		return nil
	}
	return []*param.Learnable{l.weights, l.recurrent, l.bias}
}

func (l *LSTM) InitializeLearnables(rng *rand.Rand) {
	if !l.HasSizeDetermined() {
		return
	}
	l.weights = param.NewLearnable(l.name+".inputWeights",
		gateMatrix(rng, l.hiddenSize, l.inputSize))
	l.recurrent = param.NewLearnable(l.name+".recurrentWeights",
		gateMatrix(rng, l.hiddenSize, l.hiddenSize))
	l.bias = param.NewLearnable(l.name+".bias", unitForgetBias(l.hiddenSize))
}

func gateMatrix(rng *rand.Rand, h, d int) *tensor.Dense {
	w := tensor.Zeros(tensor.Shape{strategy.NumGates * h, d})
	bound := float32(math.Sqrt(6 / float64(h+d)))
	wd := w.Float32s()
	for i := range wd {
		wd[i] = (2*rng.Float32() - 1) * bound
	}
	return w
}

// unitForgetBias starts the forget gate open so gradients flow through long
// sequences early in training.
func unitForgetBias(h int) *tensor.Dense {
	b := tensor.Zeros(tensor.Shape{strategy.NumGates * h})
	bd := b.Float32s()
	for i := strategy.GateForget * h; i < (strategy.GateForget+1)*h; i++ {
		bd[i] = 1
	}
	return b
}

func (l *LSTM) lstmWeights() strategy.LSTMWeights {
	return strategy.LSTMWeights{W: l.weights.Value(), R: l.recurrent.Value(), Bias: l.bias.Value()}
}

func (l *LSTM) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	zs, _, err := l.Forward(xs)
	return zs, err
}

func (l *LSTM) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	y, mem, err := l.exec.Forward(xs[0], l.lstmWeights(), nil, nil, false)
	if err != nil {
		return nil, nil, err
	}
	if l.outputMode == OutputLast {
		t := y.Shape()[2]
		y = timestepOf(y, t-1)
	}
	return []*tensor.Dense{y}, mem, nil
}

func (l *LSTM) Backward(xs, _, dzs []*tensor.Dense, mem Memory, needWeightGrads bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dy := dzs[0]
	if l.outputMode == OutputLast {
		t := xs[0].Shape()[2]
		dy = expandAtTimestep(dzs[0], t, t-1)
	}
	dx, dw, err := l.exec.Backward(xs[0], l.lstmWeights(), dy, mem.(*strategy.LSTMMemory), false, needWeightGrads)
	if err != nil {
		return nil, nil, err
	}
	if !needWeightGrads {
		return []*tensor.Dense{dx}, nil, nil
	}
	return []*tensor.Dense{dx}, []*tensor.Dense{dw.W, dw.R, dw.Bias}, nil
}

func (l *LSTM) SetupForHostTraining()   { l.exec = host.LSTM{} }
func (l *LSTM) SetupForHostPrediction() { l.exec = host.LSTM{} }
func (l *LSTM) SetupForAccelTraining(ctx *device.Context) {
	l.exec = host.LSTM{}
	for _, p := range l.Learnables() {
		p.DeviceValue(ctx)
	}
}
func (l *LSTM) SetupForAccelPrediction(ctx *device.Context) { l.SetupForAccelTraining(ctx) }

// timestepOf copies timestep t of a [N, H, T] tensor into [N, H].
func timestepOf(y *tensor.Dense, t int) *tensor.Dense {
	s := y.Shape()
	n, h, tt := s[0], s[1], s[2]
	out := tensor.Zeros(tensor.Shape{n, h})
	yd, od := y.Float32s(), out.Float32s()
	for in := 0; in < n; in++ {
		for ih := 0; ih < h; ih++ {
			od[in*h+ih] = yd[(in*h+ih)*tt+t]
		}
	}
	return out
}

// expandAtTimestep builds a zero [N, H, T] gradient with dz placed at
// timestep t.
func expandAtTimestep(dz *tensor.Dense, totalSteps, t int) *tensor.Dense {
	s := dz.Shape()
	n, h := s[0], s[1]
	out := tensor.Zeros(tensor.Shape{n, h, totalSteps})
	dd, od := dz.Float32s(), out.Float32s()
	for in := 0; in < n; in++ {
		for ih := 0; ih < h; ih++ {
			od[(in*h+ih)*totalSteps+t] = dd[in*h+ih]
		}
	}
	return out
}

// BiLSTM runs independent forward-time and reversed-time recurrences and
// concatenates their outputs along the hidden axis. In last-output mode the
// forward half contributes its final timestep and the reverse half its first.
type BiLSTM struct {
	base
	hiddenSize int
	inputSize  int
	outputMode OutputMode

	fw, bw struct {
		weights   *param.Learnable
		recurrent *param.Learnable
		bias      *param.Learnable
	}

	exec strategy.LSTM
}

type biLSTMMemory struct {
	fw, bw *strategy.LSTMMemory
}

func NewBiLSTM(name string, hiddenSize int, mode OutputMode) *BiLSTM {
	return &BiLSTM{base: newBase(name), hiddenSize: hiddenSize, outputMode: mode, exec: host.LSTM{}}
}

func (*BiLSTM) DefaultName() string { return "bilstm" }
func (*BiLSTM) sequenceSpecific()   {}
func (l *BiLSTM) HiddenSize() int   { return l.hiddenSize }
func (l *BiLSTM) Mode() OutputMode  { return l.outputMode }

func (l *BiLSTM) HasSizeDetermined() bool { return l.inputSize > 0 }

func (l *BiLSTM) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() || len(inputs[0]) != 1 {
		return false
	}
	return l.inputSize == 0 || inputs[0][0] == l.inputSize
}

func (l *BiLSTM) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) || l.hiddenSize <= 0 {
		return invalid(1)
	}
	return []tensor.Shape{{2 * l.hiddenSize}}
}

func (l *BiLSTM) InferSize(inputs []tensor.Shape) error {
	if l.HasSizeDetermined() {
		return nil
	}
	if len(inputs) != 1 || !inputs[0].IsValid() || len(inputs[0]) != 1 {
		return fmt.Errorf("layer %q: bilstm needs a [features] sequence input, got %v", l.name, inputs)
	}
	l.inputSize = inputs[0][0]
	return nil
}

func (l *BiLSTM) Learnables() []*param.Learnable {
	if l.fw.weights == nil {
		return nil
	}
	return []*param.Learnable{
		l.fw.weights, l.fw.recurrent, l.fw.bias,
		l.bw.weights, l.bw.recurrent, l.bw.bias,
	}
}

func (l *BiLSTM) InitializeLearnables(rng *rand.Rand) {
	if !l.HasSizeDetermined() {
		return
	}
	l.fw.weights = param.NewLearnable(l.name+".forward.inputWeights", gateMatrix(rng, l.hiddenSize, l.inputSize))
	l.fw.recurrent = param.NewLearnable(l.name+".forward.recurrentWeights", gateMatrix(rng, l.hiddenSize, l.hiddenSize))
	l.fw.bias = param.NewLearnable(l.name+".forward.bias", unitForgetBias(l.hiddenSize))
	l.bw.weights = param.NewLearnable(l.name+".backward.inputWeights", gateMatrix(rng, l.hiddenSize, l.inputSize))
	l.bw.recurrent = param.NewLearnable(l.name+".backward.recurrentWeights", gateMatrix(rng, l.hiddenSize, l.hiddenSize))
	l.bw.bias = param.NewLearnable(l.name+".backward.bias", unitForgetBias(l.hiddenSize))
}

func (l *BiLSTM) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	zs, _, err := l.Forward(xs)
	return zs, err
}

func (l *BiLSTM) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	wf := strategy.LSTMWeights{W: l.fw.weights.Value(), R: l.fw.recurrent.Value(), Bias: l.fw.bias.Value()}
	wb := strategy.LSTMWeights{W: l.bw.weights.Value(), R: l.bw.recurrent.Value(), Bias: l.bw.bias.Value()}

	yf, memF, err := l.exec.Forward(xs[0], wf, nil, nil, false)
	if err != nil {
		return nil, nil, err
	}
	yb, memB, err := l.exec.Forward(xs[0], wb, nil, nil, true)
	if err != nil {
		return nil, nil, err
	}

	var y *tensor.Dense
	if l.outputMode == OutputLast {
		t := yf.Shape()[2]
		y = concatHidden2D(timestepOf(yf, t-1), timestepOf(yb, 0))
	} else {
		y = concatHidden3D(yf, yb)
	}
	return []*tensor.Dense{y}, &biLSTMMemory{fw: memF, bw: memB}, nil
}

func (l *BiLSTM) Backward(xs, _, dzs []*tensor.Dense, mem Memory, needWeightGrads bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	m := mem.(*biLSTMMemory)
	t := xs[0].Shape()[2]

	var dyF, dyB *tensor.Dense
	if l.outputMode == OutputLast {
		dzF, dzB := splitHidden2D(dzs[0], l.hiddenSize)
		dyF = expandAtTimestep(dzF, t, t-1)
		dyB = expandAtTimestep(dzB, t, 0)
	} else {
		dyF, dyB = splitHidden3D(dzs[0], l.hiddenSize)
	}

	wf := strategy.LSTMWeights{W: l.fw.weights.Value(), R: l.fw.recurrent.Value(), Bias: l.fw.bias.Value()}
	wb := strategy.LSTMWeights{W: l.bw.weights.Value(), R: l.bw.recurrent.Value(), Bias: l.bw.bias.Value()}

	dxF, dwF, err := l.exec.Backward(xs[0], wf, dyF, m.fw, false, needWeightGrads)
	if err != nil {
		return nil, nil, err
	}
	dxB, dwB, err := l.exec.Backward(xs[0], wb, dyB, m.bw, true, needWeightGrads)
	if err != nil {
		return nil, nil, err
	}

	dx := tensor.Zeros(xs[0].Shape())
	dd, fd, bd := dx.Float32s(), dxF.Float32s(), dxB.Float32s()
	for i := range dd {
		dd[i] = fd[i] + bd[i]
	}
	if !needWeightGrads {
		return []*tensor.Dense{dx}, nil, nil
	}
	return []*tensor.Dense{dx}, []*tensor.Dense{dwF.W, dwF.R, dwF.Bias, dwB.W, dwB.R, dwB.Bias}, nil
}

func (l *BiLSTM) SetupForHostTraining()   { l.exec = host.LSTM{} }
func (l *BiLSTM) SetupForHostPrediction() { l.exec = host.LSTM{} }
func (l *BiLSTM) SetupForAccelTraining(ctx *device.Context) {
	l.exec = host.LSTM{}
	for _, p := range l.Learnables() {
		p.DeviceValue(ctx)
	}
}
func (l *BiLSTM) SetupForAccelPrediction(ctx *device.Context) { l.SetupForAccelTraining(ctx) }

// concatHidden2D joins two [N, H] tensors into [N, 2H].
func concatHidden2D(a, b *tensor.Dense) *tensor.Dense {
	s := a.Shape()
	n, h := s[0], s[1]
	out := tensor.Zeros(tensor.Shape{n, 2 * h})
	ad, bd, od := a.Float32s(), b.Float32s(), out.Float32s()
	for in := 0; in < n; in++ {
		copy(od[in*2*h:in*2*h+h], ad[in*h:(in+1)*h])
		copy(od[in*2*h+h:(in+1)*2*h], bd[in*h:(in+1)*h])
	}
	return out
}

func splitHidden2D(dz *tensor.Dense, h int) (*tensor.Dense, *tensor.Dense) {
	s := dz.Shape()
	n := s[0]
	a := tensor.Zeros(tensor.Shape{n, h})
	b := tensor.Zeros(tensor.Shape{n, h})
	dd, ad, bd := dz.Float32s(), a.Float32s(), b.Float32s()
	for in := 0; in < n; in++ {
		copy(ad[in*h:(in+1)*h], dd[in*2*h:in*2*h+h])
		copy(bd[in*h:(in+1)*h], dd[in*2*h+h:(in+1)*2*h])
	}
	return a, b
}

// concatHidden3D joins two [N, H, T] tensors into [N, 2H, T].
func concatHidden3D(a, b *tensor.Dense) *tensor.Dense {
	s := a.Shape()
	n, h, t := s[0], s[1], s[2]
	out := tensor.Zeros(tensor.Shape{n, 2 * h, t})
	ad, bd, od := a.Float32s(), b.Float32s(), out.Float32s()
	for in := 0; in < n; in++ {
		copy(od[in*2*h*t:in*2*h*t+h*t], ad[in*h*t:(in+1)*h*t])
		copy(od[in*2*h*t+h*t:(in+1)*2*h*t], bd[in*h*t:(in+1)*h*t])
	}
	return out
}

func splitHidden3D(dz *tensor.Dense, h int) (*tensor.Dense, *tensor.Dense) {
	s := dz.Shape()
	n, t := s[0], s[2]
	a := tensor.Zeros(tensor.Shape{n, h, t})
	b := tensor.Zeros(tensor.Shape{n, h, t})
	dd, ad, bd := dz.Float32s(), a.Float32s(), b.Float32s()
	for in := 0; in < n; in++ {
		copy(ad[in*h*t:(in+1)*h*t], dd[in*2*h*t:in*2*h*t+h*t])
		copy(bd[in*h*t:(in+1)*h*t], dd[in*2*h*t+h*t:(in+1)*2*h*t])
	}
	return a, b
}
