package layer

import (
	"fmt"
	"math/rand"

	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// BatchNormalization normalizes activations per channel. While training it
// normalizes with batch statistics and folds them into a running summary;
// prediction normalizes with the frozen running statistics. Two
// independently trained copies merge their summaries exactly, so it
// satisfies Finalizable.
type BatchNormalization struct {
	base
	epsilon  float64
	channels int // 0 until inferred

	gamma *param.Learnable
	beta  *param.Learnable

	stats       param.Stats
	runningMean *param.Dynamic
	runningVar  *param.Dynamic

	exec strategy.BatchNorm
}

func NewBatchNormalization(name string, epsilon float64) *BatchNormalization {
	return &BatchNormalization{base: newBase(name), epsilon: epsilon, exec: host.BatchNorm{}}
}

func (*BatchNormalization) DefaultName() string    { return "batchnorm" }
func (l *BatchNormalization) Epsilon() float64     { return l.epsilon }

func (l *BatchNormalization) HasSizeDetermined() bool { return l.channels > 0 }

// channelCount reads the channel extent from a per-observation size: sizes
// are channels-first, so it is always the leading dim.
func channelCount(s tensor.Shape) int {
	if !s.IsValid() {
		return 0
	}
	return s[0]
}

func (l *BatchNormalization) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return false
	}
	return l.channels == 0 || channelCount(inputs[0]) == l.channels
}

func (l *BatchNormalization) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(1)
	}
	return []tensor.Shape{inputs[0].Clone()}
}

func (l *BatchNormalization) InferSize(inputs []tensor.Shape) error {
	if l.HasSizeDetermined() {
		return nil
	}
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return fmt.Errorf("layer %q: cannot infer channel count from %v", l.name, inputs)
	}
	l.channels = channelCount(inputs[0])
	return nil
}

func (l *BatchNormalization) Learnables() []*param.Learnable {
	if l.gamma == nil {
		return nil
	}
	return []*param.Learnable{l.gamma, l.beta}
}

func (l *BatchNormalization) InitializeLearnables(*rand.Rand) {
	if !l.HasSizeDetermined() {
		return
	}
	c := tensor.Shape{l.channels}
	l.gamma = param.NewLearnable(l.name+".scale", tensor.Ones(c))
	l.beta = param.NewLearnable(l.name+".offset", tensor.Zeros(c))
	l.stats = param.Stats{}
	l.runningMean = param.NewDynamic(l.name+".runningMean", tensor.Zeros(c))
	l.runningVar = param.NewDynamic(l.name+".runningVariance", tensor.Ones(c))
}

func (l *BatchNormalization) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	mean := l.runningMean.Value().Float32s()
	variance := l.runningVar.Value().Float32s()
	z, err := l.exec.ForwardPredict(xs[0], l.gamma.Value(), l.beta.Value(), mean, variance, l.epsilon)
	if err != nil {
		return nil, err
	}
	return []*tensor.Dense{z}, nil
}

func (l *BatchNormalization) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	z, mem, err := l.exec.ForwardTrain(xs[0], l.gamma.Value(), l.beta.Value(), l.epsilon)
	if err != nil {
		return nil, nil, err
	}
	n := float64(xs[0].NumElements() / l.channels)
	l.accumulate(param.Stats{Mean: mem.Mean, Variance: mem.Var, N: n})
	return []*tensor.Dense{z}, mem, nil
}

func (l *BatchNormalization) accumulate(batch param.Stats) {
	l.stats = param.Merge(l.stats, batch)
	mean, _ := tensor.FromSlice(l.stats.Mean, tensor.Shape{l.channels})
	variance, _ := tensor.FromSlice(l.stats.Variance, tensor.Shape{l.channels})
	l.runningMean.SetValue(mean)
	l.runningVar.SetValue(variance)
}

func (l *BatchNormalization) Backward(_, _, dzs []*tensor.Dense, mem Memory, needWeightGrads bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	bn := mem.(*strategy.BatchNormMemory)
	dx, dgamma, dbeta, err := l.exec.Backward(dzs[0], l.gamma.Value(), bn, needWeightGrads)
	if err != nil {
		return nil, nil, err
	}
	if !needWeightGrads {
		return []*tensor.Dense{dx}, nil, nil
	}
	return []*tensor.Dense{dx}, []*tensor.Dense{dgamma, dbeta}, nil
}

// Finalize freezes the accumulated running statistics for prediction.
func (l *BatchNormalization) Finalize() {
	l.runningMean.PrepareForPrediction()
	l.runningVar.PrepareForPrediction()
}

// MergeStatistics folds in the summary of an independently trained copy.
func (l *BatchNormalization) MergeStatistics(other Layer) error {
	o, ok := other.(*BatchNormalization)
	if !ok {
		return fmt.Errorf("layer %q: cannot merge statistics from %T", l.name, other)
	}
	if o.channels != l.channels {
		return fmt.Errorf("layer %q: channel count mismatch %d vs %d", l.name, l.channels, o.channels)
	}
	l.accumulate(o.stats)
	return nil
}

// Statistics returns the accumulated running summary.
func (l *BatchNormalization) Statistics() param.Stats { return l.stats }

func (l *BatchNormalization) PrepareForTraining() {
	if l.runningMean != nil {
		l.runningMean.PrepareForTraining()
		l.runningVar.PrepareForTraining()
	}
}

func (l *BatchNormalization) PrepareForPrediction() {
	if l.runningMean != nil {
		l.runningMean.PrepareForPrediction()
		l.runningVar.PrepareForPrediction()
	}
}

func (l *BatchNormalization) SetupForHostTraining()   { l.exec = host.BatchNorm{} }
func (l *BatchNormalization) SetupForHostPrediction() { l.exec = host.BatchNorm{} }

func (l *BatchNormalization) SetupForAccelTraining(ctx *device.Context)   { l.setupAccel(ctx) }
func (l *BatchNormalization) SetupForAccelPrediction(ctx *device.Context) { l.setupAccel(ctx) }

func (l *BatchNormalization) setupAccel(ctx *device.Context) {
	l.exec = host.BatchNorm{}
	for _, p := range l.Learnables() {
		p.DeviceValue(ctx)
	}
}
