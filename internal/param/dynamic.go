package param

import "github.com/plexus-ml/plexus/internal/tensor"

// Mode selects which representation of dynamic state is active.
type Mode int

const (
	// Training uses the representation updated during forward/backward.
	Training Mode = iota
	// Prediction uses the frozen representation built by Finalize.
	Prediction
)

// Dynamic is non-learnable per-layer state whose representation differs
// between training and prediction: batch normalization keeps accumulating
// statistics while training and a frozen copy for prediction.
type Dynamic struct {
	name string
	mode Mode

	training   *tensor.Dense
	prediction *tensor.Dense
}

// NewDynamic creates dynamic state starting in training mode.
func NewDynamic(name string, value *tensor.Dense) *Dynamic {
	return &Dynamic{name: name, training: value}
}

// Name returns the state's name (for example "bn1.runningMean").
func (d *Dynamic) Name() string { return d.name }

// Mode returns the active representation.
func (d *Dynamic) Mode() Mode { return d.mode }

// Value returns the active representation's value.
func (d *Dynamic) Value() *tensor.Dense {
	if d.mode == Prediction {
		return d.prediction
	}
	return d.training
}

// SetValue writes through to the active representation.
func (d *Dynamic) SetValue(v *tensor.Dense) {
	if d.mode == Prediction {
		d.prediction = v
		return
	}
	d.training = v
}

// PrepareForTraining switches to the mutable training representation.
func (d *Dynamic) PrepareForTraining() {
	d.mode = Training
}

// PrepareForPrediction freezes the training value as the prediction
// representation and switches to it. Idempotent.
func (d *Dynamic) PrepareForPrediction() {
	if d.mode == Prediction {
		return
	}
	if d.training != nil {
		d.prediction = d.training.Clone()
	}
	d.mode = Prediction
}
