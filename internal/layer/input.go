package layer

import (
	"fmt"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// Input layers have no input ports and pass data through unchanged. Their
// declared per-observation size seeds shape propagation.

// ImageInput accepts [channels, height, width] observations, matching the
// channels-first runtime layout.
type ImageInput struct {
	base
	size tensor.Shape
}

func NewImageInput(name string, size tensor.Shape) *ImageInput {
	return &ImageInput{base: newBase(name), size: size.Clone()}
}

func (*ImageInput) DefaultName() string  { return "imageinput" }
func (*ImageInput) InputNames() []string { return nil }
func (l *ImageInput) Size() tensor.Shape { return l.size }
func (*ImageInput) imageSpecific()       {}

func (l *ImageInput) ForwardPropagateSize([]tensor.Shape) []tensor.Shape {
	if len(l.size) != 3 || !l.size.IsValid() {
		return invalid(1)
	}
	return []tensor.Shape{l.size.Clone()}
}

func (l *ImageInput) InferSize([]tensor.Shape) error {
	if len(l.size) != 3 || !l.size.IsValid() {
		return fmt.Errorf("layer %q: image input size must be [channels height width], got %v", l.name, l.size)
	}
	return nil
}

func (*ImageInput) IsValidInputSize([]tensor.Shape) bool { return true }

func (*ImageInput) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) { return xs, nil }
func (*ImageInput) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	return xs, nil, nil
}
func (*ImageInput) Backward(_, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	return dzs, nil, nil
}

// SequenceInput accepts sequences with a fixed feature size and a dynamic
// number of timesteps.
type SequenceInput struct {
	base
	featureSize int
}

func NewSequenceInput(name string, featureSize int) *SequenceInput {
	return &SequenceInput{base: newBase(name), featureSize: featureSize}
}

func (*SequenceInput) DefaultName() string  { return "sequenceinput" }
func (*SequenceInput) InputNames() []string { return nil }
func (l *SequenceInput) Size() tensor.Shape { return tensor.Shape{l.featureSize} }
func (*SequenceInput) sequenceSpecific()    {}

func (l *SequenceInput) ForwardPropagateSize([]tensor.Shape) []tensor.Shape {
	if l.featureSize <= 0 {
		return invalid(1)
	}
	return []tensor.Shape{{l.featureSize}}
}

func (l *SequenceInput) InferSize([]tensor.Shape) error {
	if l.featureSize <= 0 {
		return fmt.Errorf("layer %q: sequence input feature size must be positive, got %d", l.name, l.featureSize)
	}
	return nil
}

func (*SequenceInput) IsValidInputSize([]tensor.Shape) bool { return true }

func (*SequenceInput) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) { return xs, nil }
func (*SequenceInput) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	return xs, nil, nil
}
func (*SequenceInput) Backward(_, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	return dzs, nil, nil
}

// FeatureInput accepts flat feature vectors.
type FeatureInput struct {
	base
	numFeatures int
}

func NewFeatureInput(name string, numFeatures int) *FeatureInput {
	return &FeatureInput{base: newBase(name), numFeatures: numFeatures}
}

func (*FeatureInput) DefaultName() string  { return "featureinput" }
func (*FeatureInput) InputNames() []string { return nil }
func (l *FeatureInput) Size() tensor.Shape { return tensor.Shape{l.numFeatures} }

func (l *FeatureInput) ForwardPropagateSize([]tensor.Shape) []tensor.Shape {
	if l.numFeatures <= 0 {
		return invalid(1)
	}
	return []tensor.Shape{{l.numFeatures}}
}

func (l *FeatureInput) InferSize([]tensor.Shape) error {
	if l.numFeatures <= 0 {
		return fmt.Errorf("layer %q: feature input size must be positive, got %d", l.name, l.numFeatures)
	}
	return nil
}

func (*FeatureInput) IsValidInputSize([]tensor.Shape) bool { return true }

func (*FeatureInput) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) { return xs, nil }
func (*FeatureInput) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	return xs, nil, nil
}
func (*FeatureInput) Backward(_, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	return dzs, nil, nil
}
