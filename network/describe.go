package network

import (
	"fmt"

	"github.com/plexus-ml/plexus/graph"
	"github.com/plexus-ml/plexus/internal/layer"
)

// Describe maps the compiled layers back to an external spec: one LayerSpec
// per layer plus the resolved connections, the inverse of Compile. Custom
// layers have no external kind and cannot be described.
func (n *Network) Describe() (*graph.Spec, error) {
	s := &graph.Spec{Layers: make([]graph.LayerSpec, len(n.layers))}
	for i, l := range n.layers {
		ls, err := describeLayer(l)
		if err != nil {
			return nil, err
		}
		s.Layers[i] = ls
	}
	for _, c := range n.internal {
		src := n.portRef(c[0], c[1], false)
		dst := n.portRef(c[2], c[3], true)
		s.Connect(src, dst)
	}
	return s, nil
}

// portRef renders one connection endpoint. The first port is addressed by
// the bare layer name.
func (n *Network) portRef(idx, port int, input bool) string {
	l := n.layers[idx]
	if port == 1 {
		return l.Name()
	}
	names := l.OutputNames()
	if input {
		names = l.InputNames()
	}
	return graph.PortRef(l.Name(), names[port-1])
}

func describeLayer(l layer.Layer) (graph.LayerSpec, error) {
	ls := graph.LayerSpec{Name: l.Name()}

	switch t := l.(type) {
	case *layer.ImageInput:
		size := t.Size()
		ls.Kind = graph.KindImageInput
		ls.Size = []int{size[1], size[2], size[0]}
	case *layer.SequenceInput:
		ls.Kind = graph.KindSequenceInput
		ls.Size = []int{t.Size()[0]}
	case *layer.FeatureInput:
		ls.Kind = graph.KindFeatureInput
		ls.Size = []int{t.Size()[0]}

	case *layer.FullyConnected:
		ls.Kind = graph.KindFullyConnected
		ls.OutputSize = t.OutputSize()

	case *layer.Convolution2D:
		ls.Kind = graph.KindConvolution2D
		ls.NumFilters = t.NumFilters()
		ls.Kernel = extents(t.Kernel())
		ls.Stride = extents(t.Stride())
		if t.SamePadding() {
			ls.Padding = "same"
		} else {
			ls.Padding = formatPadding(t.Padding())
		}
	case *layer.MaxPooling2D:
		ls.Kind = graph.KindMaxPooling2D
		ls.Pool = extents(t.Pool())
		ls.Stride = extents(t.Stride())
		ls.Padding = formatPadding(t.Padding())
	case *layer.AveragePooling2D:
		ls.Kind = graph.KindAveragePooling2D
		ls.Pool = extents(t.Pool())
		ls.Stride = extents(t.Stride())
		ls.Padding = formatPadding(t.Padding())

	case *layer.BatchNormalization:
		ls.Kind = graph.KindBatchNormalization
		ls.Epsilon = t.Epsilon()

	case *layer.Softmax:
		ls.Kind = graph.KindSoftmax
	case *layer.ReLU:
		ls.Kind = graph.KindReLU
	case *layer.LeakyReLU:
		ls.Kind = graph.KindLeakyReLU
		ls.Scale = float64(t.Scale())
	case *layer.ClippedReLU:
		ls.Kind = graph.KindClippedReLU
		ls.Ceiling = float64(t.Ceiling())
	case *layer.ELU:
		ls.Kind = graph.KindELU
		ls.Alpha = float64(t.Alpha())
	case *layer.Tanh:
		ls.Kind = graph.KindTanh
	case *layer.Sigmoid:
		ls.Kind = graph.KindSigmoid

	case *layer.Dropout:
		ls.Kind = graph.KindDropout
		ls.Rate = t.Rate()

	case *layer.Flatten:
		ls.Kind = graph.KindFlatten

	case *layer.LSTM:
		ls.Kind = graph.KindLSTM
		ls.HiddenSize = t.HiddenSize()
		ls.OutputMode = formatOutputMode(t.Mode())
	case *layer.BiLSTM:
		ls.Kind = graph.KindBiLSTM
		ls.HiddenSize = t.HiddenSize()
		ls.OutputMode = formatOutputMode(t.Mode())

	case *layer.Addition:
		ls.Kind = graph.KindAddition
		ls.NumInputs = t.NumInputs()
	case *layer.Multiplication:
		ls.Kind = graph.KindMultiplication
		ls.NumInputs = t.NumInputs()
	case *layer.Concatenation:
		ls.Kind = graph.KindConcatenation
		ls.NumInputs = t.NumInputs()
		ls.Axis = t.Axis()

	case *layer.Classification:
		ls.Kind = graph.KindClassification
		ls.Classes = t.NumClasses()
	case *layer.Regression:
		ls.Kind = graph.KindRegression
		ls.OutputSize = t.ResponseSize()

	default:
		return graph.LayerSpec{}, fmt.Errorf("layer %q has no external kind (%T)", l.Name(), l)
	}
	return ls, nil
}

func extents(v [2]int) []int { return []int{v[0], v[1]} }

// formatPadding renders explicit padding, empty for none.
func formatPadding(pad [2]int) string {
	if pad == ([2]int{}) {
		return ""
	}
	return fmt.Sprintf("%d,%d", pad[0], pad[1])
}

func formatOutputMode(m layer.OutputMode) string {
	if m == layer.OutputLast {
		return "last"
	}
	return "sequence"
}
