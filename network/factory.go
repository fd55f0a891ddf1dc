package network

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/plexus-ml/plexus/graph"
	"github.com/plexus-ml/plexus/internal/layer"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// buildLayer constructs the internal layer for one external spec. External
// image sizes are [height width channels]; internally everything is
// channels-first, so input sizes get reordered here.
func buildLayer(ls graph.LayerSpec) (layer.Layer, error) {
	switch ls.Kind {
	case graph.KindImageInput:
		if len(ls.Size) != 3 {
			return nil, fmt.Errorf("layer %q: image input size must be [height width channels], got %v", ls.Name, ls.Size)
		}
		h, w, c := ls.Size[0], ls.Size[1], ls.Size[2]
		return layer.NewImageInput(ls.Name, tensor.Shape{c, h, w}), nil
	case graph.KindSequenceInput:
		if len(ls.Size) != 1 {
			return nil, fmt.Errorf("layer %q: sequence input size must be [features], got %v", ls.Name, ls.Size)
		}
		return layer.NewSequenceInput(ls.Name, ls.Size[0]), nil
	case graph.KindFeatureInput:
		if len(ls.Size) != 1 {
			return nil, fmt.Errorf("layer %q: feature input size must be [features], got %v", ls.Name, ls.Size)
		}
		return layer.NewFeatureInput(ls.Name, ls.Size[0]), nil

	case graph.KindFullyConnected:
		if ls.OutputSize <= 0 {
			return nil, fmt.Errorf("layer %q: fully connected needs a positive outputSize", ls.Name)
		}
		return layer.NewFullyConnected(ls.Name, ls.OutputSize), nil

	case graph.KindConvolution2D:
		kernel, err := pair(ls.Kernel, [2]int{0, 0})
		if err != nil || kernel[0] <= 0 {
			return nil, fmt.Errorf("layer %q: convolution needs a [h w] kernel, got %v", ls.Name, ls.Kernel)
		}
		stride, err := pair(ls.Stride, [2]int{1, 1})
		if err != nil {
			return nil, fmt.Errorf("layer %q: bad stride %v", ls.Name, ls.Stride)
		}
		same, padding, err := parsePadding(ls.Padding)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", ls.Name, err)
		}
		if same {
			return layer.NewConvolution2DSame(ls.Name, ls.NumFilters, kernel, stride), nil
		}
		return layer.NewConvolution2D(ls.Name, ls.NumFilters, kernel, stride, padding), nil

	case graph.KindMaxPooling2D, graph.KindAveragePooling2D:
		pool, err := pair(ls.Pool, [2]int{0, 0})
		if err != nil || pool[0] <= 0 {
			return nil, fmt.Errorf("layer %q: pooling needs a [h w] pool size, got %v", ls.Name, ls.Pool)
		}
		stride, err := pair(ls.Stride, pool)
		if err != nil {
			return nil, fmt.Errorf("layer %q: bad stride %v", ls.Name, ls.Stride)
		}
		same, padding, err := parsePadding(ls.Padding)
		if err != nil || same {
			return nil, fmt.Errorf("layer %q: pooling padding must be explicit, got %q", ls.Name, ls.Padding)
		}
		if ls.Kind == graph.KindMaxPooling2D {
			return layer.NewMaxPooling2D(ls.Name, pool, stride, padding), nil
		}
		return layer.NewAveragePooling2D(ls.Name, pool, stride, padding), nil

	case graph.KindBatchNormalization:
		eps := ls.Epsilon
		if eps == 0 {
			eps = 1e-5
		}
		return layer.NewBatchNormalization(ls.Name, eps), nil

	case graph.KindSoftmax:
		return layer.NewSoftmax(ls.Name), nil
	case graph.KindReLU:
		return layer.NewReLU(ls.Name), nil
	case graph.KindLeakyReLU:
		scale := ls.Scale
		if scale == 0 {
			scale = 0.01
		}
		return layer.NewLeakyReLU(ls.Name, float32(scale)), nil
	case graph.KindClippedReLU:
		if ls.Ceiling <= 0 {
			return nil, fmt.Errorf("layer %q: clipped relu needs a positive ceiling", ls.Name)
		}
		return layer.NewClippedReLU(ls.Name, float32(ls.Ceiling)), nil
	case graph.KindELU:
		alpha := ls.Alpha
		if alpha == 0 {
			alpha = 1
		}
		return layer.NewELU(ls.Name, float32(alpha)), nil
	case graph.KindTanh:
		return layer.NewTanh(ls.Name), nil
	case graph.KindSigmoid:
		return layer.NewSigmoid(ls.Name), nil

	case graph.KindDropout:
		if ls.Rate < 0 || ls.Rate >= 1 {
			return nil, fmt.Errorf("layer %q: dropout rate must be in [0,1), got %v", ls.Name, ls.Rate)
		}
		return layer.NewDropout(ls.Name, ls.Rate), nil

	case graph.KindFlatten:
		return layer.NewFlatten(ls.Name), nil

	case graph.KindLSTM, graph.KindBiLSTM:
		if ls.HiddenSize <= 0 {
			return nil, fmt.Errorf("layer %q: lstm needs a positive hiddenSize", ls.Name)
		}
		mode, err := parseOutputMode(ls.OutputMode)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", ls.Name, err)
		}
		if ls.Kind == graph.KindBiLSTM {
			return layer.NewBiLSTM(ls.Name, ls.HiddenSize, mode), nil
		}
		return layer.NewLSTM(ls.Name, ls.HiddenSize, mode), nil

	case graph.KindAddition, graph.KindMultiplication, graph.KindConcatenation:
		n := ls.NumInputs
		if n == 0 {
			n = 2
		}
		if n < 2 {
			return nil, fmt.Errorf("layer %q: combination layers need at least 2 inputs, got %d", ls.Name, n)
		}
		switch ls.Kind {
		case graph.KindAddition:
			return layer.NewAddition(ls.Name, n), nil
		case graph.KindMultiplication:
			return layer.NewMultiplication(ls.Name, n), nil
		default:
			if ls.Axis < 0 {
				return nil, fmt.Errorf("layer %q: concatenation axis must be non-negative, got %d", ls.Name, ls.Axis)
			}
			return layer.NewConcatenation(ls.Name, n, ls.Axis), nil
		}

	case graph.KindClassification:
		return layer.NewClassification(ls.Name, ls.Classes), nil
	case graph.KindRegression:
		return layer.NewRegression(ls.Name, ls.OutputSize), nil
	}
	return nil, fmt.Errorf("layer %q: unknown kind %q", ls.Name, ls.Kind)
}

// pair reads a one- or two-element extent, expanding [n] to [n n]. An empty
// slice yields the default.
func pair(v []int, def [2]int) ([2]int, error) {
	switch len(v) {
	case 0:
		return def, nil
	case 1:
		return [2]int{v[0], v[0]}, nil
	case 2:
		return [2]int{v[0], v[1]}, nil
	}
	return [2]int{}, fmt.Errorf("want at most 2 extents, got %d", len(v))
}

// parsePadding parses "", "same", or "h,w".
func parsePadding(s string) (same bool, pad [2]int, err error) {
	switch s {
	case "":
		return false, [2]int{0, 0}, nil
	case "same":
		return true, [2]int{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return false, [2]int{}, fmt.Errorf("padding must be \"same\" or \"h,w\", got %q", s)
	}
	for i, p := range parts {
		pad[i], err = strconv.Atoi(strings.TrimSpace(p))
		if err != nil || pad[i] < 0 {
			return false, [2]int{}, fmt.Errorf("padding must be \"same\" or \"h,w\", got %q", s)
		}
	}
	return false, pad, nil
}

func parseOutputMode(s string) (layer.OutputMode, error) {
	switch s {
	case "", "sequence":
		return layer.OutputSequence, nil
	case "last":
		return layer.OutputLast, nil
	}
	return 0, fmt.Errorf("output mode must be \"sequence\" or \"last\", got %q", s)
}
