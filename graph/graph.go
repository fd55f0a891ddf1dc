// Package graph defines the external, serializable description of a layer
// network: a list of layer specs plus named port-to-port connections. A
// Spec is what tools exchange (JSON on disk, over the wire); the network
// package compiles it into executable layers.
//
// Image sizes in a Spec are [height width channels], the order users write
// them; the compiler reorders to the channels-first internal layout.
package graph

import "strings"

// Spec is a complete network description.
type Spec struct {
	Layers      []LayerSpec  `json:"layers"`
	Connections []Connection `json:"connections"`
}

// Connection is a directed edge between layer ports. Endpoints are
// "layer" (port 1) or "layer/port" references.
type Connection struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// LayerSpec describes one layer. Kind selects the layer type; the remaining
// fields are kind-specific and ignored by the kinds that do not use them.
type LayerSpec struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`

	// Input layers. Size is [height width channels] for image input,
	// [features] for sequence and feature input.
	Size []int `json:"size,omitempty"`

	// Fully connected, classification, regression.
	OutputSize int `json:"outputSize,omitempty"`
	Classes    int `json:"classes,omitempty"`

	// Convolution and pooling. Padding is "same" or "h,w".
	NumFilters int    `json:"numFilters,omitempty"`
	Kernel     []int  `json:"kernel,omitempty"`
	Stride     []int  `json:"stride,omitempty"`
	Padding    string `json:"padding,omitempty"`
	Pool       []int  `json:"pool,omitempty"`

	// Recurrence. OutputMode is "sequence" or "last".
	HiddenSize int    `json:"hiddenSize,omitempty"`
	OutputMode string `json:"outputMode,omitempty"`

	// Combination layers.
	NumInputs int `json:"numInputs,omitempty"`
	Axis      int `json:"axis,omitempty"`

	// Activation and normalization knobs.
	Rate    float64 `json:"rate,omitempty"`
	Epsilon float64 `json:"epsilon,omitempty"`
	Alpha   float64 `json:"alpha,omitempty"`
	Scale   float64 `json:"scale,omitempty"`
	Ceiling float64 `json:"ceiling,omitempty"`
}

// Layer kinds accepted in a LayerSpec.
const (
	KindImageInput         = "imageInput"
	KindSequenceInput      = "sequenceInput"
	KindFeatureInput       = "featureInput"
	KindFullyConnected     = "fullyConnected"
	KindConvolution2D      = "convolution2d"
	KindMaxPooling2D       = "maxPooling2d"
	KindAveragePooling2D   = "averagePooling2d"
	KindBatchNormalization = "batchNormalization"
	KindSoftmax            = "softmax"
	KindReLU               = "relu"
	KindLeakyReLU          = "leakyRelu"
	KindClippedReLU        = "clippedRelu"
	KindELU                = "elu"
	KindTanh               = "tanh"
	KindSigmoid            = "sigmoid"
	KindDropout            = "dropout"
	KindFlatten            = "flatten"
	KindLSTM               = "lstm"
	KindBiLSTM             = "bilstm"
	KindAddition           = "addition"
	KindMultiplication     = "multiplication"
	KindConcatenation      = "concatenation"
	KindClassification     = "classification"
	KindRegression         = "regression"
)

// PortRef builds a "layer/port" endpoint; a bare layer name addresses the
// first port.
func PortRef(layer, port string) string {
	if port == "" {
		return layer
	}
	return layer + "/" + port
}

// SplitPortRef splits an endpoint into layer and port name. The port is
// everything after the last slash, empty for a bare layer name.
func SplitPortRef(ref string) (layerName, portName string) {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// Connect appends a connection and returns the spec for chaining.
func (s *Spec) Connect(source, destination string) *Spec {
	s.Connections = append(s.Connections, Connection{Source: source, Destination: destination})
	return s
}

// Add appends a layer spec and returns the spec for chaining.
func (s *Spec) Add(layers ...LayerSpec) *Spec {
	s.Layers = append(s.Layers, layers...)
	return s
}

// Chain connects the named layers in sequence, first port to first port.
func (s *Spec) Chain(names ...string) *Spec {
	for i := 1; i < len(names); i++ {
		s.Connect(names[i-1], names[i])
	}
	return s
}
