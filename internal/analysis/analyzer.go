package analysis

import (
	"github.com/plexus-ml/plexus/internal/layer"
)

// Rule is one constraint: it reads the model and appends issues. Adding an
// architectural check means adding one rule to the default registry.
type Rule struct {
	Name string
	Run  func(m *Model)
}

// Analyzer validates a layer graph before training. The zero registry is
// useless; New returns one with the built-in rule set.
type Analyzer struct {
	rules []Rule
}

// New returns an analyzer with the built-in rules registered.
func New() *Analyzer {
	a := &Analyzer{}
	a.Register(
		Rule{Name: "architecture/input-output", Run: checkInputOutputLayers},
		Rule{Name: "architecture/components", Run: checkConnectedComponents},
		Rule{Name: "architecture/classification-softmax", Run: checkClassificationSoftmax},
		Rule{Name: "architecture/regression-softmax", Run: checkRegressionSoftmax},
		Rule{Name: "connections/cycles", Run: checkCycles},
		Rule{Name: "connections/missing-inputs", Run: checkMissingInputs},
		Rule{Name: "connections/multiple-sources", Run: checkMultipleSources},
		Rule{Name: "connections/unused-outputs", Run: checkUnusedOutputs},
		Rule{Name: "names/renamed", Run: checkRenamedLayers},
		Rule{Name: "lstm/image-coexistence", Run: checkSequenceImageCoexistence},
		Rule{Name: "propagation/sizes", Run: checkPropagatedSizes},
		Rule{Name: "customlayers/contract", Run: checkCustomLayers},
	)
	return a
}

// Register appends rules to the registry.
func (a *Analyzer) Register(rules ...Rule) {
	a.rules = append(a.rules, rules...)
}

// Analyze builds the model, runs every registered rule, and returns the
// aggregated issues together with the model (for callers that need the
// resolved ordering and sizes, like the network compiler).
func (a *Analyzer) Analyze(layers []layer.Layer, conns []Connection) (*Result, *Model) {
	m := build(layers, conns)
	for _, r := range a.rules {
		r.Run(m)
	}
	return &Result{Issues: m.issues}, m
}
