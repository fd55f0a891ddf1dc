// Package optim implements the parameter update algorithms: plain and
// momentum SGD, and Adam.
//
// Optimizers work directly on param.Learnable values: each step combines
// the incoming gradient with the global L2 strength scaled by the
// parameter's L2 factor, and scales the learning rate by the parameter's
// learn-rate factor. Updates go through SetValue so device caches are
// invalidated.
package optim

import (
	"fmt"

	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Optimizer applies one gradient step. grads is aligned with params; a nil
// gradient skips its parameter.
type Optimizer interface {
	Step(params []*param.Learnable, grads []*tensor.Dense) error
	LearnRate() float32
	SetLearnRate(lr float32)
}

// checkStep validates one (parameter, gradient) pair and returns the raw
// gradient slice, nil when the parameter should be skipped.
func checkStep(p *param.Learnable, g *tensor.Dense) ([]float32, error) {
	if g == nil {
		return nil, nil
	}
	if !g.Shape().Equal(p.Value().Shape()) {
		return nil, fmt.Errorf("optim: gradient shape %v does not match parameter %q shape %v",
			g.Shape(), p.Name(), p.Value().Shape())
	}
	return g.Float32s(), nil
}

// regularized returns the effective gradient element: the raw gradient plus
// the L2 term for this parameter.
func regularized(g, value, l2 float32) float32 {
	if l2 == 0 {
		return g
	}
	return g + l2*value
}
