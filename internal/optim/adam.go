package optim

import (
	"math"

	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// AdamConfig holds the Adam hyperparameters.
type AdamConfig struct {
	LearnRate float32 // default 0.001
	Beta1     float32 // default 0.9
	Beta2     float32 // default 0.999
	Epsilon   float32 // default 1e-8
	L2        float32 // global L2 regularization strength
}

// Adam is adaptive moment estimation with bias-corrected first and second
// moments.
type Adam struct {
	cfg AdamConfig
	t   int

	m map[*param.Learnable][]float32
	v map[*param.Learnable][]float32
}

func NewAdam(cfg AdamConfig) *Adam {
	if cfg.LearnRate == 0 {
		cfg.LearnRate = 0.001
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	return &Adam{
		cfg: cfg,
		m:   make(map[*param.Learnable][]float32),
		v:   make(map[*param.Learnable][]float32),
	}
}

func (a *Adam) LearnRate() float32      { return a.cfg.LearnRate }
func (a *Adam) SetLearnRate(lr float32) { a.cfg.LearnRate = lr }

// Timestep returns the number of completed steps.
func (a *Adam) Timestep() int { return a.t }

func (a *Adam) Step(params []*param.Learnable, grads []*tensor.Dense) error {
	a.t++
	c1 := 1 - float32(math.Pow(float64(a.cfg.Beta1), float64(a.t)))
	c2 := 1 - float32(math.Pow(float64(a.cfg.Beta2), float64(a.t)))

	for i, p := range params {
		gd, err := checkStep(p, grads[i])
		if err != nil {
			return err
		}
		if gd == nil {
			continue
		}

		lr := a.cfg.LearnRate * float32(p.LearnRateFactor)
		l2 := a.cfg.L2 * float32(p.L2Factor)

		value := p.Value().Clone()
		vd := value.Float32s()

		m, v := a.m[p], a.v[p]
		if m == nil {
			m = make([]float32, len(vd))
			v = make([]float32, len(vd))
			a.m[p], a.v[p] = m, v
		}

		for k := range vd {
			g := regularized(gd[k], vd[k], l2)
			m[k] = a.cfg.Beta1*m[k] + (1-a.cfg.Beta1)*g
			v[k] = a.cfg.Beta2*v[k] + (1-a.cfg.Beta2)*g*g
			mHat := m[k] / c1
			vHat := v[k] / c2
			vd[k] -= lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.cfg.Epsilon)
		}
		p.SetValue(value)
	}
	return nil
}
