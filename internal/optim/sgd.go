package optim

import (
	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// SGDConfig holds the SGD hyperparameters.
type SGDConfig struct {
	LearnRate float32 // default 0.01
	Momentum  float32 // in [0,1), 0 disables the velocity term
	L2        float32 // global L2 regularization strength
}

// SGD is stochastic gradient descent with optional momentum:
//
//	velocity = momentum*velocity + gradient
//	value    = value - lr*velocity
type SGD struct {
	cfg        SGDConfig
	velocities map[*param.Learnable][]float32
}

func NewSGD(cfg SGDConfig) *SGD {
	if cfg.LearnRate == 0 {
		cfg.LearnRate = 0.01
	}
	return &SGD{cfg: cfg, velocities: make(map[*param.Learnable][]float32)}
}

func (s *SGD) LearnRate() float32      { return s.cfg.LearnRate }
func (s *SGD) SetLearnRate(lr float32) { s.cfg.LearnRate = lr }

func (s *SGD) Step(params []*param.Learnable, grads []*tensor.Dense) error {
	for i, p := range params {
		gd, err := checkStep(p, grads[i])
		if err != nil {
			return err
		}
		if gd == nil {
			continue
		}

		lr := s.cfg.LearnRate * float32(p.LearnRateFactor)
		l2 := s.cfg.L2 * float32(p.L2Factor)

		v := p.Value().Clone()
		vd := v.Float32s()

		if s.cfg.Momentum == 0 {
			for k := range vd {
				vd[k] -= lr * regularized(gd[k], vd[k], l2)
			}
		} else {
			vel := s.velocities[p]
			if vel == nil {
				vel = make([]float32, len(vd))
				s.velocities[p] = vel
			}
			for k := range vd {
				vel[k] = s.cfg.Momentum*vel[k] + regularized(gd[k], vd[k], l2)
				vd[k] -= lr * vel[k]
			}
		}
		p.SetValue(v)
	}
	return nil
}
