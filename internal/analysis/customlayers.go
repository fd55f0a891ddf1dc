package analysis

import (
	"errors"

	"github.com/plexus-ml/plexus/internal/layer"
)

// checkCustomLayers validates user-supplied layers: parameter declarations
// first, then behavioral probes at batch 1 and batch 5. Probing stops at the
// first failure so a broken layer produces one issue, not a cascade. Layers
// without a usable input size are skipped; the propagation rule owns those.
func checkCustomLayers(m *Model) {
	for i, la := range m.Layers {
		if !la.IsCustomLayer {
			continue
		}
		cl, ok := la.Layer.(*layer.CustomLayer)
		if !ok {
			continue
		}
		if err := cl.VerifyDeclarations(); err != nil {
			m.addLayerError(i, "CustomLayers", "ParameterDeclarations", err.Error())
			continue
		}
		if len(la.Inputs) == 0 || !la.Inputs[0].Size.IsValid() {
			continue
		}
		size := la.Inputs[0].Size
		for _, batch := range []int{1, 5} {
			if err := cl.VerifyBehavior(batch, size); err != nil {
				rule := "BehavioralVerification"
				if errors.Is(err, layer.ErrWrongBackwardGradientCount) {
					rule = "WrongBackwardGradientCount"
				}
				m.addLayerError(i, "CustomLayers", rule, err.Error())
				break
			}
		}
	}
}
