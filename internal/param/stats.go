package param

// Stats is a per-channel (mean, variance, sample count) summary. Summaries
// accumulated by independently trained copies of a layer merge with the same
// rule used within one copy, so any reduction tree gives the same result.
type Stats struct {
	Mean     []float32
	Variance []float32
	N        float64
}

// Merge combines two summaries over disjoint samples. The merged mean is the
// N-weighted average; the merged variance corrects for the mean shift:
//
//	var = (1-r)*(var1+mean1^2) + r*(var2+mean2^2) - mean^2, r = N2/(N1+N2)
//
// which is exact for disjoint sample sets, and commutative and associative up
// to floating-point rounding. A summary with N == 0 short-circuits to the
// other side.
func Merge(a, b Stats) Stats {
	if a.N == 0 {
		return cloneStats(b)
	}
	if b.N == 0 {
		return cloneStats(a)
	}

	n := a.N + b.N
	r := b.N / n
	mean := make([]float32, len(a.Mean))
	variance := make([]float32, len(a.Variance))
	for i := range mean {
		m1 := float64(a.Mean[i])
		m2 := float64(b.Mean[i])
		v1 := float64(a.Variance[i])
		v2 := float64(b.Variance[i])

		m := (1-r)*m1 + r*m2
		v := (1-r)*(v1+m1*m1) + r*(v2+m2*m2) - m*m
		mean[i] = float32(m)
		variance[i] = float32(v)
	}
	return Stats{Mean: mean, Variance: variance, N: n}
}

func cloneStats(s Stats) Stats {
	out := Stats{N: s.N}
	if s.Mean != nil {
		out.Mean = append([]float32(nil), s.Mean...)
	}
	if s.Variance != nil {
		out.Variance = append([]float32(nil), s.Variance...)
	}
	return out
}
