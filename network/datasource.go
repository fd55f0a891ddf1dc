package network

import (
	"fmt"
	"math/rand"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// DataSource feeds the trainer mini-batches. Start rewinds to the first
// batch; NextBatch returns the inputs, targets, and the original observation
// indices of the batch (the last batch of an epoch may be short).
type DataSource interface {
	Start()
	NextBatch() (x, t *tensor.Dense, idx []int, err error)
	IsDone() bool
	MiniBatchSize() int
	NumObservations() int
	ResponseSize() tensor.Shape
	Shuffle(rng *rand.Rand)
}

// SliceSource is an in-memory DataSource over two tensors whose leading
// dimension indexes observations.
type SliceSource struct {
	x, t      *tensor.Dense
	batchSize int

	perm   []int
	cursor int
}

// NewSliceSource wraps the given observations. x and t must agree on the
// observation count.
func NewSliceSource(x, t *tensor.Dense, batchSize int) (*SliceSource, error) {
	if len(x.Shape()) < 2 || len(t.Shape()) < 2 {
		return nil, fmt.Errorf("observations need a leading batch dimension, got %v and %v", x.Shape(), t.Shape())
	}
	if x.Shape()[0] != t.Shape()[0] {
		return nil, fmt.Errorf("observation count mismatch: %d inputs vs %d targets", x.Shape()[0], t.Shape()[0])
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	s := &SliceSource{x: x, t: t, batchSize: batchSize}
	s.perm = make([]int, x.Shape()[0])
	for i := range s.perm {
		s.perm[i] = i
	}
	return s, nil
}

func (s *SliceSource) Start()               { s.cursor = 0 }
func (s *SliceSource) IsDone() bool         { return s.cursor >= len(s.perm) }
func (s *SliceSource) MiniBatchSize() int   { return s.batchSize }
func (s *SliceSource) NumObservations() int { return len(s.perm) }

func (s *SliceSource) ResponseSize() tensor.Shape { return s.t.Shape()[1:].Clone() }

func (s *SliceSource) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(s.perm), func(i, j int) {
		s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
	})
}

func (s *SliceSource) NextBatch() (*tensor.Dense, *tensor.Dense, []int, error) {
	if s.IsDone() {
		return nil, nil, nil, fmt.Errorf("data source is exhausted; call Start")
	}
	end := s.cursor + s.batchSize
	if end > len(s.perm) {
		end = len(s.perm)
	}
	idx := append([]int(nil), s.perm[s.cursor:end]...)
	s.cursor = end

	x, err := gatherRows(s.x, idx)
	if err != nil {
		return nil, nil, nil, err
	}
	t, err := gatherRows(s.t, idx)
	if err != nil {
		return nil, nil, nil, err
	}
	return x, t, idx, nil
}

// gatherRows copies the selected observations into a fresh batch tensor.
func gatherRows(src *tensor.Dense, idx []int) (*tensor.Dense, error) {
	per := src.NumElements() / src.Shape()[0]
	out := tensor.Zeros(append(tensor.Shape{len(idx)}, src.Shape()[1:]...))
	sd, od := src.Float32s(), out.Float32s()
	for k, i := range idx {
		if i < 0 || i >= src.Shape()[0] {
			return nil, fmt.Errorf("observation index %d out of range [0,%d)", i, src.Shape()[0])
		}
		copy(od[k*per:(k+1)*per], sd[i*per:(i+1)*per])
	}
	return out, nil
}
