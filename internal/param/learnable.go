// Package param holds the value containers for layer state: learnable
// parameters with per-parameter training multipliers and a lazily populated
// device cache, dynamic (training-vs-prediction) state, and the mergeable
// running statistics used by normalization layers.
package param

import (
	"sync"

	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Learnable is a trainable parameter: a host value plus per-parameter
// learning-rate and L2 regularization multipliers.
//
// The device copy is a cache of the host value: SetValue always invalidates
// it and DeviceValue repopulates it lazily. The cache is therefore always
// derivable from the host value. A Learnable has one logical owner; it is
// not safe for concurrent writes.
type Learnable struct {
	name  string
	value *tensor.Dense

	LearnRateFactor float64
	L2Factor        float64

	mu    sync.Mutex
	cache *device.Array
	ctx   *device.Context
}

// NewLearnable creates a parameter with both multipliers set to 1.
func NewLearnable(name string, value *tensor.Dense) *Learnable {
	return &Learnable{
		name:            name,
		value:           value,
		LearnRateFactor: 1,
		L2Factor:        1,
	}
}

// Name returns the parameter name (for example "conv1.weights").
func (l *Learnable) Name() string { return l.name }

// Value returns the host value.
func (l *Learnable) Value() *tensor.Dense { return l.value }

// SetValue replaces the host value and invalidates the device cache.
func (l *Learnable) SetValue(v *tensor.Dense) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	l.dropCacheLocked()
}

// DeviceValue returns the device-resident copy of the value, uploading it on
// first use. The returned array is owned by the Learnable; callers must not
// release it.
func (l *Learnable) DeviceValue(ctx *device.Context) (*device.Array, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cache != nil && l.ctx == ctx {
		return l.cache, nil
	}
	l.dropCacheLocked()

	arr, err := ctx.Upload(l.value.Float32s())
	if err != nil {
		return nil, err
	}
	l.cache = arr
	l.ctx = ctx
	// Register once per context so out-of-memory recovery can reclaim the
	// cache; DropCache is idempotent.
	ctx.RegisterCacheDropper(l.DropCache)
	return arr, nil
}

// DropCache releases the device copy. The next DeviceValue re-uploads.
func (l *Learnable) DropCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropCacheLocked()
}

func (l *Learnable) dropCacheLocked() {
	if l.cache != nil {
		l.cache.Release()
		l.cache = nil
		l.ctx = nil
	}
}

// HasDeviceCache reports whether a device copy currently exists.
func (l *Learnable) HasDeviceCache() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache != nil
}
