// Package device manages the accelerator side of layer execution: a WebGPU
// context (via go-webgpu, zero CGO), pooled device buffers, resident arrays
// for parameter caches, and the staged out-of-memory recovery sequence.
//
// Numeric kernels on the accelerator are treated as opaque primitives: the
// strategies in internal/strategy/accel own which parts of a layer's math run
// through device kernels. This package only provides the plumbing.
package device

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// Context owns one accelerator device and everything created from it.
// A Context is safe for use from a single worker; plexus workers never share
// layer state, so they never share a Context either.
type Context struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	adapterInfo *wgpu.AdapterInfoGo

	// Shader and pipeline caches, keyed by kernel name.
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	pool *BufferPool

	// Cache droppers registered by parameter owners; invoked during staged
	// out-of-memory recovery (stage 2).
	droppers   []func()
	droppersMu sync.Mutex

	stats MemoryStats
}

// MemoryStats tracks device allocations for diagnostics and recovery.
type MemoryStats struct {
	mu             sync.Mutex
	AllocatedBytes uint64
	PeakBytes      uint64
	ActiveBuffers  int64
}

// New initializes the accelerator. It returns an error (never panics) when
// no WebGPU implementation is available, so callers can fall back to host
// execution.
func New() (ctx *Context, err error) {
	// wgpu panics when the native library cannot be loaded.
	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = fmt.Errorf("device: webgpu native library not available: %v", r)
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return nil, fmt.Errorf("device: failed to create instance: %w", instErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("device: failed to request adapter: %w", adapterErr)
	}

	adapterInfo, _ := adapter.GetInfo()

	dev, devErr := adapter.RequestDevice(nil)
	if devErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("device: failed to request device: %w", devErr)
	}

	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("device: failed to get queue")
	}

	c := &Context{
		instance:    instance,
		adapter:     adapter,
		device:      dev,
		queue:       queue,
		adapterInfo: adapterInfo,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
	}
	c.pool = NewBufferPool(c)
	return c, nil
}

// Name returns the adapter's device name, or "unknown" when unavailable.
func (c *Context) Name() string {
	if c.adapterInfo == nil {
		return "unknown"
	}
	return c.adapterInfo.Device
}

// Stats returns a snapshot of the memory counters.
func (c *Context) Stats() (allocated, peak uint64, active int64) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	return c.stats.AllocatedBytes, c.stats.PeakBytes, c.stats.ActiveBuffers
}

// RegisterCacheDropper registers a callback that releases device caches
// (parameter copies) when the allocator runs out of memory. Droppers must be
// idempotent.
func (c *Context) RegisterCacheDropper(drop func()) {
	c.droppersMu.Lock()
	c.droppers = append(c.droppers, drop)
	c.droppersMu.Unlock()
}

func (c *Context) dropCaches() {
	c.droppersMu.Lock()
	droppers := c.droppers
	c.droppersMu.Unlock()
	for _, drop := range droppers {
		drop()
	}
}

func (c *Context) trackAlloc(size uint64) {
	c.stats.mu.Lock()
	c.stats.AllocatedBytes += size
	c.stats.ActiveBuffers++
	if c.stats.AllocatedBytes > c.stats.PeakBytes {
		c.stats.PeakBytes = c.stats.AllocatedBytes
	}
	c.stats.mu.Unlock()
}

func (c *Context) trackFree(size uint64) {
	c.stats.mu.Lock()
	if c.stats.AllocatedBytes >= size {
		c.stats.AllocatedBytes -= size
	}
	c.stats.ActiveBuffers--
	c.stats.mu.Unlock()
}

// Close releases every cached pipeline, pooled buffer, and finally the
// device itself.
func (c *Context) Close() {
	c.mu.Lock()
	for _, p := range c.pipelines {
		p.Release()
	}
	for _, s := range c.shaders {
		s.Release()
	}
	c.pipelines = map[string]*wgpu.ComputePipeline{}
	c.shaders = map[string]*wgpu.ShaderModule{}
	c.mu.Unlock()

	c.pool.Drain()

	if c.device != nil {
		c.device.Release()
	}
	if c.adapter != nil {
		c.adapter.Release()
	}
	if c.instance != nil {
		c.instance.Release()
	}
}
