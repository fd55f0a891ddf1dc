package device

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// Buffer size categories for pooling.
type sizeClass int

const (
	smallClass  sizeClass = iota // < 4KB
	mediumClass                  // 4KB - 1MB
	largeClass                   // > 1MB
)

const (
	smallThreshold  = 4 * 1024
	mediumThreshold = 1024 * 1024
	maxPooledPerClass = 64
)

// pooledBuffer wraps a device buffer with the metadata needed for reuse.
type pooledBuffer struct {
	buffer *wgpu.Buffer
	size   uint64
	usage  wgpu.BufferUsage
}

// BufferPool reuses device buffers to cut allocation overhead. Draining the
// pool is the first stage of out-of-memory recovery.
type BufferPool struct {
	ctx *Context

	mu     sync.Mutex
	small  []*pooledBuffer
	medium []*pooledBuffer
	large  []*pooledBuffer

	hits   uint64
	misses uint64
}

// NewBufferPool creates an empty pool bound to the context's device.
func NewBufferPool(ctx *Context) *BufferPool {
	return &BufferPool{ctx: ctx}
}

func classify(size uint64) sizeClass {
	switch {
	case size < smallThreshold:
		return smallClass
	case size < mediumThreshold:
		return mediumClass
	default:
		return largeClass
	}
}

func (p *BufferPool) class(c sizeClass) *[]*pooledBuffer {
	switch c {
	case smallClass:
		return &p.small
	case mediumClass:
		return &p.medium
	default:
		return &p.large
	}
}

// Acquire returns a pooled buffer matching or exceeding size and usage, or
// allocates a new one. Allocation panics from the native layer are converted
// to an error by the caller (see AllocateWithRecovery).
func (p *BufferPool) Acquire(size uint64, usage wgpu.BufferUsage) *wgpu.Buffer {
	p.mu.Lock()
	pool := p.class(classify(size))
	for i, pb := range *pool {
		if pb.size >= size && pb.usage&usage == usage {
			buf := pb.buffer
			*pool = append((*pool)[:i], (*pool)[i+1:]...)
			p.hits++
			p.mu.Unlock()
			return buf
		}
	}
	p.misses++
	p.mu.Unlock()

	buf := p.ctx.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: usage,
		Size:  size,
	})
	p.ctx.trackAlloc(size)
	return buf
}

// Release returns a buffer to the pool, or frees it when the class is full.
func (p *BufferPool) Release(buffer *wgpu.Buffer, size uint64, usage wgpu.BufferUsage) {
	p.mu.Lock()
	pool := p.class(classify(size))
	if len(*pool) < maxPooledPerClass {
		*pool = append(*pool, &pooledBuffer{buffer: buffer, size: size, usage: usage})
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	buffer.Release()
	p.ctx.trackFree(size)
}

// Drain frees every pooled buffer. Used on Close and as recovery stage 1.
func (p *BufferPool) Drain() {
	p.mu.Lock()
	buffered := append(append(append([]*pooledBuffer{}, p.small...), p.medium...), p.large...)
	p.small, p.medium, p.large = nil, nil, nil
	p.mu.Unlock()

	for _, pb := range buffered {
		pb.buffer.Release()
		p.ctx.trackFree(pb.size)
	}
}

// HitRate returns pool hits and misses since creation.
func (p *BufferPool) HitRate() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}
