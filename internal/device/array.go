package device

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

// ErrOutOfMemory is returned when a device allocation fails even after every
// recovery stage has run. Callers fall back to host execution.
var ErrOutOfMemory = errors.New("device: out of memory after recovery")

// Array is a device-resident float32 buffer. Learnable parameters keep one
// Array as a lazily populated cache of their host value; strategies keep
// short-lived Arrays for activations.
type Array struct {
	ctx  *Context
	buf  *wgpu.Buffer
	n    int    // element count
	size uint64 // byte size actually allocated
}

// Len returns the number of float32 elements.
func (a *Array) Len() int { return a.n }

// Release returns the buffer to the pool.
func (a *Array) Release() {
	if a.buf == nil {
		return
	}
	a.ctx.pool.Release(a.buf, a.size, arrayUsage)
	a.buf = nil
}

const arrayUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// AllocateWithRecovery acquires a device buffer for n float32 elements,
// running the staged out-of-memory recovery sequence on failure:
//
//	stage 1: drain the buffer pool
//	stage 2: drop registered parameter caches
//	stage 3: give up with ErrOutOfMemory (caller falls back to host)
//
// Native allocation failures surface as panics from the wgpu layer; each
// stage retries the allocation once.
func (c *Context) AllocateWithRecovery(n int) (*Array, error) {
	size := uint64(n) * 4

	buf, err := c.tryAcquire(size)
	if err == nil {
		return &Array{ctx: c, buf: buf, n: n, size: size}, nil
	}

	// Stage 1: free pooled buffers.
	c.pool.Drain()
	if buf, err = c.tryAcquire(size); err == nil {
		return &Array{ctx: c, buf: buf, n: n, size: size}, nil
	}

	// Stage 2: drop parameter caches.
	c.dropCaches()
	if buf, err = c.tryAcquire(size); err == nil {
		return &Array{ctx: c, buf: buf, n: n, size: size}, nil
	}

	return nil, fmt.Errorf("%w: wanted %d bytes: %v", ErrOutOfMemory, size, err)
}

func (c *Context) tryAcquire(size uint64) (buf *wgpu.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("device: allocation failed: %v", r)
		}
	}()
	buf = c.pool.Acquire(size, arrayUsage)
	if buf == nil {
		err = fmt.Errorf("device: allocation returned nil buffer")
	}
	return buf, err
}

// Upload copies host data into a freshly allocated device array.
func (c *Context) Upload(data []float32) (*Array, error) {
	arr, err := c.AllocateWithRecovery(len(data))
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		bytes := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
		c.queue.WriteBuffer(arr.buf, 0, bytes)
	}
	return arr, nil
}

// Download copies the array's contents back to host memory. It goes through
// a staging buffer since storage buffers cannot be mapped directly.
func (a *Array) Download() ([]float32, error) {
	size := uint64(a.n) * 4
	if size == 0 {
		return nil, nil
	}

	staging := a.ctx.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := a.ctx.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(a.buf, 0, staging, 0, size)
	cmd := encoder.Finish(nil)
	a.ctx.queue.Submit(cmd)

	if err := staging.MapAsync(a.ctx.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("device: failed to map staging buffer: %w", err)
	}
	mapped := staging.GetMappedRange(0, size)
	src := unsafe.Slice((*byte)(mapped), size)

	out := make([]float32, a.n)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), size)
	copy(dst, src)
	staging.Unmap()

	return out, nil
}
