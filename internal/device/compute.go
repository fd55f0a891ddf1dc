package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

// compileKernel compiles WGSL into a ShaderModule, caching by name.
func (c *Context) compileKernel(name, code string) *wgpu.ShaderModule {
	c.mu.RLock()
	if shader, ok := c.shaders[name]; ok {
		c.mu.RUnlock()
		return shader
	}
	c.mu.RUnlock()

	shader := c.device.CreateShaderModuleWGSL(code)

	c.mu.Lock()
	c.shaders[name] = shader
	c.mu.Unlock()
	return shader
}

// pipelineFor returns a cached ComputePipeline for the kernel, creating it on
// first use with an auto layout.
func (c *Context) pipelineFor(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	c.mu.RLock()
	if pipeline, ok := c.pipelines[name]; ok {
		c.mu.RUnlock()
		return pipeline
	}
	c.mu.RUnlock()

	pipeline := c.device.CreateComputePipelineSimple(nil, shader, "main")

	c.mu.Lock()
	c.pipelines[name] = pipeline
	c.mu.Unlock()
	return pipeline
}

// uniformBuffer creates a 16-byte-aligned uniform buffer with initial data.
func (c *Context) uniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	aligned := (size + 15) &^ 15

	buf := c.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             aligned,
		MappedAtCreation: wgpu.True,
	})
	mapped := buf.GetMappedRange(0, aligned)
	copy(unsafe.Slice((*byte)(mapped), aligned), data)
	buf.Unmap()
	return buf
}

// Add runs out = a + b on-device. All arrays must have equal length.
func (c *Context) Add(a, b, out *Array) error {
	if a.n != b.n || a.n != out.n {
		return fmt.Errorf("device: add: length mismatch %d/%d/%d", a.n, b.n, out.n)
	}
	return c.runBinary("add", addKernel, a, b, out)
}

// Mul runs out = a * b element-wise on-device.
func (c *Context) Mul(a, b, out *Array) error {
	if a.n != b.n || a.n != out.n {
		return fmt.Errorf("device: mul: length mismatch %d/%d/%d", a.n, b.n, out.n)
	}
	return c.runBinary("mul", mulKernel, a, b, out)
}

// ReLU runs out = max(0, x) on-device.
func (c *Context) ReLU(x, out *Array) error {
	if x.n != out.n {
		return fmt.Errorf("device: relu: length mismatch %d/%d", x.n, out.n)
	}
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(x.n))
	return c.runKernel("relu", reluKernel, params, x.n, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, x.buf, 0, x.size),
		wgpu.BufferBindingEntry(1, out.buf, 0, out.size),
	}, 2)
}

// Scale runs out = alpha * x on-device.
func (c *Context) Scale(alpha float32, x, out *Array) error {
	if x.n != out.n {
		return fmt.Errorf("device: scale: length mismatch %d/%d", x.n, out.n)
	}
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(x.n))
	binary.LittleEndian.PutUint32(params[4:8], math.Float32bits(alpha))
	return c.runKernel("scale", scaleKernel, params, x.n, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, x.buf, 0, x.size),
		wgpu.BufferBindingEntry(1, out.buf, 0, out.size),
	}, 2)
}

func (c *Context) runBinary(name, code string, a, b, out *Array) error {
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(a.n))
	return c.runKernel(name, code, params, a.n, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, a.buf, 0, a.size),
		wgpu.BufferBindingEntry(1, b.buf, 0, b.size),
		wgpu.BufferBindingEntry(2, out.buf, 0, out.size),
	}, 3)
}

// runKernel dispatches one element-wise compute pass. entries holds the
// storage bindings; the uniform params buffer is appended at paramBinding.
func (c *Context) runKernel(name, code string, params []byte, n int, entries []wgpu.BindGroupEntry, paramBinding uint32) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("device: %s kernel failed: %v", name, r)
		}
	}()

	shader := c.compileKernel(name, code)
	pipeline := c.pipelineFor(name, shader)

	paramBuf := c.uniformBuffer(params)
	defer paramBuf.Release()
	entries = append(entries, wgpu.BufferBindingEntry(paramBinding, paramBuf, 0, uint64((len(params)+15)&^15)))

	layout := pipeline.GetBindGroupLayout(0)
	bindGroup := c.device.CreateBindGroupSimple(layout, entries)
	defer bindGroup.Release()

	encoder := c.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	workgroups := uint32((n + workgroupSize - 1) / workgroupSize)
	pass.DispatchWorkgroups(workgroups, 1, 1)
	pass.End()

	cmd := encoder.Finish(nil)
	c.queue.Submit(cmd)
	return nil
}
