package gpu

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// Infinite is the "effectively unbounded" fence timeout.
const Infinite = time.Duration(math.MaxInt64)

// DefaultClearColor is the color the render pass clears to.
var DefaultClearColor = [4]float32{0, 0, 0.4, 1}

// Wait is a semaphore a submission waits on and the stage which waits.
type Wait struct {
	Semaphore SemaphoreID
	Stage     PipelineStage
}

// GraphicsRecording holds the parameters of the single draw recorded into a
// graphics command buffer.
type GraphicsRecording struct {
	Pipeline     *GraphicsPipeline
	RenderPass   RenderPassID
	Framebuffer  FramebufferID
	VertexBuffer *Buffer
	VertexCount  uint32
	ClearColor   [4]float32
}

// CommandEngine records and submits command buffers. It owns one command pool
// on the compute family and, when presenting, one on the graphics family.
type CommandEngine struct {
	ctx          *Context
	computePool  CommandPoolID
	graphicsPool CommandPoolID
	timeout      time.Duration
}

// NewCommandEngine creates the command pools. Fence waits give up after timeout
// and report ErrDeviceLost.
func NewCommandEngine(ctx *Context, timeout time.Duration) (*CommandEngine, error) {
	if timeout <= 0 {
		timeout = Infinite
	}
	e := &CommandEngine{ctx: ctx, timeout: timeout}

	var err error
	e.computePool, err = ctx.Device.CreateCommandPool(ctx.Families.Compute.Get())
	if err != nil {
		return nil, creationError(err, "failed to create compute command pool")
	}

	if graphics, ok := ctx.Families.Graphics.Lookup(); ok && ctx.requirements.Present {
		e.graphicsPool, err = ctx.Device.CreateCommandPool(graphics)
		if err != nil {
			e.Destroy()
			return nil, creationError(err, "failed to create graphics command pool")
		}
	}

	return e, nil
}

// Timeout returns the fence wait timeout.
func (e *CommandEngine) Timeout() time.Duration {
	return e.timeout
}

// AllocateCompute allocates a primary command buffer from the compute pool.
func (e *CommandEngine) AllocateCompute() (CommandBufferID, error) {
	cbs, err := e.ctx.Device.AllocateCommandBuffers(e.computePool, 1)
	if err != nil {
		return NullHandle, creationError(err, "failed to allocate compute command buffer")
	}
	return cbs[0], nil
}

// AllocateGraphics allocates count primary command buffers from the graphics
// pool.
func (e *CommandEngine) AllocateGraphics(count int) ([]CommandBufferID, error) {
	if e.graphicsPool == NullHandle {
		return nil, errors.New("command engine was created without a graphics pool")
	}
	cbs, err := e.ctx.Device.AllocateCommandBuffers(e.graphicsPool, uint32(count))
	if err != nil {
		return nil, creationError(err, "failed to allocate graphics command buffers")
	}
	return cbs, nil
}

// FreeGraphics returns command buffers to the graphics pool.
func (e *CommandEngine) FreeGraphics(cbs []CommandBufferID) {
	if len(cbs) > 0 {
		e.ctx.Device.FreeCommandBuffers(e.graphicsPool, cbs)
	}
}

// RecordCompute records a one time submit dispatch of (dispatchCount, 1, 1)
// workgroups. The command buffer must not be pending.
func (e *CommandEngine) RecordCompute(cb CommandBufferID, cp *ComputePipeline, ds *DescriptorSet, dispatchCount uint32) error {
	dev := e.ctx.Device

	if err := dev.BeginCommandBuffer(cb, true); err != nil {
		return errors.Wrap(err, "cannot add begin command to the buffer")
	}

	dev.CmdBindPipeline(cb, BindPointCompute, cp.Pipeline)
	dev.CmdBindDescriptorSets(cb, BindPointCompute, cp.Layout, []DescriptorSetID{ds.Set})
	dev.CmdDispatch(cb, dispatchCount, 1, 1)

	if err := dev.EndCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "recording commands to buffer failed")
	}
	return nil
}

// RecordGraphics records the triangle draw into framebuffer. The buffer is
// recorded for reuse, it is not one time submit.
func (e *CommandEngine) RecordGraphics(cb CommandBufferID, rec GraphicsRecording) error {
	dev := e.ctx.Device

	if err := dev.BeginCommandBuffer(cb, false); err != nil {
		return errors.Wrap(err, "cannot add begin command to the buffer")
	}

	dev.CmdBeginRenderPass(cb, RenderPassBegin{
		RenderPass:  rec.RenderPass,
		Framebuffer: rec.Framebuffer,
		Extent:      rec.Pipeline.Extent,
		ClearColor:  rec.ClearColor,
	})
	dev.CmdBindPipeline(cb, BindPointGraphics, rec.Pipeline.Pipeline)
	dev.CmdBindVertexBuffers(cb, 0, []BufferID{rec.VertexBuffer.ID}, []uint64{0})
	dev.CmdDraw(cb, rec.VertexCount, 1, 0, 0)
	dev.CmdEndRenderPass(cb)

	if err := dev.EndCommandBuffer(cb); err != nil {
		return errors.Wrap(err, "recording commands to buffer failed")
	}
	return nil
}

// Submit submits cb to queue. When fence is not null it is signaled once the
// work completes and the caller has to wait on it before reusing anything cb
// references.
func (e *CommandEngine) Submit(cb CommandBufferID, queue QueueID, waits []Wait, signals []SemaphoreID, fence FenceID) error {
	submit := SubmitInfo{
		CommandBuffers: []CommandBufferID{cb},
		Signal:         signals,
	}
	for _, w := range waits {
		submit.Wait = append(submit.Wait, w.Semaphore)
		submit.WaitStages = append(submit.WaitStages, w.Stage)
	}

	if err := e.ctx.Device.QueueSubmit(queue, submit, fence); err != nil {
		return errors.Wrap(err, "queue submit error")
	}
	return nil
}

// WaitFence blocks until fence is signaled. An expired timeout is reported as
// ErrDeviceLost.
func (e *CommandEngine) WaitFence(fence FenceID) error {
	err := e.ctx.Device.WaitForFences([]FenceID{fence}, e.timeout)
	if errors.Is(err, ErrTimeout) {
		return errors.Mark(errors.Wrapf(err, "fence not signaled after %s", e.timeout), ErrDeviceLost)
	}
	if err != nil {
		return errors.Mark(errors.Wrap(err, "waiting for fence"), ErrDeviceLost)
	}
	return nil
}

// ComputeRun is the state of the per tick compute pass: a command buffer which
// is re-recorded every run and the fence the host waits on.
type ComputeRun struct {
	CommandBuffer CommandBufferID
	Fence         FenceID
}

// NewComputeRun allocates the command buffer and the fence of a compute pass.
func (e *CommandEngine) NewComputeRun() (*ComputeRun, error) {
	cb, err := e.AllocateCompute()
	if err != nil {
		return nil, err
	}
	fence, err := e.ctx.Device.CreateFence(false)
	if err != nil {
		e.ctx.Device.FreeCommandBuffers(e.computePool, []CommandBufferID{cb})
		return nil, creationError(err, "failed to create compute fence")
	}
	return &ComputeRun{CommandBuffer: cb, Fence: fence}, nil
}

// RunCompute records the dispatch, submits it to the compute queue and blocks
// until it completes. When it returns without error the output written by the
// shader is visible to the host.
func (e *CommandEngine) RunCompute(run *ComputeRun, cp *ComputePipeline, ds *DescriptorSet, dispatchCount uint32) error {
	dev := e.ctx.Device

	if err := dev.ResetCommandBuffer(run.CommandBuffer); err != nil {
		return errors.Wrap(err, "resetting compute command buffer")
	}
	if err := e.RecordCompute(run.CommandBuffer, cp, ds, dispatchCount); err != nil {
		return errors.Wrap(err, "recording compute command buffer")
	}
	if err := e.Submit(run.CommandBuffer, e.ctx.ComputeQueue, nil, nil, run.Fence); err != nil {
		return errors.Wrap(err, "submitting compute work")
	}
	if err := e.WaitFence(run.Fence); err != nil {
		return err
	}
	if err := dev.ResetFences([]FenceID{run.Fence}); err != nil {
		return errors.Wrap(err, "resetting compute fence")
	}
	return nil
}

// DestroyComputeRun releases run.
func (e *CommandEngine) DestroyComputeRun(run *ComputeRun) {
	if run == nil {
		return
	}
	if run.Fence != NullHandle {
		e.ctx.Device.DestroyFence(run.Fence)
		run.Fence = NullHandle
	}
	if run.CommandBuffer != NullHandle {
		e.ctx.Device.FreeCommandBuffers(e.computePool, []CommandBufferID{run.CommandBuffer})
		run.CommandBuffer = NullHandle
	}
}

// Destroy releases the command pools and with them every command buffer.
func (e *CommandEngine) Destroy() {
	if e.graphicsPool != NullHandle {
		e.ctx.Device.DestroyCommandPool(e.graphicsPool)
		e.graphicsPool = NullHandle
	}
	if e.computePool != NullHandle {
		e.ctx.Device.DestroyCommandPool(e.computePool)
		e.computePool = NullHandle
	}
}
