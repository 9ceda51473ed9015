package gpu_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/gpu/gputest"
	"vulkan-compute-studio/unsafer"
)

type computeSetup struct {
	ctx      *gpu.Context
	dev      *gputest.Device
	alloc    *gpu.Allocator
	engine   *gpu.CommandEngine
	pipeline *gpu.ComputePipeline
	set      *gpu.DescriptorSet
	in, out  *gpu.Buffer
	run      *gpu.ComputeRun
}

func newComputeSetup(t *testing.T, count int) *computeSetup {
	t.Helper()
	g := NewWithT(t)

	c := &computeSetup{}
	c.ctx, c.dev = negotiate(t, gpu.Requirements{})
	c.alloc = gpu.NewAllocator(c.ctx)
	builder := gpu.NewPipelineBuilder(c.ctx)

	var err error
	c.engine, err = gpu.NewCommandEngine(c.ctx, 0)
	g.Expect(err).NotTo(HaveOccurred())

	size := uint64(count * 4)
	c.in, err = c.alloc.NewBuffer(size, gpu.BufferUsageStorage)
	g.Expect(err).NotTo(HaveOccurred())
	c.out, err = c.alloc.NewBuffer(size, gpu.BufferUsageStorage)
	g.Expect(err).NotTo(HaveOccurred())

	c.pipeline, err = builder.BuildCompute(fakeCode())
	g.Expect(err).NotTo(HaveOccurred())
	c.set, err = builder.CreateDescriptorSet(c.pipeline, []*gpu.Buffer{c.in, c.out}, size)
	g.Expect(err).NotTo(HaveOccurred())

	c.run, err = c.engine.NewComputeRun()
	g.Expect(err).NotTo(HaveOccurred())

	return c
}

func TestRecordCompute(t *testing.T) {
	g := NewWithT(t)

	c := newComputeSetup(t, 10)
	g.Expect(c.engine.RecordCompute(c.run.CommandBuffer, c.pipeline, c.set, 10)).To(Succeed())

	commands := c.dev.Commands(c.run.CommandBuffer)
	g.Expect(commands).To(HaveLen(3))
	g.Expect(commands[0].Op).To(Equal(gputest.OpBindPipeline))
	g.Expect(commands[0].Point).To(Equal(gpu.BindPointCompute))
	g.Expect(commands[0].Pipeline).To(Equal(c.pipeline.Pipeline))
	g.Expect(commands[1].Op).To(Equal(gputest.OpBindDescriptorSets))
	g.Expect(commands[1].Layout).To(Equal(c.pipeline.Layout))
	g.Expect(commands[1].Sets).To(Equal([]gpu.DescriptorSetID{c.set.Set}))
	g.Expect(commands[2].Op).To(Equal(gputest.OpDispatch))
	g.Expect(commands[2].Dispatch).To(Equal([3]uint32{10, 1, 1}))
}

func TestRunComputeDoublesInput(t *testing.T) {
	g := NewWithT(t)

	c := newComputeSetup(t, 10)
	c.dev.Kernel = doubleInts

	input := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	g.Expect(c.alloc.Write(c.in, unsafer.SliceToBytes(input))).To(Succeed())

	g.Expect(c.engine.RunCompute(c.run, c.pipeline, c.set, uint32(len(input)))).To(Succeed())

	data, err := c.alloc.Read(c.out)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(unsafer.BytesToSlice[int32](data)).To(Equal([]int32{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}))

	g.Expect(c.dev.Dispatches).To(HaveLen(1))
	g.Expect(c.dev.FenceSignaled(c.run.Fence)).To(BeFalse())
	g.Expect(c.dev.Violations).To(BeEmpty())
}

func TestRunComputeRepeatedly(t *testing.T) {
	g := NewWithT(t)

	c := newComputeSetup(t, 4)
	c.dev.Kernel = doubleInts
	g.Expect(c.alloc.Write(c.in, unsafer.SliceToBytes([]int32{1, 2, 3, 4}))).To(Succeed())

	for i := 0; i < 5; i++ {
		g.Expect(c.engine.RunCompute(c.run, c.pipeline, c.set, 4)).To(Succeed())
		g.Expect(c.alloc.Copy(c.in, c.out)).To(Succeed())
	}

	data, err := c.alloc.Read(c.in)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(unsafer.BytesToSlice[int32](data)).To(Equal([]int32{32, 64, 96, 128}))
	g.Expect(c.dev.Dispatches).To(HaveLen(5))
	g.Expect(c.dev.Violations).To(BeEmpty())
}

func TestRunComputeDeviceLost(t *testing.T) {
	g := NewWithT(t)

	c := newComputeSetup(t, 4)
	c.dev.Hang = true

	err := c.engine.RunCompute(c.run, c.pipeline, c.set, 4)
	g.Expect(errors.Is(err, gpu.ErrDeviceLost)).To(BeTrue())
	g.Expect(errors.Is(err, gpu.ErrTimeout)).To(BeTrue())
}

func TestRecordGraphicsDrawsTriangle(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)

	commands := s.dev.Commands(s.commands[0])
	ops := make([]gputest.Op, 0, len(commands))
	for _, c := range commands {
		ops = append(ops, c.Op)
	}
	g.Expect(ops).To(Equal([]gputest.Op{
		gputest.OpBeginRenderPass,
		gputest.OpBindPipeline,
		gputest.OpBindVertexBuffers,
		gputest.OpDraw,
		gputest.OpEndRenderPass,
	}))

	begin := commands[0].Begin
	g.Expect(begin.RenderPass).To(Equal(s.pass))
	g.Expect(begin.Framebuffer).To(Equal(s.dev.LastSwapchain().Framebuffers[0]))
	g.Expect(begin.Extent).To(Equal(gpu.Extent2D{Width: 800, Height: 600}))
	g.Expect(begin.ClearColor).To(Equal([4]float32{0, 0, 0.4, 1}))

	g.Expect(commands[1].Point).To(Equal(gpu.BindPointGraphics))
	g.Expect(commands[2].Buffers).To(Equal([]gpu.BufferID{s.vertices.ID}))
	g.Expect(commands[2].Offsets).To(Equal([]uint64{0}))
	g.Expect(commands[3].Draw).To(Equal([4]uint32{3, 1, 0, 0}))
}

func TestCommandEngineHeadlessHasNoGraphicsPool(t *testing.T) {
	g := NewWithT(t)

	ctx, dev := negotiate(t, gpu.Requirements{})
	engine, err := gpu.NewCommandEngine(ctx, time.Second)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(engine.Timeout()).To(Equal(time.Second))

	_, err = engine.AllocateGraphics(1)
	g.Expect(err).To(HaveOccurred())

	engine.Destroy()
	g.Expect(dev.Live()).To(BeEmpty())
}
