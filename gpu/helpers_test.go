package gpu_test

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus/hooks/test"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/gpu/gputest"
	"vulkan-compute-studio/unsafer"
)

var presentRequirements = gpu.Requirements{
	Present:    true,
	Extensions: []string{gputest.SwapchainExtension},
}

func negotiate(t *testing.T, req gpu.Requirements, devices ...*gputest.PhysicalDevice) (*gpu.Context, *gputest.Device) {
	t.Helper()
	g := NewWithT(t)

	if len(devices) == 0 {
		devices = []*gputest.PhysicalDevice{gputest.NewPhysicalDevice("fake")}
	}
	logger, _ := test.NewNullLogger()

	inst := gputest.NewInstance(devices...)
	ctx, err := gpu.Negotiate(inst, req, logger)
	g.Expect(err).NotTo(HaveOccurred())
	return ctx, inst.Device
}

// doubleInts is the kernel of the doubling compute shader.
func doubleInts(in, out []byte) {
	src := unsafer.BytesToSlice[int32](in)
	dst := make([]int32, len(src))
	for i, v := range src {
		dst[i] = v * 2
	}
	copy(out, unsafer.SliceToBytes(dst))
}

func fakeCode() []uint32 {
	return []uint32{0x07230203, 0x00010000, 0, 1, 0}
}

type scene struct {
	ctx       *gpu.Context
	dev       *gputest.Device
	allocator *gpu.Allocator
	builder   *gpu.PipelineBuilder
	engine    *gpu.CommandEngine
	swapchain gpu.Swapchain
	pass      gpu.RenderPassID
	pipeline  *gpu.GraphicsPipeline
	vertices  *gpu.Buffer
	commands  []gpu.CommandBufferID
}

// newScene creates everything needed to draw a triangle into a fake swapchain.
func newScene(t *testing.T) *scene {
	t.Helper()
	g := NewWithT(t)

	s := &scene{}
	s.ctx, s.dev = negotiate(t, presentRequirements)
	s.allocator = gpu.NewAllocator(s.ctx)
	s.builder = gpu.NewPipelineBuilder(s.ctx)

	var err error
	s.engine, err = gpu.NewCommandEngine(s.ctx, time.Second)
	g.Expect(err).NotTo(HaveOccurred())

	s.swapchain, err = s.dev.CreateSwapchain(gpu.SwapchainDesc{Families: s.ctx.PresentFamilies()})
	g.Expect(err).NotTo(HaveOccurred())

	s.pass, err = s.builder.BuildRenderPass(s.swapchain.Format())
	g.Expect(err).NotTo(HaveOccurred())

	framebuffers, err := s.swapchain.CreateFramebuffers(s.pass)
	g.Expect(err).NotTo(HaveOccurred())

	s.pipeline, err = s.builder.BuildGraphics(gpu.GraphicsConfig{
		VertexCode:   fakeCode(),
		FragmentCode: fakeCode(),
		RenderPass:   s.pass,
		Extent:       s.swapchain.Extent(),
		Bindings:     []gpu.VertexBinding{{Binding: 0, Stride: 24}},
		Attributes: []gpu.VertexAttribute{
			{Location: 0, Binding: 0, Format: gpu.VertexFloat32x3, Offset: 0},
			{Location: 1, Binding: 0, Format: gpu.VertexFloat32x3, Offset: 12},
		},
	})
	g.Expect(err).NotTo(HaveOccurred())

	s.vertices, err = s.allocator.NewBuffer(3*24, gpu.BufferUsageVertex|gpu.BufferUsageStorage)
	g.Expect(err).NotTo(HaveOccurred())

	s.commands, err = s.engine.AllocateGraphics(len(framebuffers))
	g.Expect(err).NotTo(HaveOccurred())

	for i, cb := range s.commands {
		err := s.engine.RecordGraphics(cb, gpu.GraphicsRecording{
			Pipeline:     s.pipeline,
			RenderPass:   s.pass,
			Framebuffer:  framebuffers[i],
			VertexBuffer: s.vertices,
			VertexCount:  3,
			ClearColor:   gpu.DefaultClearColor,
		})
		g.Expect(err).NotTo(HaveOccurred())
	}

	return s
}

func (s *scene) commandFor(image uint32) gpu.CommandBufferID {
	return s.commands[image]
}
