package studio_test

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/xlab/linmath"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/gpu/gputest"
	"vulkan-compute-studio/shaders"
	"vulkan-compute-studio/studio"
	"vulkan-compute-studio/unsafer"
)

type fakeSurface struct {
	resized bool
	waits   int
}

func (f *fakeSurface) WaitForSize() {
	f.waits++
}

func (f *fakeSurface) TakeResized() bool {
	resized := f.resized
	f.resized = false
	return resized
}

// rotateKernel turns every vertex position around the Z axis like the
// rotation compute shader does.
func rotateKernel(in, out []byte) {
	var m linmath.Mat4x4
	m.Identity()
	m.RotateZ(&m, 0.01)

	vertices := unsafer.BytesToSlice[studio.Vertex](in)
	for i := range vertices {
		x, y := vertices[i].Pos[0], vertices[i].Pos[1]
		vertices[i].Pos[0] = m[0][0]*x + m[1][0]*y
		vertices[i].Pos[1] = m[0][1]*x + m[1][1]*y
	}
	copy(out, unsafer.SliceToBytes(vertices))
}

func fakePrograms() studio.Programs {
	code := []uint32{0x07230203, 0x00010000, 0, 1, 0}
	return studio.Programs{Compute: code, Vertex: code, Fragment: code}
}

// fixedFloatKernel assembles the interface of a kernel declaring two f32
// storage arrays of length elements at bindings 0 and 1.
func fixedFloatKernel(length uint32) []uint32 {
	op := func(code uint32, operands ...uint32) []uint32 {
		return append([]uint32{uint32(len(operands)+1)<<16 | code}, operands...)
	}

	code := []uint32{0x07230203, 0x00010300, 0, 9, 0}
	code = append(code, op(71, 3, 6, 4)...)  // ArrayStride 4
	code = append(code, op(71, 4, 2)...)     // Block
	code = append(code, op(71, 6, 33, 0)...) // Binding 0
	code = append(code, op(71, 7, 33, 1)...) // Binding 1
	code = append(code, op(22, 1, 32)...)
	code = append(code, op(21, 8, 32, 0)...)
	code = append(code, op(43, 8, 2, length)...)
	code = append(code, op(28, 3, 1, 2)...)
	code = append(code, op(30, 4, 3)...)
	code = append(code, op(32, 5, 12, 4)...)
	code = append(code, op(59, 5, 6, 12)...)
	code = append(code, op(59, 5, 7, 12)...)
	return code
}

func length(v linmath.Vec3) float64 {
	return math.Hypot(float64(v[0]), float64(v[1]))
}

var _ = Describe("Simulation", func() {
	var (
		physical *gputest.PhysicalDevice
		ctx      *gpu.Context
		dev      *gputest.Device
		surface  *fakeSurface
		cfg      studio.Config
	)

	negotiate := func() {
		logger, _ := test.NewNullLogger()
		inst := gputest.NewInstance(physical)

		var err error
		ctx, err = gpu.Negotiate(inst, gpu.Requirements{
			Present:    true,
			Extensions: []string{gputest.SwapchainExtension},
		}, logger)
		Expect(err).NotTo(HaveOccurred())

		dev = inst.Device
		dev.Kernel = rotateKernel
	}

	BeforeEach(func() {
		physical = gputest.NewPhysicalDevice("fake")
		surface = &fakeSurface{}
		cfg = studio.DefaultConfig()
		cfg.FenceTimeout = time.Second
	})

	Context("with a working device", func() {
		var sim *studio.Simulation

		BeforeEach(func() {
			negotiate()

			var err error
			sim, err = studio.New(ctx, surface, fakePrograms(), cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			if sim != nil {
				sim.Close()
			}
			Expect(dev.Violations).To(BeEmpty())
		})

		It("starts with the triangle in the vertex buffer", func() {
			vertices, err := sim.Vertices()
			Expect(err).NotTo(HaveOccurred())
			Expect(vertices).To(Equal(studio.Triangle))
		})

		It("creates the input, output and vertex buffers", func() {
			Expect(countCalls(dev.Live(), "buffer")).To(Equal(3))
			Expect(countCalls(dev.Live(), "memory")).To(Equal(3))
		})

		It("dispatches once per vertex and draws the triangle every tick", func() {
			Expect(sim.Tick()).To(Succeed())

			Expect(dev.Dispatches).To(HaveLen(1))
			Expect(dev.Dispatches[0].Dispatch).To(Equal([3]uint32{3, 1, 1}))

			Expect(sim.Vertices()).To(Equal(studio.Triangle))
			Expect(dev.Draws).To(HaveLen(1))
			Expect(dev.Draws[0].Draw).To(Equal([4]uint32{3, 1, 0, 0}))
			Expect(sim.Ticks()).To(Equal(uint64(1)))
		})

		It("writes rotated vertices to the output buffer", func() {
			Expect(sim.Tick()).To(Succeed())

			output, err := sim.Output()
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(HaveLen(len(studio.Triangle)))

			for i, v := range output {
				want := studio.Triangle[i]
				Expect(v.Color).To(Equal(want.Color))
				Expect(v.Pos[2]).To(Equal(want.Pos[2]))
				Expect(length(v.Pos)).To(BeNumerically("~", length(want.Pos), 1e-5))
			}
			Expect(output[1].Pos).NotTo(Equal(studio.Triangle[1].Pos))
		})

		It("keeps the vertex buffer untouched without feedback", func() {
			for i := 0; i < 5; i++ {
				Expect(sim.Tick()).To(Succeed())
			}
			Expect(sim.Vertices()).To(Equal(studio.Triangle))
		})

		It("runs many ticks without breaking the fence discipline", func() {
			for i := 0; i < 50; i++ {
				Expect(sim.Tick()).To(Succeed())
			}
			Expect(dev.Dispatches).To(HaveLen(50))
			Expect(dev.LastSwapchain().Presented).To(HaveLen(50))
			Expect(dev.Violations).To(BeEmpty())
		})

		It("recreates the swapchain when the acquire is out of date", func() {
			dev.LastSwapchain().OutOfDateAcquires = 1
			pipelines := countCalls(dev.Calls, "CreateGraphicsPipeline")

			Expect(sim.Tick()).To(Succeed())

			Expect(dev.Swapchains).To(HaveLen(2))
			Expect(dev.Swapchains[0].Destroyed).To(BeTrue())
			Expect(surface.waits).To(Equal(1))
			Expect(countCalls(dev.Calls, "CreateGraphicsPipeline")).To(Equal(pipelines + 1))

			Expect(sim.Tick()).To(Succeed())
			Expect(dev.LastSwapchain().Presented).To(HaveLen(1))
		})

		It("recreates the swapchain when the present is out of date", func() {
			dev.LastSwapchain().OutOfDatePresents = 1

			Expect(sim.Tick()).To(Succeed())
			Expect(dev.Swapchains).To(HaveLen(2))
			Expect(dev.Swapchains[0].Presented).To(HaveLen(1))

			Expect(sim.Tick()).To(Succeed())
			Expect(dev.Swapchains[1].Presented).To(HaveLen(1))
		})

		It("recreates the swapchain after the window was resized", func() {
			surface.resized = true
			Expect(sim.Tick()).To(Succeed())
			Expect(dev.Swapchains).To(HaveLen(2))

			Expect(sim.Tick()).To(Succeed())
			Expect(dev.Swapchains).To(HaveLen(2))
		})

		It("releases every device object on close", func() {
			Expect(sim.Tick()).To(Succeed())
			sim.Close()
			sim = nil

			Expect(dev.Live()).To(BeEmpty())
		})
	})

	Context("with feedback", func() {
		It("moves the compute output into the vertex buffer", func() {
			negotiate()
			cfg.Feedback = true

			sim, err := studio.New(ctx, surface, fakePrograms(), cfg)
			Expect(err).NotTo(HaveOccurred())
			defer sim.Close()

			for i := 0; i < 3; i++ {
				Expect(sim.Tick()).To(Succeed())
			}

			vertices, err := sim.Vertices()
			Expect(err).NotTo(HaveOccurred())
			output, err := sim.Output()
			Expect(err).NotTo(HaveOccurred())

			Expect(vertices).To(Equal(output))
			Expect(vertices[1].Pos).NotTo(Equal(studio.Triangle[1].Pos))
			Expect(dev.Violations).To(BeEmpty())
		})
	})

	Context("when setup fails", func() {
		It("reports missing host coherent memory and releases everything", func() {
			physical = physical.WithoutHostCoherentMemory()
			negotiate()

			_, err := studio.New(ctx, surface, fakePrograms(), cfg)
			Expect(errors.Is(err, gpu.ErrNoMemoryType)).To(BeTrue())
			Expect(errors.Is(err, gpu.ErrCapability)).To(BeTrue())
			Expect(dev.Live()).To(BeEmpty())
		})

		It("rejects a configuration without frames in flight", func() {
			negotiate()
			cfg.FramesInFlight = 0

			_, err := studio.New(ctx, surface, fakePrograms(), cfg)
			Expect(err).To(HaveOccurred())
			Expect(dev.Live()).To(BeEmpty())
		})

		It("rejects a compute shader sized for another vertex count", func() {
			negotiate()
			programs := fakePrograms()
			programs.Compute = fixedFloatKernel(6)

			_, err := studio.New(ctx, surface, programs, cfg)
			Expect(errors.Is(err, gpu.ErrDescriptorMismatch)).To(BeTrue())
			Expect(errors.Is(err, shaders.ErrRegionMismatch)).To(BeTrue())
			Expect(dev.Live()).To(BeEmpty())
		})

		It("accepts a compute shader sized for the triangle", func() {
			negotiate()
			programs := fakePrograms()
			programs.Compute = fixedFloatKernel(18)

			sim, err := studio.New(ctx, surface, programs, cfg)
			Expect(err).NotTo(HaveOccurred())
			sim.Close()
		})

		It("reports a null graphics pipeline as a creation error", func() {
			negotiate()
			dev.NullPipelines = true

			_, err := studio.New(ctx, surface, fakePrograms(), cfg)
			Expect(errors.Is(err, gpu.ErrResourceCreation)).To(BeTrue())
			Expect(dev.Live()).To(BeEmpty())
		})
	})

	Context("when the device stops responding", func() {
		It("fails the tick with a lost device", func() {
			negotiate()

			sim, err := studio.New(ctx, surface, fakePrograms(), cfg)
			Expect(err).NotTo(HaveOccurred())

			dev.Hang = true
			err = sim.Tick()
			Expect(errors.Is(err, gpu.ErrDeviceLost)).To(BeTrue())
		})
	})
})

func countCalls(calls []string, method string) int {
	n := 0
	for _, c := range calls {
		if c == method {
			n++
		}
	}
	return n
}
