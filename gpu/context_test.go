package gpu_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/gpu/gputest"
	"vulkan-compute-studio/queues"
)

func TestNegotiateHeadlessPicksFirstDevice(t *testing.T) {
	g := NewWithT(t)

	first := gputest.NewPhysicalDevice("first")
	first.Present = nil
	first.Extensions = nil
	second := gputest.NewPhysicalDevice("second")

	ctx, dev := negotiate(t, gpu.Requirements{}, first, second)
	g.Expect(ctx.Properties.Name).To(Equal("first"))
	g.Expect(ctx.Families.Compute.Get()).To(Equal(uint32(0)))
	g.Expect(ctx.Families.Present.HasValue()).To(BeFalse())
	g.Expect(ctx.ComputeQueue).NotTo(BeZero())
	g.Expect(ctx.GraphicsQueue).To(BeZero())
	g.Expect(dev.Desc.Families).To(Equal([]uint32{0}))
	g.Expect(ctx.SharingFamilies()).To(Equal([]uint32{0}))
}

func TestNegotiateHeadlessKeepsEnumerationOrder(t *testing.T) {
	g := NewWithT(t)

	integrated := gputest.NewPhysicalDevice("integrated")
	integrated.Props.Discrete = false
	discrete := gputest.NewPhysicalDevice("discrete")

	ctx, _ := negotiate(t, gpu.Requirements{}, integrated, discrete)
	g.Expect(ctx.Properties.Name).To(Equal("integrated"))
	g.Expect(ctx.Properties.Discrete).To(BeFalse())
}

func TestNegotiateSplitFamilies(t *testing.T) {
	g := NewWithT(t)

	ctx, dev := negotiate(t, presentRequirements, gputest.NewSplitPhysicalDevice("split"))
	g.Expect(ctx.Families.Compute.Get()).To(Equal(uint32(1)))
	g.Expect(ctx.Families.Graphics.Get()).To(Equal(uint32(2)))
	g.Expect(ctx.Families.Present.Get()).To(Equal(uint32(3)))
	g.Expect(dev.Desc.Families).To(Equal([]uint32{1, 2, 3}))
	g.Expect(dev.Desc.Extensions).To(Equal([]string{gputest.SwapchainExtension}))

	g.Expect(ctx.SharingFamilies()).To(Equal([]uint32{1, 2}))
	g.Expect(ctx.PresentFamilies()).To(Equal([]uint32{2, 3}))

	g.Expect(ctx.ComputeQueue).NotTo(Equal(ctx.GraphicsQueue))
	g.Expect(ctx.GraphicsQueue).NotTo(Equal(ctx.PresentQueue))
}

func TestNegotiateSkipsUnsuitableDevices(t *testing.T) {
	g := NewWithT(t)

	noExtension := gputest.NewPhysicalDevice("no extension")
	noExtension.Extensions = nil
	noFormats := gputest.NewPhysicalDevice("no formats")
	noFormats.Swapchain.Formats = 0
	good := gputest.NewPhysicalDevice("good")

	ctx, _ := negotiate(t, presentRequirements, noExtension, noFormats, good)
	g.Expect(ctx.Properties.Name).To(Equal("good"))
}

func TestNegotiateWithoutDevices(t *testing.T) {
	g := NewWithT(t)

	_, err := gpu.Negotiate(gputest.NewInstance(), gpu.Requirements{}, nil)
	g.Expect(errors.Is(err, gpu.ErrNoDevice)).To(BeTrue())
	g.Expect(errors.Is(err, gpu.ErrCapability)).To(BeTrue())
}

func TestNegotiateWithoutPresentSupport(t *testing.T) {
	g := NewWithT(t)

	pd := gputest.NewPhysicalDevice("offscreen")
	pd.Present = nil

	inst := gputest.NewInstance(pd)
	_, err := gpu.Negotiate(inst, presentRequirements, nil)
	g.Expect(errors.Is(err, gpu.ErrNoSuitableDevice)).To(BeTrue())
	g.Expect(errors.Is(err, gpu.ErrCapability)).To(BeTrue())
	g.Expect(inst.Device).To(BeNil())
}

func TestNegotiateWithoutComputeFamily(t *testing.T) {
	g := NewWithT(t)

	pd := gputest.NewPhysicalDevice("graphics only")
	pd.Families = []gpu.QueueFamily{{Flags: queues.Graphics, Count: 1}}

	inst := gputest.NewInstance(pd)
	_, err := gpu.Negotiate(inst, gpu.Requirements{}, nil)
	g.Expect(errors.Is(err, queues.ErrNoComputeFamily)).To(BeTrue())
	g.Expect(errors.Is(err, gpu.ErrCapability)).To(BeTrue())
	g.Expect(inst.Device).To(BeNil())
}

func TestNegotiateLogsSelectedDevice(t *testing.T) {
	g := NewWithT(t)

	logger, hook := test.NewNullLogger()
	_, err := gpu.Negotiate(gputest.NewInstance(gputest.NewPhysicalDevice("logged")), gpu.Requirements{}, logger)
	g.Expect(err).NotTo(HaveOccurred())

	entry := hook.LastEntry()
	g.Expect(entry).NotTo(BeNil())
	g.Expect(entry.Level).To(Equal(logrus.InfoLevel))
	g.Expect(entry.Message).To(Equal("selected physical device"))
	g.Expect(entry.Data).To(HaveKeyWithValue("device", "logged"))
	g.Expect(entry.Data).To(HaveKeyWithValue("api", "1.2.131"))
	g.Expect(entry.Data).To(HaveKeyWithValue("discrete", true))
	g.Expect(entry.Data).To(HaveKeyWithValue("computeSharedMemoryKiB", uint32(48)))
}

// Whatever the queue family layout, a successful negotiation only hands out
// indices which exist and have the capability of their role.
func TestNegotiateNeverReturnsInvalidIndices(t *testing.T) {
	g := NewWithT(t)

	flagSets := []queues.Flags{0, queues.Transfer, queues.Compute, queues.Graphics, queues.Graphics | queues.Compute}

	for _, a := range flagSets {
		for _, b := range flagSets {
			for presentMask := 0; presentMask < 4; presentMask++ {
				pd := gputest.NewPhysicalDevice("generated")
				pd.Families = []gpu.QueueFamily{{Flags: a, Count: 1}, {Flags: b, Count: 1}}
				pd.Present = map[uint32]bool{0: presentMask&1 != 0, 1: presentMask&2 != 0}

				for _, req := range []gpu.Requirements{{}, presentRequirements} {
					ctx, err := gpu.Negotiate(gputest.NewInstance(pd), req, nil)
					if err != nil {
						g.Expect(errors.Is(err, gpu.ErrCapability)).To(BeTrue(), "%+v", err)
						continue
					}

					compute := ctx.Families.Compute.Get()
					g.Expect(int(compute)).To(BeNumerically("<", len(pd.Families)))
					g.Expect(pd.Families[compute].Flags & queues.Compute).NotTo(BeZero())

					if !req.Present {
						continue
					}
					graphics := ctx.Families.Graphics.Get()
					present := ctx.Families.Present.Get()
					g.Expect(int(graphics)).To(BeNumerically("<", len(pd.Families)))
					g.Expect(pd.Families[graphics].Flags & queues.Graphics).NotTo(BeZero())
					g.Expect(pd.Present[present]).To(BeTrue())
				}
			}
		}
	}
}

func TestContextDestroyWaitsForIdle(t *testing.T) {
	g := NewWithT(t)

	ctx, dev := negotiate(t, gpu.Requirements{})
	ctx.Destroy()
	ctx.Destroy()

	g.Expect(dev.Destroyed).To(BeTrue())
	g.Expect(dev.Calls).To(Equal([]string{"WaitIdle", "DestroyDevice"}))
}
