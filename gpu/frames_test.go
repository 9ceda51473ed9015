package gpu_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/gpu/gputest"
)

func TestNewFramesNeedsASlot(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	_, err := gpu.NewFrames(s.ctx, s.engine, 0)
	g.Expect(err).To(HaveOccurred())
}

func TestFramesStartSignaled(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(frames.Len()).To(Equal(2))

	for i := 0; i < frames.Len(); i++ {
		g.Expect(s.dev.FenceSignaled(frames.Fence(i))).To(BeTrue())
		g.Expect(frames.State(i)).To(Equal(gpu.SlotIdle))
	}
}

// Over many frames no command buffer is re-submitted while pending, no fence
// is reset while pending and every frame is drawn and presented once.
func TestFrameFenceDiscipline(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 2)
	g.Expect(err).NotTo(HaveOccurred())

	const count = 50
	for i := 0; i < count; i++ {
		slot := frames.Current()
		g.Expect(slot).To(Equal(i % 2))
		g.Expect(frames.Draw(s.swapchain, s.commandFor)).To(Succeed())
		g.Expect(frames.State(slot)).To(Equal(gpu.SlotPresented))
	}

	g.Expect(frames.WaitAll()).To(Succeed())
	g.Expect(s.dev.Violations).To(BeEmpty())
	g.Expect(s.dev.Draws).To(HaveLen(count))
	g.Expect(s.dev.LastSwapchain().Presented).To(HaveLen(count))

	for _, sub := range s.dev.Submissions {
		g.Expect(sub.Queue).To(Equal(s.ctx.GraphicsQueue))
		g.Expect(sub.Info.WaitStages).To(Equal([]gpu.PipelineStage{gpu.PipelineStageColorAttachmentOutput}))
		g.Expect(sub.Info.Signal).To(HaveLen(1))
		g.Expect(sub.Fence).NotTo(BeZero())
	}
}

func TestFramesMoreSlotsThanImages(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 4)
	g.Expect(err).NotTo(HaveOccurred())

	for i := 0; i < 20; i++ {
		g.Expect(frames.Draw(s.swapchain, s.commandFor)).To(Succeed())
	}
	g.Expect(s.dev.Violations).To(BeEmpty())
}

func TestFramesAcquireOutOfDate(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 2)
	g.Expect(err).NotTo(HaveOccurred())

	s.dev.LastSwapchain().OutOfDateAcquires = 1

	err = frames.Draw(s.swapchain, s.commandFor)
	g.Expect(err).To(MatchError(gpu.ErrOutOfDate))
	g.Expect(frames.Current()).To(Equal(0))
	g.Expect(frames.State(0)).To(Equal(gpu.SlotIdle))
	g.Expect(s.dev.FenceSignaled(frames.Fence(0))).To(BeTrue())
	g.Expect(s.dev.Submissions).To(BeEmpty())

	g.Expect(frames.Draw(s.swapchain, s.commandFor)).To(Succeed())
	g.Expect(s.dev.Violations).To(BeEmpty())
}

func TestFramesPresentOutOfDate(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 2)
	g.Expect(err).NotTo(HaveOccurred())

	s.dev.LastSwapchain().OutOfDatePresents = 1

	err = frames.Draw(s.swapchain, s.commandFor)
	g.Expect(errors.Is(err, gpu.ErrOutOfDate)).To(BeTrue())
	g.Expect(frames.Current()).To(Equal(1))
	g.Expect(s.dev.Submissions).To(HaveLen(1))
}

func TestFramesWaitAllReleasesVertexBuffer(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 2)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(frames.Draw(s.swapchain, s.commandFor)).To(Succeed())
	g.Expect(frames.Draw(s.swapchain, s.commandFor)).To(Succeed())
	g.Expect(frames.WaitAll()).To(Succeed())

	g.Expect(s.allocator.Write(s.vertices, make([]byte, s.vertices.Size))).To(Succeed())
	g.Expect(s.dev.Violations).To(BeEmpty())
	g.Expect(frames.State(0)).To(Equal(gpu.SlotIdle))
	g.Expect(frames.State(1)).To(Equal(gpu.SlotIdle))
}

func TestFramesWriteWithoutWaitIsDetected(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 2)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(frames.Draw(s.swapchain, s.commandFor)).To(Succeed())
	g.Expect(s.allocator.Write(s.vertices, make([]byte, s.vertices.Size))).To(Succeed())
	g.Expect(s.dev.Violations).To(ContainElement(ContainSubstring("mapped while in use")))
}

func TestFramesDeviceLost(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 1)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(frames.Draw(s.swapchain, s.commandFor)).To(Succeed())
	s.dev.Hang = true

	err = frames.Draw(s.swapchain, s.commandFor)
	g.Expect(errors.Is(err, gpu.ErrDeviceLost)).To(BeTrue())
}

func TestFramesSubmitFailureKeepsSlotUsable(t *testing.T) {
	g := NewWithT(t)

	s := newScene(t)
	frames, err := gpu.NewFrames(s.ctx, s.engine, 1)
	g.Expect(err).NotTo(HaveOccurred())

	refused := errors.New("queue submit refused")
	s.dev.FailOn("QueueSubmit", refused)

	err = frames.Draw(s.swapchain, s.commandFor)
	g.Expect(errors.Is(err, refused)).To(BeTrue())
	g.Expect(errors.Is(err, gpu.ErrDeviceLost)).To(BeFalse())
	g.Expect(frames.State(0)).To(Equal(gpu.SlotIdle))
	g.Expect(frames.Current()).To(Equal(0))
	g.Expect(s.dev.FenceSignaled(frames.Fence(0))).To(BeTrue())

	s.dev.FailOn("QueueSubmit", nil)
	g.Expect(frames.Draw(s.swapchain, s.commandFor)).To(Succeed())
	g.Expect(frames.WaitAll()).To(Succeed())
	g.Expect(s.dev.Draws).To(HaveLen(1))
	g.Expect(s.dev.Violations).To(BeEmpty())
}

func TestFramesDestroy(t *testing.T) {
	g := NewWithT(t)

	ctx, dev := negotiate(t, presentRequirements)
	engine, err := gpu.NewCommandEngine(ctx, 0)
	g.Expect(err).NotTo(HaveOccurred())

	frames, err := gpu.NewFrames(ctx, engine, 2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(dev.Live()).To(ContainElement("fence"))

	frames.Destroy()
	engine.Destroy()
	g.Expect(dev.Live()).To(BeEmpty())
	g.Expect(dev.Violations).To(BeEmpty())
}

func TestSlotStateString(t *testing.T) {
	g := NewWithT(t)

	g.Expect(gpu.SlotSubmitted.String()).To(Equal("submitted"))
	g.Expect(gpu.SlotState(9).String()).To(Equal("SlotState(9)"))
	g.Expect(gputest.FakeFormat).NotTo(BeZero())
}
