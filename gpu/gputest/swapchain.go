package gputest

import (
	"time"

	"github.com/cockroachdb/errors"

	"vulkan-compute-studio/gpu"
)

// FakeFormat is the format of every fake swapchain.
const FakeFormat gpu.Format = 44

// Swapchain is a fake swapchain handing out its images in order.
type Swapchain struct {
	Desc gpu.SwapchainDesc

	// OutOfDateAcquires and OutOfDatePresents are the number of upcoming
	// acquire and present calls which report an out of date swapchain.
	OutOfDateAcquires int
	OutOfDatePresents int

	// Acquired and Presented list image indexes in call order.
	Acquired  []uint32
	Presented []uint32

	Framebuffers []gpu.FramebufferID
	Destroyed    bool

	device *Device
	extent gpu.Extent2D
	images int
	next   uint32
}

// Extent implements gpu.Swapchain.
func (s *Swapchain) Extent() gpu.Extent2D {
	return s.extent
}

// Format implements gpu.Swapchain.
func (s *Swapchain) Format() gpu.Format {
	return FakeFormat
}

// ImageCount implements gpu.Swapchain.
func (s *Swapchain) ImageCount() int {
	return s.images
}

// CreateFramebuffers implements gpu.Swapchain.
func (s *Swapchain) CreateFramebuffers(rp gpu.RenderPassID) ([]gpu.FramebufferID, error) {
	if _, ok := s.device.renderPasses[rp]; !ok {
		return nil, errors.Newf("unknown render pass %d", rp)
	}
	s.Framebuffers = make([]gpu.FramebufferID, s.images)
	for i := range s.Framebuffers {
		s.Framebuffers[i] = gpu.FramebufferID(s.device.id())
	}
	return s.Framebuffers, nil
}

// AcquireNextImage implements gpu.Swapchain.
func (s *Swapchain) AcquireNextImage(timeout time.Duration, semaphore gpu.SemaphoreID) (uint32, error) {
	if s.Destroyed {
		return 0, errors.New("swapchain destroyed")
	}
	if !s.device.semaphores[semaphore] {
		return 0, errors.Newf("unknown semaphore %d", semaphore)
	}
	if s.OutOfDateAcquires > 0 {
		s.OutOfDateAcquires--
		return 0, gpu.ErrOutOfDate
	}
	image := s.next
	s.next = (s.next + 1) % uint32(s.images)
	s.Acquired = append(s.Acquired, image)
	return image, nil
}

// Present implements gpu.Swapchain. The image counts as presented even when
// the swapchain reports being out of date.
func (s *Swapchain) Present(queue gpu.QueueID, image uint32, wait []gpu.SemaphoreID) error {
	if s.Destroyed {
		return errors.New("swapchain destroyed")
	}
	if _, ok := s.device.queues[queue]; !ok {
		return errors.Newf("unknown queue %d", queue)
	}
	s.Presented = append(s.Presented, image)
	if s.OutOfDatePresents > 0 {
		s.OutOfDatePresents--
		return gpu.ErrOutOfDate
	}
	return nil
}

// Destroy implements gpu.Swapchain.
func (s *Swapchain) Destroy() {
	s.device.call("DestroySwapchain")
	s.Destroyed = true
	s.Framebuffers = nil
}
