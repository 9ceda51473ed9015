package gpu

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// SlotState is the position of a frame slot in the draw protocol.
type SlotState int

// Slot states. A slot goes Idle → Acquiring → Submitted → Presented and back
// to Idle when its fence is waited on again.
const (
	SlotIdle SlotState = iota
	SlotAcquiring
	SlotSubmitted
	SlotPresented
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotAcquiring:
		return "acquiring"
	case SlotSubmitted:
		return "submitted"
	case SlotPresented:
		return "presented"
	}
	return fmt.Sprintf("SlotState(%d)", int(s))
}

type frameSlot struct {
	imageAvailable SemaphoreID
	renderFinished SemaphoreID
	inFlight       FenceID
	state          SlotState
}

// Frames is the set of frame slots which bounds the number of frames the host
// records ahead of the device.
type Frames struct {
	ctx     *Context
	engine  *CommandEngine
	slots   []frameSlot
	current int

	// imagesInFlight holds the fence of the last frame submitted for every
	// swapchain image, NullHandle when none.
	imagesInFlight []FenceID
}

// NewFrames creates count frame slots. Every fence starts signaled so the first
// wait on a slot does not block.
func NewFrames(ctx *Context, engine *CommandEngine, count int) (*Frames, error) {
	if count < 1 {
		return nil, errors.Newf("at least one frame in flight is needed, got %d", count)
	}

	f := &Frames{ctx: ctx, engine: engine}
	for i := 0; i < count; i++ {
		var (
			slot frameSlot
			err  error
		)

		slot.imageAvailable, err = ctx.Device.CreateSemaphore()
		if err != nil {
			f.Destroy()
			return nil, creationError(err, "failed to create imageAvailable semaphore %d", i)
		}
		f.slots = append(f.slots, slot)

		f.slots[i].renderFinished, err = ctx.Device.CreateSemaphore()
		if err != nil {
			f.Destroy()
			return nil, creationError(err, "failed to create renderFinished semaphore %d", i)
		}

		f.slots[i].inFlight, err = ctx.Device.CreateFence(true)
		if err != nil {
			f.Destroy()
			return nil, creationError(err, "failed to create inFlight fence %d", i)
		}
	}

	return f, nil
}

// Len returns the number of frame slots.
func (f *Frames) Len() int {
	return len(f.slots)
}

// Current returns the index of the slot the next Draw uses.
func (f *Frames) Current() int {
	return f.current
}

// State returns the state of slot i.
func (f *Frames) State(i int) SlotState {
	return f.slots[i].state
}

// Fence returns the frame complete fence of slot i.
func (f *Frames) Fence(i int) FenceID {
	return f.slots[i].inFlight
}

// ResetImages forgets which frames use the swapchain images. It must be called
// after the swapchain has been recreated with the new image count.
func (f *Frames) ResetImages(imageCount int) {
	f.imagesInFlight = make([]FenceID, imageCount)
}

// Draw renders one frame. It waits for the current slot, acquires an image,
// submits the command buffer returned by commandFor for that image and presents
// it. ErrOutOfDate means the swapchain has to be recreated. When it comes from
// the acquire nothing was submitted and the slot fence stays signaled.
func (f *Frames) Draw(sc Swapchain, commandFor func(image uint32) CommandBufferID) error {
	slot := &f.slots[f.current]
	dev := f.ctx.Device

	if err := f.engine.WaitFence(slot.inFlight); err != nil {
		return errors.Wrapf(err, "waiting for frame %d", f.current)
	}
	slot.state = SlotAcquiring

	imageIndex, err := sc.AcquireNextImage(f.engine.Timeout(), slot.imageAvailable)
	if errors.Is(err, ErrOutOfDate) {
		slot.state = SlotIdle
		return err
	}
	if err != nil {
		slot.state = SlotIdle
		return errors.Wrap(err, "failed to acquire swap chain image")
	}

	if f.imagesInFlight == nil {
		f.ResetImages(sc.ImageCount())
	}
	if int(imageIndex) >= len(f.imagesInFlight) {
		slot.state = SlotIdle
		return errors.Newf("acquired image %d of a %d image swapchain", imageIndex, len(f.imagesInFlight))
	}

	if prev := f.imagesInFlight[imageIndex]; prev != NullHandle && prev != slot.inFlight {
		if err := f.engine.WaitFence(prev); err != nil {
			return errors.Wrapf(err, "waiting for the previous frame using image %d", imageIndex)
		}
	}
	f.imagesInFlight[imageIndex] = slot.inFlight

	if err := dev.ResetFences([]FenceID{slot.inFlight}); err != nil {
		return errors.Wrap(err, "resetting frame fence")
	}

	err = f.engine.Submit(
		commandFor(imageIndex),
		f.ctx.GraphicsQueue,
		[]Wait{{Semaphore: slot.imageAvailable, Stage: PipelineStageColorAttachmentOutput}},
		[]SemaphoreID{slot.renderFinished},
		slot.inFlight,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to submit draw command buffer")
		if rerr := f.recoverSlot(slot, imageIndex); rerr != nil {
			err = errors.WithSecondaryError(err, rerr)
		}
		return err
	}
	slot.state = SlotSubmitted

	presentErr := sc.Present(f.ctx.PresentQueue, imageIndex, []SemaphoreID{slot.renderFinished})
	slot.state = SlotPresented
	f.current = (f.current + 1) % len(f.slots)

	if errors.Is(presentErr, ErrOutOfDate) {
		return presentErr
	}
	if presentErr != nil {
		return errors.Wrap(presentErr, "failed to present swap chain image")
	}
	return nil
}

// recoverSlot makes slot usable again after a failed submit. The fence was
// reset and will never be signaled, and the image available semaphore was
// signaled by the acquire but never waited on, so both are replaced.
func (f *Frames) recoverSlot(slot *frameSlot, imageIndex uint32) error {
	dev := f.ctx.Device
	slot.state = SlotIdle
	f.imagesInFlight[imageIndex] = NullHandle

	dev.DestroyFence(slot.inFlight)
	slot.inFlight = NullHandle
	fence, err := dev.CreateFence(true)
	if err != nil {
		return creationError(err, "failed to recreate inFlight fence %d", f.current)
	}
	slot.inFlight = fence

	dev.DestroySemaphore(slot.imageAvailable)
	slot.imageAvailable = NullHandle
	sem, err := dev.CreateSemaphore()
	if err != nil {
		return creationError(err, "failed to recreate imageAvailable semaphore %d", f.current)
	}
	slot.imageAvailable = sem
	return nil
}

// WaitAll blocks until every submitted frame has completed. Afterwards no draw
// is reading the buffers it references.
func (f *Frames) WaitAll() error {
	fences := make([]FenceID, 0, len(f.slots))
	for _, slot := range f.slots {
		fences = append(fences, slot.inFlight)
	}

	err := f.ctx.Device.WaitForFences(fences, f.engine.Timeout())
	if err != nil {
		return errors.Mark(errors.Wrap(err, "waiting for frames in flight"), ErrDeviceLost)
	}

	for i := range f.slots {
		f.slots[i].state = SlotIdle
	}
	return nil
}

// Destroy releases the semaphores and fences. The device has to be idle.
func (f *Frames) Destroy() {
	dev := f.ctx.Device
	for i := range f.slots {
		slot := &f.slots[i]
		if slot.imageAvailable != NullHandle {
			dev.DestroySemaphore(slot.imageAvailable)
		}
		if slot.renderFinished != NullHandle {
			dev.DestroySemaphore(slot.renderFinished)
		}
		if slot.inFlight != NullHandle {
			dev.DestroyFence(slot.inFlight)
		}
	}
	f.slots = nil
	f.imagesInFlight = nil

	f.ctx.Log.WithFields(logrus.Fields{"component": "frames"}).Debug("destroyed frame slots")
}
