// Package studio runs a compute dispatch and draws a triangle from the same
// vertex data every tick.
package studio

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/shaders"
	"vulkan-compute-studio/unsafer"
)

// Surface is the window the simulation presents to.
type Surface interface {
	// WaitForSize blocks while the window has no drawable area.
	WaitForSize()

	// TakeResized reports whether the framebuffer changed size since the
	// last call.
	TakeResized() bool
}

// Simulation owns every device object of the studio.
type Simulation struct {
	cfg     Config
	ctx     *gpu.Context
	surface Surface
	log     logrus.FieldLogger

	allocator *gpu.Allocator
	builder   *gpu.PipelineBuilder
	engine    *gpu.CommandEngine
	frames    *gpu.Frames

	input    *gpu.Buffer
	output   *gpu.Buffer
	vertices *gpu.Buffer

	compute     *gpu.ComputePipeline
	descriptors *gpu.DescriptorSet
	computeRun  *gpu.ComputeRun

	swapchain  gpu.Swapchain
	renderPass gpu.RenderPassID
	graphics   *gpu.GraphicsPipeline
	commands   []gpu.CommandBufferID

	ticks uint64
}

// New creates the buffers, pipelines, command buffers, swapchain and frame
// slots. On error everything created so far is released.
func New(ctx *gpu.Context, surface Surface, programs Programs, cfg Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Simulation{
		cfg:       cfg,
		ctx:       ctx,
		surface:   surface,
		log:       ctx.Log.WithField("component", "studio"),
		allocator: gpu.NewAllocator(ctx),
		builder:   gpu.NewPipelineBuilder(ctx),
	}

	if err := s.init(programs); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Simulation) init(programs Programs) error {
	var err error

	s.engine, err = gpu.NewCommandEngine(s.ctx, s.cfg.FenceTimeout)
	if err != nil {
		return errors.Wrap(err, "createCommandEngine")
	}

	if err := s.createBuffers(); err != nil {
		return errors.Wrap(err, "createBuffers")
	}

	if err := shaders.CheckStorageRegion(programs.Compute, s.bufferSize()); err != nil {
		return errors.Wrap(errors.Mark(err, gpu.ErrDescriptorMismatch), "checkComputeShader")
	}

	s.compute, err = s.builder.BuildCompute(programs.Compute)
	if err != nil {
		return errors.Wrap(err, "createComputePipeline")
	}

	s.descriptors, err = s.builder.CreateDescriptorSet(
		s.compute,
		[]*gpu.Buffer{s.input, s.output},
		s.bufferSize(),
	)
	if err != nil {
		return errors.Wrap(err, "createDescriptorSet")
	}

	s.computeRun, err = s.engine.NewComputeRun()
	if err != nil {
		return errors.Wrap(err, "createComputeRun")
	}

	if err := s.createSwapChain(); err != nil {
		return errors.Wrap(err, "createSwapChain")
	}

	s.renderPass, err = s.builder.BuildRenderPass(s.swapchain.Format())
	if err != nil {
		return errors.Wrap(err, "createRenderPass")
	}

	s.graphics, err = s.builder.BuildGraphics(gpu.GraphicsConfig{
		VertexCode:   programs.Vertex,
		FragmentCode: programs.Fragment,
		RenderPass:   s.renderPass,
		Extent:       s.swapchain.Extent(),
		Bindings:     []gpu.VertexBinding{GetVertexBindingDescription()},
		Attributes:   GetVertexAttributeDescriptions(),
	})
	if err != nil {
		return errors.Wrap(err, "createGraphicsPipeline")
	}

	if err := s.recordDrawCommands(); err != nil {
		return errors.Wrap(err, "recordDrawCommands")
	}

	s.frames, err = gpu.NewFrames(s.ctx, s.engine, s.cfg.FramesInFlight)
	if err != nil {
		return errors.Wrap(err, "createSyncObjects")
	}

	s.log.WithFields(logrus.Fields{
		"vertices":       len(Triangle),
		"framesInFlight": s.cfg.FramesInFlight,
		"feedback":       s.cfg.Feedback,
	}).Debug("simulation ready")
	return nil
}

func (s *Simulation) bufferSize() uint64 {
	return uint64(len(Triangle)) * uint64(GetVertexSize())
}

// createBuffers creates the input, output and vertex buffers. Input and vertex
// buffers start out with the triangle.
func (s *Simulation) createBuffers() error {
	size := s.bufferSize()
	data := unsafer.SliceToBytes(Triangle)

	var err error
	s.input, err = s.allocator.NewBuffer(size, gpu.BufferUsageStorage)
	if err != nil {
		return errors.Wrap(err, "input buffer")
	}
	if err := s.allocator.Write(s.input, data); err != nil {
		return errors.Wrap(err, "filling input buffer")
	}

	s.output, err = s.allocator.NewBuffer(size, gpu.BufferUsageStorage)
	if err != nil {
		return errors.Wrap(err, "output buffer")
	}

	s.vertices, err = s.allocator.NewBuffer(size, gpu.BufferUsageVertex|gpu.BufferUsageStorage)
	if err != nil {
		return errors.Wrap(err, "vertex buffer")
	}
	if err := s.allocator.Copy(s.vertices, s.input); err != nil {
		return errors.Wrap(err, "filling vertex buffer")
	}

	return nil
}

func (s *Simulation) createSwapChain() error {
	sc, err := s.ctx.Device.CreateSwapchain(gpu.SwapchainDesc{
		Families: s.ctx.PresentFamilies(),
	})
	if err != nil {
		return errors.Mark(err, gpu.ErrResourceCreation)
	}
	s.swapchain = sc
	return nil
}

// recordDrawCommands creates the framebuffers and records one command buffer
// per swapchain image.
func (s *Simulation) recordDrawCommands() error {
	framebuffers, err := s.swapchain.CreateFramebuffers(s.renderPass)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "createFramebuffers"), gpu.ErrResourceCreation)
	}

	s.commands, err = s.engine.AllocateGraphics(len(framebuffers))
	if err != nil {
		return err
	}

	for i, cb := range s.commands {
		err := s.engine.RecordGraphics(cb, gpu.GraphicsRecording{
			Pipeline:     s.graphics,
			RenderPass:   s.renderPass,
			Framebuffer:  framebuffers[i],
			VertexBuffer: s.vertices,
			VertexCount:  uint32(len(Triangle)),
			ClearColor:   s.cfg.ClearColor,
		})
		if err != nil {
			return errors.Wrapf(err, "recording command buffer %d", i)
		}
	}
	return nil
}

func (s *Simulation) commandFor(image uint32) gpu.CommandBufferID {
	return s.commands[image]
}

// Tick runs the compute pass, optionally feeds its output back and draws a
// frame. A swapchain which went out of date is recreated before returning.
func (s *Simulation) Tick() error {
	err := s.engine.RunCompute(s.computeRun, s.compute, s.descriptors, uint32(len(Triangle)))
	if err != nil {
		return errors.Wrap(err, "running compute pass")
	}

	if s.cfg.Feedback {
		if err := s.updateBuffers(); err != nil {
			return errors.Wrap(err, "updateBuffers")
		}
	}

	err = s.frames.Draw(s.swapchain, s.commandFor)
	resized := s.surface != nil && s.surface.TakeResized()
	if errors.Is(err, gpu.ErrOutOfDate) || (err == nil && resized) {
		if err := s.recreateSwapChain(); err != nil {
			return errors.Wrap(err, "recreateSwapChain")
		}
	} else if err != nil {
		return errors.Wrap(err, "drawFrame")
	}

	s.ticks++
	return nil
}

// updateBuffers copies output to input and input to the vertex buffer. The
// frames in flight read the vertex buffer, so they are waited for first.
func (s *Simulation) updateBuffers() error {
	if err := s.frames.WaitAll(); err != nil {
		return err
	}
	if err := s.allocator.Copy(s.input, s.output); err != nil {
		return err
	}
	return s.allocator.Copy(s.vertices, s.input)
}

func (s *Simulation) recreateSwapChain() error {
	if s.surface != nil {
		s.surface.WaitForSize()
	}

	if err := s.ctx.Device.WaitIdle(); err != nil {
		return errors.Mark(err, gpu.ErrDeviceLost)
	}

	s.engine.FreeGraphics(s.commands)
	s.commands = nil
	format := s.swapchain.Format()
	s.swapchain.Destroy()
	s.swapchain = nil

	if err := s.createSwapChain(); err != nil {
		return err
	}

	if s.swapchain.Format() != format {
		s.builder.DestroyRenderPass(s.renderPass)
		s.renderPass = gpu.NullHandle

		var err error
		s.renderPass, err = s.builder.BuildRenderPass(s.swapchain.Format())
		if err != nil {
			return err
		}
		s.graphics.SetRenderPass(s.renderPass)
	}

	if err := s.builder.RebuildGraphics(s.graphics, s.swapchain.Extent()); err != nil {
		return err
	}

	if err := s.recordDrawCommands(); err != nil {
		return err
	}
	s.frames.ResetImages(s.swapchain.ImageCount())

	s.log.WithFields(logrus.Fields{
		"extent": s.swapchain.Extent(),
		"images": s.swapchain.ImageCount(),
	}).Debug("swap chain recreated")
	return nil
}

// Ticks returns the number of completed ticks.
func (s *Simulation) Ticks() uint64 {
	return s.ticks
}

// Output returns a copy of the vertices last written by the compute pass.
func (s *Simulation) Output() ([]Vertex, error) {
	data, err := s.allocator.Read(s.output)
	if err != nil {
		return nil, err
	}
	return unsafer.BytesToSlice[Vertex](data), nil
}

// Vertices returns a copy of the vertex buffer once no frame reads it.
func (s *Simulation) Vertices() ([]Vertex, error) {
	if err := s.frames.WaitAll(); err != nil {
		return nil, err
	}
	data, err := s.allocator.Read(s.vertices)
	if err != nil {
		return nil, err
	}
	return unsafer.BytesToSlice[Vertex](data), nil
}

// Close waits for the device and releases everything New created. The
// context stays alive.
func (s *Simulation) Close() {
	if err := s.ctx.Device.WaitIdle(); err != nil {
		s.log.WithError(err).Warn("waiting for device idle before cleanup")
	}

	if s.frames != nil {
		s.frames.Destroy()
		s.frames = nil
	}
	if s.engine != nil {
		s.engine.DestroyComputeRun(s.computeRun)
		s.computeRun = nil
		s.engine.FreeGraphics(s.commands)
		s.commands = nil
	}

	s.builder.DestroyGraphics(s.graphics)
	s.graphics = nil
	s.builder.DestroyRenderPass(s.renderPass)
	s.renderPass = gpu.NullHandle

	if s.swapchain != nil {
		s.swapchain.Destroy()
		s.swapchain = nil
	}

	if s.descriptors != nil {
		s.builder.DestroyDescriptorSet(s.descriptors)
		s.descriptors = nil
	}
	if s.compute != nil {
		s.builder.DestroyCompute(s.compute)
		s.compute = nil
	}

	for _, b := range []**gpu.Buffer{&s.vertices, &s.output, &s.input} {
		if *b != nil {
			s.allocator.Destroy(*b)
			*b = nil
		}
	}

	if s.engine != nil {
		s.engine.Destroy()
		s.engine = nil
	}
}
