package gpu

import (
	"github.com/cockroachdb/errors"
)

// EntryPoint is the name of the entry point of every shader stage.
const EntryPoint = "main"

// Descriptor bindings of the compute pipeline.
const (
	InputBinding  = 0
	OutputBinding = 1
)

// ComputePipeline is a compute pipeline with its layouts. It is immutable once
// built.
type ComputePipeline struct {
	Module    ShaderModuleID
	SetLayout DescriptorSetLayoutID
	Layout    PipelineLayoutID
	Pipeline  PipelineID
	Bindings  []DescriptorBinding
}

// DescriptorSet is a descriptor set and the pool it was allocated from.
type DescriptorSet struct {
	Pool DescriptorPoolID
	Set  DescriptorSetID
}

// GraphicsConfig holds everything needed to (re)build the graphics pipeline.
type GraphicsConfig struct {
	VertexCode   []uint32
	FragmentCode []uint32
	RenderPass   RenderPassID
	Extent       Extent2D

	Bindings   []VertexBinding
	Attributes []VertexAttribute
}

// GraphicsPipeline is the triangle pipeline. It is immutable once built,
// RebuildGraphics replaces it.
type GraphicsPipeline struct {
	Vertex   ShaderModuleID
	Fragment ShaderModuleID
	Layout   PipelineLayoutID
	Pipeline PipelineID
	Extent   Extent2D

	config GraphicsConfig
}

// PipelineBuilder creates shader modules, layouts and pipelines.
type PipelineBuilder struct {
	ctx *Context
}

// NewPipelineBuilder returns a builder for the device of ctx.
func NewPipelineBuilder(ctx *Context) *PipelineBuilder {
	return &PipelineBuilder{ctx: ctx}
}

// StorageBindings returns the layout of the compute shader: two storage buffers
// at slots 0 and 1 visible to the compute stage.
func StorageBindings() []DescriptorBinding {
	return []DescriptorBinding{
		{Binding: InputBinding, Type: DescriptorStorageBuffer, Count: 1, Stages: StageCompute},
		{Binding: OutputBinding, Type: DescriptorStorageBuffer, Count: 1, Stages: StageCompute},
	}
}

// CreateShaderModule wraps precompiled SPIR-V code.
func (p *PipelineBuilder) CreateShaderModule(code []uint32) (ShaderModuleID, error) {
	if len(code) == 0 {
		return NullHandle, errors.Mark(errors.New("empty shader code"), ErrResourceCreation)
	}
	module, err := p.ctx.Device.CreateShaderModule(code)
	if err != nil {
		return NullHandle, creationError(err, "failed to create shader module")
	}
	return module, nil
}

// BuildCompute builds the compute pipeline for code.
func (p *PipelineBuilder) BuildCompute(code []uint32) (*ComputePipeline, error) {
	dev := p.ctx.Device

	module, err := p.CreateShaderModule(code)
	if err != nil {
		return nil, errors.Wrap(err, "creating compute shader module")
	}

	cp := &ComputePipeline{Module: module, Bindings: StorageBindings()}

	cp.SetLayout, err = dev.CreateDescriptorSetLayout(cp.Bindings)
	if err != nil {
		p.DestroyCompute(cp)
		return nil, creationError(err, "creating descriptor set layout")
	}

	cp.Layout, err = dev.CreatePipelineLayout([]DescriptorSetLayoutID{cp.SetLayout})
	if err != nil {
		p.DestroyCompute(cp)
		return nil, creationError(err, "failed to create pipeline layout")
	}

	cp.Pipeline, err = dev.CreateComputePipeline(ComputePipelineDesc{
		Layout: cp.Layout,
		Stage: ShaderStageDesc{
			Stage:      StageCompute,
			Module:     module,
			EntryPoint: EntryPoint,
		},
	})
	if err == nil && cp.Pipeline == NullHandle {
		err = errors.New("driver returned a null pipeline")
	}
	if err != nil {
		p.DestroyCompute(cp)
		return nil, creationError(err, "failed to create compute pipeline")
	}

	return cp, nil
}

// DestroyCompute releases everything owned by cp.
func (p *PipelineBuilder) DestroyCompute(cp *ComputePipeline) {
	if cp == nil {
		return
	}
	dev := p.ctx.Device
	if cp.Pipeline != NullHandle {
		dev.DestroyPipeline(cp.Pipeline)
		cp.Pipeline = NullHandle
	}
	if cp.Layout != NullHandle {
		dev.DestroyPipelineLayout(cp.Layout)
		cp.Layout = NullHandle
	}
	if cp.SetLayout != NullHandle {
		dev.DestroyDescriptorSetLayout(cp.SetLayout)
		cp.SetLayout = NullHandle
	}
	if cp.Module != NullHandle {
		dev.DestroyShaderModule(cp.Module)
		cp.Module = NullHandle
	}
}

// CreateDescriptorSet allocates a set for cp and binds buffers[i] to binding i.
// Every buffer is bound over [0, regionSize) and has to be at least that big.
func (p *PipelineBuilder) CreateDescriptorSet(cp *ComputePipeline, buffers []*Buffer, regionSize uint64) (*DescriptorSet, error) {
	if len(buffers) != len(cp.Bindings) {
		return nil, errors.Wrapf(ErrDescriptorMismatch,
			"%d buffers given for %d bindings", len(buffers), len(cp.Bindings))
	}

	writes := make([]DescriptorWrite, 0, len(buffers))
	for i, b := range buffers {
		if !b.Bound() {
			return nil, errors.Wrapf(ErrNotBound, "buffer for binding %d", cp.Bindings[i].Binding)
		}
		if b.Usage&BufferUsageStorage == 0 {
			return nil, errors.Wrapf(ErrDescriptorMismatch,
				"buffer for binding %d is not a storage buffer", cp.Bindings[i].Binding)
		}
		if regionSize == 0 || b.Size < regionSize {
			return nil, errors.Wrapf(ErrDescriptorMismatch,
				"binding %d: region of %d bytes does not fit a %d byte buffer",
				cp.Bindings[i].Binding, regionSize, b.Size)
		}
		writes = append(writes, DescriptorWrite{
			Binding: cp.Bindings[i].Binding,
			Buffer:  b.ID,
			Offset:  0,
			Range:   regionSize,
		})
	}

	dev := p.ctx.Device

	pool, err := dev.CreateDescriptorPool(1, uint32(len(buffers)))
	if err != nil {
		return nil, creationError(err, "failed to create descriptor pool")
	}

	set, err := dev.AllocateDescriptorSet(pool, cp.SetLayout)
	if err != nil {
		dev.DestroyDescriptorPool(pool)
		return nil, creationError(err, "failed to allocate descriptor set")
	}

	dev.UpdateDescriptorSet(set, writes)

	return &DescriptorSet{Pool: pool, Set: set}, nil
}

// DestroyDescriptorSet releases the pool of ds, which frees the set as well.
func (p *PipelineBuilder) DestroyDescriptorSet(ds *DescriptorSet) {
	if ds == nil || ds.Pool == NullHandle {
		return
	}
	p.ctx.Device.DestroyDescriptorPool(ds.Pool)
	ds.Pool = NullHandle
	ds.Set = NullHandle
}

// RenderPassFor returns the description of the presentation render pass.
func RenderPassFor(format Format) RenderPassDesc {
	return RenderPassDesc{
		ColorFormat:   format,
		LoadOp:        LoadOpClear,
		StoreOp:       StoreOpStore,
		InitialLayout: LayoutUndefined,
		FinalLayout:   LayoutPresentSrc,
		Dependencies: []SubpassDependency{
			{
				SrcSubpass: SubpassExternal,
				DstSubpass: 0,
				SrcStage:   PipelineStageBottomOfPipe,
				DstStage:   PipelineStageColorAttachmentOutput,
				SrcAccess:  AccessMemoryRead,
				DstAccess:  AccessMemoryRead | AccessMemoryWrite,
			},
			{
				SrcSubpass: 0,
				DstSubpass: SubpassExternal,
				SrcStage:   PipelineStageColorAttachmentOutput,
				DstStage:   PipelineStageBottomOfPipe,
				SrcAccess:  AccessMemoryRead | AccessMemoryWrite,
				DstAccess:  AccessMemoryRead,
			},
		},
	}
}

// BuildRenderPass creates the render pass drawing into swapchain images of the
// given format.
func (p *PipelineBuilder) BuildRenderPass(format Format) (RenderPassID, error) {
	rp, err := p.ctx.Device.CreateRenderPass(RenderPassFor(format))
	if err != nil {
		return NullHandle, creationError(err, "failed to create render pass")
	}
	return rp, nil
}

// DestroyRenderPass releases rp.
func (p *PipelineBuilder) DestroyRenderPass(rp RenderPassID) {
	if rp != NullHandle {
		p.ctx.Device.DestroyRenderPass(rp)
	}
}

// BuildGraphics builds the triangle pipeline.
func (p *PipelineBuilder) BuildGraphics(cfg GraphicsConfig) (*GraphicsPipeline, error) {
	dev := p.ctx.Device
	gp := &GraphicsPipeline{config: cfg}

	var err error
	gp.Vertex, err = p.CreateShaderModule(cfg.VertexCode)
	if err != nil {
		return nil, errors.Wrap(err, "creating vertex shader module")
	}

	gp.Fragment, err = p.CreateShaderModule(cfg.FragmentCode)
	if err != nil {
		p.DestroyGraphics(gp)
		return nil, errors.Wrap(err, "creating fragment shader module")
	}

	gp.Layout, err = dev.CreatePipelineLayout(nil)
	if err != nil {
		p.DestroyGraphics(gp)
		return nil, creationError(err, "failed to create pipeline layout")
	}

	if err := p.createGraphicsPipeline(gp, cfg.Extent); err != nil {
		p.DestroyGraphics(gp)
		return nil, err
	}

	return gp, nil
}

// RebuildGraphics replaces the pipeline of gp with one for a new extent. The old
// pipeline is destroyed before the new one is created.
func (p *PipelineBuilder) RebuildGraphics(gp *GraphicsPipeline, extent Extent2D) error {
	if gp.Pipeline != NullHandle {
		p.ctx.Device.DestroyPipeline(gp.Pipeline)
		gp.Pipeline = NullHandle
	}
	return p.createGraphicsPipeline(gp, extent)
}

// SetRenderPass makes the next RebuildGraphics target rp. It is needed when
// the swapchain format changed and the render pass was rebuilt.
func (gp *GraphicsPipeline) SetRenderPass(rp RenderPassID) {
	gp.config.RenderPass = rp
}

// GraphicsPipelineFor returns the fixed function state of the triangle
// pipeline.
func GraphicsPipelineFor(gp *GraphicsPipeline, extent Extent2D) GraphicsPipelineDesc {
	return GraphicsPipelineDesc{
		Layout:     gp.Layout,
		RenderPass: gp.config.RenderPass,
		Subpass:    0,
		Stages: []ShaderStageDesc{
			{Stage: StageVertex, Module: gp.Vertex, EntryPoint: EntryPoint},
			{Stage: StageFragment, Module: gp.Fragment, EntryPoint: EntryPoint},
		},
		VertexBindings:   gp.config.Bindings,
		VertexAttributes: gp.config.Attributes,
		Topology:         TopologyTriangleList,
		PolygonMode:      PolygonFill,
		CullMode:         CullBack,
		FrontFace:        FrontFaceClockwise,
		LineWidth:        1,
		Samples:          1,
		Blend: BlendState{
			Enable:         true,
			SrcColorFactor: BlendSrcAlpha,
			DstColorFactor: BlendOneMinusSrcAlpha,
			SrcAlphaFactor: BlendOne,
			DstAlphaFactor: BlendZero,
		},
		Viewport:     extent,
		DepthStencil: false,
	}
}

func (p *PipelineBuilder) createGraphicsPipeline(gp *GraphicsPipeline, extent Extent2D) error {
	pipeline, err := p.ctx.Device.CreateGraphicsPipeline(GraphicsPipelineFor(gp, extent))
	if err == nil && pipeline == NullHandle {
		err = errors.New("driver returned a null pipeline")
	}
	if err != nil {
		return creationError(err, "failed to create graphics pipeline")
	}
	gp.Pipeline = pipeline
	gp.Extent = extent
	return nil
}

// DestroyGraphics releases everything owned by gp. The render pass belongs to
// the caller.
func (p *PipelineBuilder) DestroyGraphics(gp *GraphicsPipeline) {
	if gp == nil {
		return
	}
	dev := p.ctx.Device
	if gp.Pipeline != NullHandle {
		dev.DestroyPipeline(gp.Pipeline)
		gp.Pipeline = NullHandle
	}
	if gp.Layout != NullHandle {
		dev.DestroyPipelineLayout(gp.Layout)
		gp.Layout = NullHandle
	}
	if gp.Fragment != NullHandle {
		dev.DestroyShaderModule(gp.Fragment)
		gp.Fragment = NullHandle
	}
	if gp.Vertex != NullHandle {
		dev.DestroyShaderModule(gp.Vertex)
		gp.Vertex = NullHandle
	}
}
