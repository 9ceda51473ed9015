package gpu

import "vulkan-compute-studio/queues"

// Resource IDs
//
// These opaque IDs represent device objects. Each driver keeps a mapping
// between IDs and its actual handles. Zero is never a valid ID.
type (
	BufferID              uint64
	MemoryID              uint64
	ShaderModuleID        uint64
	DescriptorSetLayoutID uint64
	PipelineLayoutID      uint64
	PipelineID            uint64
	RenderPassID          uint64
	FramebufferID         uint64
	DescriptorPoolID      uint64
	DescriptorSetID       uint64
	CommandPoolID         uint64
	CommandBufferID       uint64
	FenceID               uint64
	SemaphoreID           uint64
	QueueID               uint64
)

// NullHandle is the zero value of every resource ID.
const NullHandle = 0

// Format is an opaque image format chosen by the swapchain.
type Format uint32

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageStorage
	BufferUsageVertex
)

// MemoryProperty is a bitmask of memory type properties.
type MemoryProperty uint32

// Memory property flags.
const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
	MemoryHostCached
)

// ShaderStage is a bitmask of programmable pipeline stages.
type ShaderStage uint32

// Shader stages.
const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageCompute
)

// PipelineStage is a bitmask of pipeline stages used by barriers and waits.
type PipelineStage uint32

// Pipeline stages.
const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageComputeShader
	PipelineStageColorAttachmentOutput
	PipelineStageBottomOfPipe
	PipelineStageAllCommands
)

// Access is a bitmask of memory access types.
type Access uint32

// Access flags.
const (
	AccessColorAttachmentRead Access = 1 << iota
	AccessColorAttachmentWrite
	AccessMemoryRead
	AccessMemoryWrite
)

// BindPoint selects the pipeline type a command binds to.
type BindPoint uint32

// Bind points.
const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
)

// DescriptorType is the type of resource a descriptor binding holds.
type DescriptorType uint32

// Descriptor types.
const (
	DescriptorStorageBuffer DescriptorType = iota + 1
)

// ImageLayout is the layout an attachment is in.
type ImageLayout uint32

// Image layouts.
const (
	LayoutUndefined ImageLayout = iota
	LayoutColorAttachment
	LayoutPresentSrc
)

// LoadOp specifies what happens to an attachment at the start of a render pass.
type LoadOp uint32

// Load operations.
const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

// StoreOp specifies what happens to an attachment at the end of a render pass.
type StoreOp uint32

// Store operations.
const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

// SubpassExternal refers to commands outside the render pass in a dependency.
const SubpassExternal = ^uint32(0)

// Topology is the primitive topology of a graphics pipeline.
type Topology uint32

// Topologies.
const (
	TopologyTriangleList Topology = iota
)

// PolygonMode is the rasterization polygon mode.
type PolygonMode uint32

// Polygon modes.
const (
	PolygonFill PolygonMode = iota
	PolygonLine
)

// CullMode selects which faces are discarded.
type CullMode uint32

// Cull modes.
const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

// FrontFace is the winding considered front facing.
type FrontFace uint32

// Front faces.
const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

// BlendFactor is a color blending factor.
type BlendFactor uint32

// Blend factors.
const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
)

// VertexFormat is the format of a vertex attribute.
type VertexFormat uint32

// Vertex formats.
const (
	VertexFloat32x3 VertexFormat = iota + 1
)

// Extent2D is a width and height in pixels.
type Extent2D struct {
	Width, Height uint32
}

// DeviceProperties describes a physical device.
type DeviceProperties struct {
	Name       string
	APIVersion uint32
	Discrete   bool

	// MaxComputeSharedMemory is the shared memory limit of a compute
	// workgroup in bytes.
	MaxComputeSharedMemory uint32
}

// MemoryType is one of the memory types a physical device exposes.
type MemoryType struct {
	Flags     MemoryProperty
	HeapIndex uint32
	HeapSize  uint64
}

// MemoryRequirements are the memory requirements of a buffer.
type MemoryRequirements struct {
	Size      uint64
	Alignment uint64

	// TypeBits has bit i set when memory type i is allowed.
	TypeBits uint32
}

// SwapchainSupport summarises what a surface supports on a device.
type SwapchainSupport struct {
	Formats      int
	PresentModes int
}

// DeviceDesc describes the logical device to create.
type DeviceDesc struct {
	// Families is the list of distinct queue families to create one queue on.
	Families   []uint32
	Extensions []string
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Size  uint64
	Usage BufferUsage

	// SharingFamilies lists the queue families accessing the buffer. When
	// more than one family is given the buffer uses concurrent sharing.
	SharingFamilies []uint32
}

// DescriptorBinding describes one binding of a descriptor set layout.
type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

// DescriptorWrite points a binding of a descriptor set at a buffer region.
type DescriptorWrite struct {
	Binding uint32
	Buffer  BufferID
	Offset  uint64
	Range   uint64
}

// ShaderStageDesc is one programmable stage of a pipeline.
type ShaderStageDesc struct {
	Stage      ShaderStage
	Module     ShaderModuleID
	EntryPoint string
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Layout PipelineLayoutID
	Stage  ShaderStageDesc
}

// SubpassDependency is an execution and memory dependency between subpasses.
type SubpassDependency struct {
	SrcSubpass, DstSubpass uint32
	SrcStage, DstStage     PipelineStage
	SrcAccess, DstAccess   Access
}

// RenderPassDesc describes a render pass with a single color attachment and a
// single subpass.
type RenderPassDesc struct {
	ColorFormat   Format
	LoadOp        LoadOp
	StoreOp       StoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
	Dependencies  []SubpassDependency
}

// VertexBinding describes a vertex buffer binding.
type VertexBinding struct {
	Binding uint32
	Stride  uint32
}

// VertexAttribute describes one attribute read from a vertex binding.
type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   VertexFormat
	Offset   uint32
}

// BlendState is the color blend state of the single color attachment.
type BlendState struct {
	Enable         bool
	SrcColorFactor BlendFactor
	DstColorFactor BlendFactor
	SrcAlphaFactor BlendFactor
	DstAlphaFactor BlendFactor
}

// GraphicsPipelineDesc describes a graphics pipeline. All state is fixed at
// creation, there is no dynamic state.
type GraphicsPipelineDesc struct {
	Layout     PipelineLayoutID
	RenderPass RenderPassID
	Subpass    uint32
	Stages     []ShaderStageDesc

	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute

	Topology    Topology
	PolygonMode PolygonMode
	CullMode    CullMode
	FrontFace   FrontFace
	LineWidth   float32
	Samples     uint32
	Blend       BlendState

	// Viewport and scissor both cover the whole extent.
	Viewport Extent2D

	DepthStencil bool
}

// RenderPassBegin holds the parameters for beginning a render pass.
type RenderPassBegin struct {
	RenderPass  RenderPassID
	Framebuffer FramebufferID
	Extent      Extent2D
	ClearColor  [4]float32
}

// SubmitInfo describes a single queue submission.
type SubmitInfo struct {
	CommandBuffers []CommandBufferID
	Wait           []SemaphoreID
	WaitStages     []PipelineStage
	Signal         []SemaphoreID
}

// SwapchainDesc describes the swapchain to create.
type SwapchainDesc struct {
	// Families lists the graphics and present families. When they differ the
	// images use concurrent sharing.
	Families []uint32
}

// QueueFamily re-exports the queue family description used by drivers.
type QueueFamily = queues.Family
