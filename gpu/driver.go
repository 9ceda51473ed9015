package gpu

import "time"

// Instance is the entry point into a driver. It enumerates the physical
// devices and creates logical devices on them.
type Instance interface {
	PhysicalDevices() ([]PhysicalDevice, error)
	CreateDevice(pd PhysicalDevice, desc DeviceDesc) (Device, error)
	Destroy()
}

// PhysicalDevice is a device which can be inspected before deciding to use it.
type PhysicalDevice interface {
	Properties() DeviceProperties
	QueueFamilies() []QueueFamily
	MemoryTypes() []MemoryType

	// SupportsPresent reports whether the given queue family can present to
	// the instance surface. Headless instances always report false.
	SupportsPresent(family uint32) (bool, error)
	SupportsExtensions(names []string) (bool, error)
	SwapchainSupport() (SwapchainSupport, error)
}

// Device is a logical device. Every create call returns an ID which has to be
// given back to the matching destroy call.
type Device interface {
	Queue(family uint32) QueueID
	WaitIdle() error
	Destroy()

	CreateBuffer(desc BufferDesc) (BufferID, error)
	DestroyBuffer(BufferID)
	BufferMemoryRequirements(BufferID) MemoryRequirements
	AllocateMemory(size uint64, memoryType uint32) (MemoryID, error)
	FreeMemory(MemoryID)
	BindBufferMemory(buf BufferID, mem MemoryID, offset uint64) error

	// MapMemory maps size bytes of mem starting at offset. The returned slice
	// is only valid until UnmapMemory is called.
	MapMemory(mem MemoryID, offset, size uint64) ([]byte, error)
	UnmapMemory(MemoryID)

	CreateShaderModule(code []uint32) (ShaderModuleID, error)
	DestroyShaderModule(ShaderModuleID)
	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayoutID, error)
	DestroyDescriptorSetLayout(DescriptorSetLayoutID)
	CreatePipelineLayout(setLayouts []DescriptorSetLayoutID) (PipelineLayoutID, error)
	DestroyPipelineLayout(PipelineLayoutID)
	CreateComputePipeline(desc ComputePipelineDesc) (PipelineID, error)
	CreateGraphicsPipeline(desc GraphicsPipelineDesc) (PipelineID, error)
	DestroyPipeline(PipelineID)
	CreateRenderPass(desc RenderPassDesc) (RenderPassID, error)
	DestroyRenderPass(RenderPassID)

	CreateDescriptorPool(maxSets uint32, storageBuffers uint32) (DescriptorPoolID, error)
	DestroyDescriptorPool(DescriptorPoolID)
	AllocateDescriptorSet(pool DescriptorPoolID, layout DescriptorSetLayoutID) (DescriptorSetID, error)
	UpdateDescriptorSet(set DescriptorSetID, writes []DescriptorWrite)

	CreateCommandPool(family uint32) (CommandPoolID, error)
	DestroyCommandPool(CommandPoolID)
	AllocateCommandBuffers(pool CommandPoolID, count uint32) ([]CommandBufferID, error)
	FreeCommandBuffers(pool CommandPoolID, cbs []CommandBufferID)
	ResetCommandBuffer(CommandBufferID) error
	BeginCommandBuffer(cb CommandBufferID, oneTimeSubmit bool) error
	EndCommandBuffer(CommandBufferID) error

	CmdBindPipeline(cb CommandBufferID, point BindPoint, pipeline PipelineID)
	CmdBindDescriptorSets(cb CommandBufferID, point BindPoint, layout PipelineLayoutID, sets []DescriptorSetID)
	CmdDispatch(cb CommandBufferID, x, y, z uint32)
	CmdBeginRenderPass(cb CommandBufferID, begin RenderPassBegin)
	CmdBindVertexBuffers(cb CommandBufferID, first uint32, buffers []BufferID, offsets []uint64)
	CmdDraw(cb CommandBufferID, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdEndRenderPass(CommandBufferID)

	QueueSubmit(queue QueueID, submit SubmitInfo, fence FenceID) error

	CreateFence(signaled bool) (FenceID, error)
	DestroyFence(FenceID)

	// WaitForFences blocks until all fences are signaled. It returns
	// ErrTimeout if the timeout expires first.
	WaitForFences(fences []FenceID, timeout time.Duration) error
	ResetFences(fences []FenceID) error

	CreateSemaphore() (SemaphoreID, error)
	DestroySemaphore(SemaphoreID)

	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)
}

// Swapchain is the set of presentable images of a surface.
type Swapchain interface {
	Extent() Extent2D
	Format() Format
	ImageCount() int

	// CreateFramebuffers creates one framebuffer per image for the render
	// pass. They are owned by the swapchain and released by Destroy.
	CreateFramebuffers(rp RenderPassID) ([]FramebufferID, error)

	// AcquireNextImage returns the index of the next image, signaling
	// semaphore when it is ready. It returns ErrOutOfDate when the swapchain
	// has to be recreated.
	AcquireNextImage(timeout time.Duration, semaphore SemaphoreID) (uint32, error)

	// Present queues the image for presentation after wait is signaled. It
	// returns ErrOutOfDate for suboptimal and out of date swapchains.
	Present(queue QueueID, image uint32, wait []SemaphoreID) error
	Destroy()
}
