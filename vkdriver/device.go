package vkdriver

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-compute-studio/gpu"
)

// Device is the Vulkan implementation of gpu.Device.
type Device struct {
	physical *PhysicalDevice
	handle   vk.Device

	queues         map[uint32]gpu.QueueID
	queueHandles   *handles[gpu.QueueID, vk.Queue]
	buffers        *handles[gpu.BufferID, vk.Buffer]
	memory         *handles[gpu.MemoryID, vk.DeviceMemory]
	modules        *handles[gpu.ShaderModuleID, vk.ShaderModule]
	setLayouts     *handles[gpu.DescriptorSetLayoutID, vk.DescriptorSetLayout]
	layouts        *handles[gpu.PipelineLayoutID, vk.PipelineLayout]
	pipelines      *handles[gpu.PipelineID, vk.Pipeline]
	renderPasses   *handles[gpu.RenderPassID, vk.RenderPass]
	framebuffers   *handles[gpu.FramebufferID, vk.Framebuffer]
	descPools      *handles[gpu.DescriptorPoolID, vk.DescriptorPool]
	descSets       *handles[gpu.DescriptorSetID, vk.DescriptorSet]
	setPools       map[gpu.DescriptorSetID]gpu.DescriptorPoolID
	commandPools   *handles[gpu.CommandPoolID, vk.CommandPool]
	commandBuffers *handles[gpu.CommandBufferID, vk.CommandBuffer]
	fences         *handles[gpu.FenceID, vk.Fence]
	semaphores     *handles[gpu.SemaphoreID, vk.Semaphore]
}

var _ gpu.Device = (*Device)(nil)

func newDevice(physical *PhysicalDevice, handle vk.Device) *Device {
	return &Device{
		physical:       physical,
		handle:         handle,
		queues:         make(map[uint32]gpu.QueueID),
		queueHandles:   newHandles[gpu.QueueID, vk.Queue](),
		buffers:        newHandles[gpu.BufferID, vk.Buffer](),
		memory:         newHandles[gpu.MemoryID, vk.DeviceMemory](),
		modules:        newHandles[gpu.ShaderModuleID, vk.ShaderModule](),
		setLayouts:     newHandles[gpu.DescriptorSetLayoutID, vk.DescriptorSetLayout](),
		layouts:        newHandles[gpu.PipelineLayoutID, vk.PipelineLayout](),
		pipelines:      newHandles[gpu.PipelineID, vk.Pipeline](),
		renderPasses:   newHandles[gpu.RenderPassID, vk.RenderPass](),
		framebuffers:   newHandles[gpu.FramebufferID, vk.Framebuffer](),
		descPools:      newHandles[gpu.DescriptorPoolID, vk.DescriptorPool](),
		descSets:       newHandles[gpu.DescriptorSetID, vk.DescriptorSet](),
		setPools:       make(map[gpu.DescriptorSetID]gpu.DescriptorPoolID),
		commandPools:   newHandles[gpu.CommandPoolID, vk.CommandPool](),
		commandBuffers: newHandles[gpu.CommandBufferID, vk.CommandBuffer](),
		fences:         newHandles[gpu.FenceID, vk.Fence](),
		semaphores:     newHandles[gpu.SemaphoreID, vk.Semaphore](),
	}
}

// Queue returns the first queue of family.
func (d *Device) Queue(family uint32) gpu.QueueID {
	if id, ok := d.queues[family]; ok {
		return id
	}

	var queue vk.Queue
	vk.GetDeviceQueue(d.handle, family, 0, &queue)

	id := d.queueHandles.add(queue)
	d.queues[family] = id
	return id
}

func (d *Device) WaitIdle() error {
	if err := vk.Error(vk.DeviceWaitIdle(d.handle)); err != nil {
		return errors.Wrap(err, "waiting for the device to become idle")
	}
	return nil
}

func (d *Device) Destroy() {
	vk.DestroyDevice(d.handle, nil)
	d.handle = vk.Device(vk.NullHandle)
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.BufferID, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if len(desc.SharingFamilies) > 1 {
		bufferInfo.SharingMode = vk.SharingModeConcurrent
		bufferInfo.QueueFamilyIndexCount = uint32(len(desc.SharingFamilies))
		bufferInfo.PQueueFamilyIndices = desc.SharingFamilies
	}

	var buffer vk.Buffer
	res := vk.CreateBuffer(d.handle, &bufferInfo, nil, &buffer)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create buffer")
	}
	return d.buffers.add(buffer), nil
}

func (d *Device) DestroyBuffer(id gpu.BufferID) {
	if buffer, ok := d.buffers.take(id); ok {
		vk.DestroyBuffer(d.handle, buffer, nil)
	}
}

func (d *Device) BufferMemoryRequirements(id gpu.BufferID) gpu.MemoryRequirements {
	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, d.buffers.get(id), &memRequirements)
	memRequirements.Deref()

	return gpu.MemoryRequirements{
		Size:      uint64(memRequirements.Size),
		Alignment: uint64(memRequirements.Alignment),
		TypeBits:  memRequirements.MemoryTypeBits,
	}
}

func (d *Device) AllocateMemory(size uint64, memoryType uint32) (gpu.MemoryID, error) {
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryType,
	}

	var memory vk.DeviceMemory
	res := vk.AllocateMemory(d.handle, &allocInfo, nil, &memory)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to allocate buffer memory")
	}
	return d.memory.add(memory), nil
}

func (d *Device) FreeMemory(id gpu.MemoryID) {
	if memory, ok := d.memory.take(id); ok {
		vk.FreeMemory(d.handle, memory, nil)
	}
}

func (d *Device) BindBufferMemory(buf gpu.BufferID, mem gpu.MemoryID, offset uint64) error {
	res := vk.BindBufferMemory(d.handle, d.buffers.get(buf), d.memory.get(mem), vk.DeviceSize(offset))
	if err := vk.Error(res); err != nil {
		return errors.Wrap(err, "failed to bind buffer memory")
	}
	return nil
}

func (d *Device) MapMemory(mem gpu.MemoryID, offset, size uint64) ([]byte, error) {
	var pData unsafe.Pointer
	res := vk.MapMemory(d.handle, d.memory.get(mem), vk.DeviceSize(offset), vk.DeviceSize(size), 0, &pData)
	if err := vk.Error(res); err != nil {
		return nil, errors.Wrap(err, "failed to map memory")
	}
	return unsafe.Slice((*byte)(pData), size), nil
}

func (d *Device) UnmapMemory(mem gpu.MemoryID) {
	vk.UnmapMemory(d.handle, d.memory.get(mem))
}

func (d *Device) CreateShaderModule(code []uint32) (gpu.ShaderModuleID, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}

	var shaderModule vk.ShaderModule
	res := vk.CreateShaderModule(d.handle, &createInfo, nil, &shaderModule)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create shader module")
	}
	return d.modules.add(shaderModule), nil
}

func (d *Device) DestroyShaderModule(id gpu.ShaderModuleID) {
	if module, ok := d.modules.take(id); ok {
		vk.DestroyShaderModule(d.handle, module, nil)
	}
}

func (d *Device) CreateDescriptorSetLayout(
	bindings []gpu.DescriptorBinding,
) (gpu.DescriptorSetLayoutID, error) {
	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  descriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(shaderStageBits(b.Stages)),
		}
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}

	var layout vk.DescriptorSetLayout
	res := vk.CreateDescriptorSetLayout(d.handle, &layoutInfo, nil, &layout)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create descriptor set layout")
	}
	return d.setLayouts.add(layout), nil
}

func (d *Device) DestroyDescriptorSetLayout(id gpu.DescriptorSetLayoutID) {
	if layout, ok := d.setLayouts.take(id); ok {
		vk.DestroyDescriptorSetLayout(d.handle, layout, nil)
	}
}

func (d *Device) CreatePipelineLayout(
	setLayouts []gpu.DescriptorSetLayoutID,
) (gpu.PipelineLayoutID, error) {
	layouts := d.setLayouts.all(setLayouts)
	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}

	var pipelineLayout vk.PipelineLayout
	res := vk.CreatePipelineLayout(d.handle, &pipelineLayoutInfo, nil, &pipelineLayout)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create pipeline layout")
	}
	return d.layouts.add(pipelineLayout), nil
}

func (d *Device) DestroyPipelineLayout(id gpu.PipelineLayoutID) {
	if layout, ok := d.layouts.take(id); ok {
		vk.DestroyPipelineLayout(d.handle, layout, nil)
	}
}

func (d *Device) shaderStage(desc gpu.ShaderStageDesc) vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStageBits(desc.Stage),
		Module: d.modules.get(desc.Module),
		PName:  cString(desc.EntryPoint),
	}
}

func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDesc) (gpu.PipelineID, error) {
	pipelineInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              d.shaderStage(desc.Stage),
		Layout:             d.layouts.get(desc.Layout),
		BasePipelineHandle: vk.Pipeline(vk.NullHandle),
		BasePipelineIndex:  -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(
		d.handle,
		vk.PipelineCache(vk.NullHandle),
		1,
		[]vk.ComputePipelineCreateInfo{pipelineInfo},
		nil,
		pipelines,
	)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create compute pipeline")
	}
	return d.pipelines.add(pipelines[0]), nil
}

func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.PipelineID, error) {
	shaderStages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	for i, stage := range desc.Stages {
		shaderStages[i] = d.shaderStage(stage)
	}

	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexBindings))
	for i, b := range desc.VertexBindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   vertexFormat(a.Format),
			Offset:   a.Offset,
		}
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,

		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               topology(desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	viewportExtent := extent(desc.Viewport)
	viewport := vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(viewportExtent.Width),
		Height:   float32(viewportExtent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}

	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: viewportExtent,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
		PViewports:    []vk.Viewport{viewport},
		PScissors:     []vk.Rect2D{scissor},
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             polygonMode(desc.PolygonMode),
		LineWidth:               desc.LineWidth,
		CullMode:                cullMode(desc.CullMode),
		FrontFace:               frontFace(desc.FrontFace),
		DepthBiasEnable:         vk.False,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	blendEnable := vk.False
	if desc.Blend.Enable {
		blendEnable = vk.True
	}

	colorBlendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit |
				vk.ColorComponentGBit |
				vk.ColorComponentBBit |
				vk.ColorComponentABit,
		),
		BlendEnable:         vk.Bool32(blendEnable),
		SrcColorBlendFactor: blendFactor(desc.Blend.SrcColorFactor),
		DstColorBlendFactor: blendFactor(desc.Blend.DstColorFactor),
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: blendFactor(desc.Blend.SrcAlphaFactor),
		DstAlphaBlendFactor: blendFactor(desc.Blend.DstAlphaFactor),
		AlphaBlendOp:        vk.BlendOpAdd,
	}

	colorBlending := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments: []vk.PipelineColorBlendAttachmentState{
			colorBlendAttachment,
		},
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  nil,
		PColorBlendState:    &colorBlending,
		PDynamicState:       nil,
		Layout:              d.layouts.get(desc.Layout),
		RenderPass:          d.renderPasses.get(desc.RenderPass),
		Subpass:             desc.Subpass,
		BasePipelineHandle:  vk.Pipeline(vk.NullHandle),
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(
		d.handle,
		vk.PipelineCache(vk.NullHandle),
		1,
		[]vk.GraphicsPipelineCreateInfo{pipelineInfo},
		nil,
		pipelines,
	)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create graphics pipeline")
	}
	return d.pipelines.add(pipelines[0]), nil
}

func (d *Device) DestroyPipeline(id gpu.PipelineID) {
	if pipeline, ok := d.pipelines.take(id); ok {
		vk.DestroyPipeline(d.handle, pipeline, nil)
	}
}

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPassID, error) {
	colorAttachment := vk.AttachmentDescription{
		Format:         vk.Format(desc.ColorFormat),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         loadOp(desc.LoadOp),
		StoreOp:        storeOp(desc.StoreOp),
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  imageLayout(desc.InitialLayout),
		FinalLayout:    imageLayout(desc.FinalLayout),
	}

	colorAttachmentRef := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vk.AttachmentReference{colorAttachmentRef},
	}

	dependencies := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		dependencies[i] = vk.SubpassDependency{
			SrcSubpass:    dep.SrcSubpass,
			DstSubpass:    dep.DstSubpass,
			SrcStageMask:  pipelineStages(dep.SrcStage),
			SrcAccessMask: accessFlags(dep.SrcAccess),
			DstStageMask:  pipelineStages(dep.DstStage),
			DstAccessMask: accessFlags(dep.DstAccess),
		}
	}

	renderPassInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.AttachmentDescription{colorAttachment},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var renderPass vk.RenderPass
	res := vk.CreateRenderPass(d.handle, &renderPassInfo, nil, &renderPass)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create render pass")
	}
	return d.renderPasses.add(renderPass), nil
}

func (d *Device) DestroyRenderPass(id gpu.RenderPassID) {
	if renderPass, ok := d.renderPasses.take(id); ok {
		vk.DestroyRenderPass(d.handle, renderPass, nil)
	}
}

func (d *Device) CreateDescriptorPool(maxSets, storageBuffers uint32) (gpu.DescriptorPoolID, error) {
	poolSizes := []vk.DescriptorPoolSize{
		{
			Type:            vk.DescriptorTypeStorageBuffer,
			DescriptorCount: storageBuffers,
		},
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       maxSets,
	}

	var descriptorPool vk.DescriptorPool
	res := vk.CreateDescriptorPool(d.handle, &poolInfo, nil, &descriptorPool)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create descriptor pool")
	}
	return d.descPools.add(descriptorPool), nil
}

// DestroyDescriptorPool destroys the pool together with the sets allocated
// from it.
func (d *Device) DestroyDescriptorPool(id gpu.DescriptorPoolID) {
	pool, ok := d.descPools.take(id)
	if !ok {
		return
	}
	vk.DestroyDescriptorPool(d.handle, pool, nil)

	for set, owner := range d.setPools {
		if owner == id {
			d.descSets.take(set)
			delete(d.setPools, set)
		}
	}
}

func (d *Device) AllocateDescriptorSet(
	pool gpu.DescriptorPoolID,
	layout gpu.DescriptorSetLayoutID,
) (gpu.DescriptorSetID, error) {
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.descPools.get(pool),
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{d.setLayouts.get(layout)},
	}

	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(d.handle, &allocInfo, &set)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to allocate descriptor set")
	}
	id := d.descSets.add(set)
	d.setPools[id] = pool
	return id, nil
}

func (d *Device) UpdateDescriptorSet(id gpu.DescriptorSetID, writes []gpu.DescriptorWrite) {
	set := d.descSets.get(id)

	descriptorWrites := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		bufferInfo := vk.DescriptorBufferInfo{
			Buffer: d.buffers.get(w.Buffer),
			Offset: vk.DeviceSize(w.Offset),
			Range:  vk.DeviceSize(w.Range),
		}
		descriptorWrites[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
		}
	}

	vk.UpdateDescriptorSets(
		d.handle,
		uint32(len(descriptorWrites)),
		descriptorWrites,
		0,
		nil,
	)
}
