package vkdriver

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-compute-studio/gpu"
)

func (d *Device) CreateCommandPool(family uint32) (gpu.CommandPoolID, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType: vk.StructureTypeCommandPoolCreateInfo,
		Flags: vk.CommandPoolCreateFlags(
			vk.CommandPoolCreateResetCommandBufferBit,
		),
		QueueFamilyIndex: family,
	}

	var commandPool vk.CommandPool
	res := vk.CreateCommandPool(d.handle, &poolInfo, nil, &commandPool)
	if err := vk.Error(res); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create command pool")
	}
	return d.commandPools.add(commandPool), nil
}

func (d *Device) DestroyCommandPool(id gpu.CommandPoolID) {
	if pool, ok := d.commandPools.take(id); ok {
		vk.DestroyCommandPool(d.handle, pool, nil)
	}
}

func (d *Device) AllocateCommandBuffers(
	pool gpu.CommandPoolID,
	count uint32,
) ([]gpu.CommandBufferID, error) {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPools.get(pool),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	}

	commandBuffers := make([]vk.CommandBuffer, count)
	res := vk.AllocateCommandBuffers(d.handle, &allocInfo, commandBuffers)
	if err := vk.Error(res); err != nil {
		return nil, errors.Wrap(err, "failed to allocate command buffers")
	}

	ids := make([]gpu.CommandBufferID, count)
	for i, cb := range commandBuffers {
		ids[i] = d.commandBuffers.add(cb)
	}
	return ids, nil
}

func (d *Device) FreeCommandBuffers(pool gpu.CommandPoolID, cbs []gpu.CommandBufferID) {
	commandBuffers := make([]vk.CommandBuffer, 0, len(cbs))
	for _, id := range cbs {
		if cb, ok := d.commandBuffers.take(id); ok {
			commandBuffers = append(commandBuffers, cb)
		}
	}
	if len(commandBuffers) == 0 {
		return
	}
	vk.FreeCommandBuffers(
		d.handle,
		d.commandPools.get(pool),
		uint32(len(commandBuffers)),
		commandBuffers,
	)
}

func (d *Device) ResetCommandBuffer(id gpu.CommandBufferID) error {
	res := vk.ResetCommandBuffer(d.commandBuffers.get(id), 0)
	if err := vk.Error(res); err != nil {
		return errors.Wrap(err, "failed to reset command buffer")
	}
	return nil
}

func (d *Device) BeginCommandBuffer(id gpu.CommandBufferID, oneTimeSubmit bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	res := vk.BeginCommandBuffer(d.commandBuffers.get(id), &beginInfo)
	if err := vk.Error(res); err != nil {
		return errors.Wrap(err, "cannot add begin command to the buffer")
	}
	return nil
}

func (d *Device) EndCommandBuffer(id gpu.CommandBufferID) error {
	if err := vk.Error(vk.EndCommandBuffer(d.commandBuffers.get(id))); err != nil {
		return errors.Wrap(err, "recording commands to buffer failed")
	}
	return nil
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBufferID, point gpu.BindPoint, pipeline gpu.PipelineID) {
	vk.CmdBindPipeline(d.commandBuffers.get(cb), bindPoint(point), d.pipelines.get(pipeline))
}

func (d *Device) CmdBindDescriptorSets(
	cb gpu.CommandBufferID,
	point gpu.BindPoint,
	layout gpu.PipelineLayoutID,
	sets []gpu.DescriptorSetID,
) {
	descriptorSets := d.descSets.all(sets)
	vk.CmdBindDescriptorSets(
		d.commandBuffers.get(cb),
		bindPoint(point),
		d.layouts.get(layout),
		0,
		uint32(len(descriptorSets)),
		descriptorSets,
		0,
		nil,
	)
}

func (d *Device) CmdDispatch(cb gpu.CommandBufferID, x, y, z uint32) {
	vk.CmdDispatch(d.commandBuffers.get(cb), x, y, z)
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBufferID, begin gpu.RenderPassBegin) {
	clearColor := vk.NewClearValue(begin.ClearColor[:])

	renderPassInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  d.renderPasses.get(begin.RenderPass),
		Framebuffer: d.framebuffers.get(begin.Framebuffer),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent(begin.Extent),
		},
		ClearValueCount: 1,
		PClearValues:    []vk.ClearValue{clearColor},
	}

	vk.CmdBeginRenderPass(d.commandBuffers.get(cb), &renderPassInfo, vk.SubpassContentsInline)
}

func (d *Device) CmdBindVertexBuffers(
	cb gpu.CommandBufferID,
	first uint32,
	buffers []gpu.BufferID,
	offsets []uint64,
) {
	vertexBuffers := d.buffers.all(buffers)
	deviceOffsets := make([]vk.DeviceSize, len(offsets))
	for i, o := range offsets {
		deviceOffsets[i] = vk.DeviceSize(o)
	}
	vk.CmdBindVertexBuffers(
		d.commandBuffers.get(cb),
		first,
		uint32(len(vertexBuffers)),
		vertexBuffers,
		deviceOffsets,
	)
}

func (d *Device) CmdDraw(cb gpu.CommandBufferID, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(d.commandBuffers.get(cb), vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBufferID) {
	vk.CmdEndRenderPass(d.commandBuffers.get(cb))
}

func (d *Device) QueueSubmit(queue gpu.QueueID, submit gpu.SubmitInfo, fence gpu.FenceID) error {
	waitStages := make([]vk.PipelineStageFlags, len(submit.WaitStages))
	for i, stage := range submit.WaitStages {
		waitStages[i] = pipelineStages(stage)
	}

	waitSemaphores := d.semaphores.all(submit.Wait)
	signalSemaphores := d.semaphores.all(submit.Signal)
	commandBuffers := d.commandBuffers.all(submit.CommandBuffers)

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waitSemaphores)),
		PWaitSemaphores:      waitSemaphores,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   uint32(len(commandBuffers)),
		PCommandBuffers:      commandBuffers,
		SignalSemaphoreCount: uint32(len(signalSemaphores)),
		PSignalSemaphores:    signalSemaphores,
	}

	vkFence := vk.NullFence
	if fence != gpu.NullHandle {
		vkFence = d.fences.get(fence)
	}

	res := vk.QueueSubmit(
		d.queueHandles.get(queue),
		1,
		[]vk.SubmitInfo{submitInfo},
		vkFence,
	)
	if err := vk.Error(res); err != nil {
		return errors.Wrap(err, "queue submit error")
	}
	return nil
}

func (d *Device) CreateFence(signaled bool) (gpu.FenceID, error) {
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(d.handle, &fenceInfo, nil, &fence)); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create fence")
	}
	return d.fences.add(fence), nil
}

func (d *Device) DestroyFence(id gpu.FenceID) {
	if fence, ok := d.fences.take(id); ok {
		vk.DestroyFence(d.handle, fence, nil)
	}
}

func (d *Device) WaitForFences(ids []gpu.FenceID, timeout time.Duration) error {
	fences := d.fences.all(ids)
	res := vk.WaitForFences(d.handle, uint32(len(fences)), fences, vk.True, timeoutNanos(timeout))
	if res == vk.Timeout {
		return errors.Wrapf(gpu.ErrTimeout, "waiting %s for %d fences", timeout, len(fences))
	}
	if err := vk.Error(res); err != nil {
		return errors.Wrap(err, "waiting for fences")
	}
	return nil
}

func (d *Device) ResetFences(ids []gpu.FenceID) error {
	fences := d.fences.all(ids)
	if err := vk.Error(vk.ResetFences(d.handle, uint32(len(fences)), fences)); err != nil {
		return errors.Wrap(err, "failed to reset fences")
	}
	return nil
}

func (d *Device) CreateSemaphore() (gpu.SemaphoreID, error) {
	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var semaphore vk.Semaphore
	if err := vk.Error(
		vk.CreateSemaphore(d.handle, &semaphoreInfo, nil, &semaphore),
	); err != nil {
		return gpu.NullHandle, errors.Wrap(err, "failed to create semaphore")
	}
	return d.semaphores.add(semaphore), nil
}

func (d *Device) DestroySemaphore(id gpu.SemaphoreID) {
	if semaphore, ok := d.semaphores.take(id); ok {
		vk.DestroySemaphore(d.handle, semaphore, nil)
	}
}
