package gputest

import (
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	"vulkan-compute-studio/gpu"
)

// Op names a recorded command.
type Op string

// Recorded commands.
const (
	OpBindPipeline       Op = "BindPipeline"
	OpBindDescriptorSets Op = "BindDescriptorSets"
	OpDispatch           Op = "Dispatch"
	OpBeginRenderPass    Op = "BeginRenderPass"
	OpBindVertexBuffers  Op = "BindVertexBuffers"
	OpDraw               Op = "Draw"
	OpEndRenderPass      Op = "EndRenderPass"
)

// Command is one command recorded into a command buffer. Only the fields of
// its Op are set.
type Command struct {
	Op       Op
	Point    gpu.BindPoint
	Pipeline gpu.PipelineID
	Layout   gpu.PipelineLayoutID
	Sets     []gpu.DescriptorSetID
	Begin    gpu.RenderPassBegin
	Buffers  []gpu.BufferID
	Offsets  []uint64

	// Dispatch holds the group counts, Draw the vertex count, instance count,
	// first vertex and first instance.
	Dispatch [3]uint32
	Draw     [4]uint32
}

// Submission is one recorded queue submission.
type Submission struct {
	Queue  gpu.QueueID
	Family uint32
	Info   gpu.SubmitInfo
	Fence  gpu.FenceID

	memory   map[gpu.MemoryID]bool
	complete bool
}

// Kernel emulates the compute shader. It receives the regions bound to the
// input and output bindings of the dispatched descriptor set.
type Kernel func(in, out []byte)

type bufferRecord struct {
	desc   gpu.BufferDesc
	memory gpu.MemoryID
}

type memoryRecord struct {
	data       []byte
	memoryType uint32
	mapped     bool
}

type setRecord struct {
	layout gpu.DescriptorSetLayoutID
	pool   gpu.DescriptorPoolID
	writes map[uint32]gpu.DescriptorWrite
}

type commandBufferRecord struct {
	pool      gpu.CommandPoolID
	recording bool
	oneTime   bool
	consumed  bool
	commands  []Command
	pending   []*Submission
}

type fenceRecord struct {
	signaled bool
	pending  []*Submission
}

// Device is a fake logical device.
type Device struct {
	Desc gpu.DeviceDesc

	// Kernel runs for every dispatch when set.
	Kernel Kernel

	// Hang makes fences with pending work never signal.
	Hang bool

	// NullPipelines makes pipeline creation succeed with a null handle.
	NullPipelines bool

	// SwapchainExtent and SwapchainImages configure new swapchains.
	SwapchainExtent gpu.Extent2D
	SwapchainImages int

	// Calls lists the names of the object lifetime calls in order.
	Calls []string

	// Violations describes every synchronization mistake seen.
	Violations []string

	// Submissions lists every queue submission in order.
	Submissions []*Submission

	// Dispatches and Draws hold the executed dispatch and draw commands.
	Dispatches []Command
	Draws      []Command

	Swapchains []*Swapchain
	Destroyed  bool

	physical *PhysicalDevice
	nextID   uint64
	fail     map[string]error

	queues          map[gpu.QueueID]uint32
	buffers         map[gpu.BufferID]*bufferRecord
	memory          map[gpu.MemoryID]*memoryRecord
	modules         map[gpu.ShaderModuleID][]uint32
	setLayouts      map[gpu.DescriptorSetLayoutID][]gpu.DescriptorBinding
	pipelineLayouts map[gpu.PipelineLayoutID][]gpu.DescriptorSetLayoutID
	computePipes    map[gpu.PipelineID]gpu.ComputePipelineDesc
	graphicsPipes   map[gpu.PipelineID]gpu.GraphicsPipelineDesc
	renderPasses    map[gpu.RenderPassID]gpu.RenderPassDesc
	descriptorPools map[gpu.DescriptorPoolID]uint32
	sets            map[gpu.DescriptorSetID]*setRecord
	commandPools    map[gpu.CommandPoolID]uint32
	commandBuffers  map[gpu.CommandBufferID]*commandBufferRecord
	fences          map[gpu.FenceID]*fenceRecord
	semaphores      map[gpu.SemaphoreID]bool
}

func newDevice(physical *PhysicalDevice, desc gpu.DeviceDesc) *Device {
	return &Device{
		Desc:            desc,
		SwapchainExtent: gpu.Extent2D{Width: 800, Height: 600},
		SwapchainImages: 3,
		physical:        physical,
		fail:            make(map[string]error),
		queues:          make(map[gpu.QueueID]uint32),
		buffers:         make(map[gpu.BufferID]*bufferRecord),
		memory:          make(map[gpu.MemoryID]*memoryRecord),
		modules:         make(map[gpu.ShaderModuleID][]uint32),
		setLayouts:      make(map[gpu.DescriptorSetLayoutID][]gpu.DescriptorBinding),
		pipelineLayouts: make(map[gpu.PipelineLayoutID][]gpu.DescriptorSetLayoutID),
		computePipes:    make(map[gpu.PipelineID]gpu.ComputePipelineDesc),
		graphicsPipes:   make(map[gpu.PipelineID]gpu.GraphicsPipelineDesc),
		renderPasses:    make(map[gpu.RenderPassID]gpu.RenderPassDesc),
		descriptorPools: make(map[gpu.DescriptorPoolID]uint32),
		sets:            make(map[gpu.DescriptorSetID]*setRecord),
		commandPools:    make(map[gpu.CommandPoolID]uint32),
		commandBuffers:  make(map[gpu.CommandBufferID]*commandBufferRecord),
		fences:          make(map[gpu.FenceID]*fenceRecord),
		semaphores:      make(map[gpu.SemaphoreID]bool),
	}
}

// FailOn makes the named Device method return err from now on. A nil err
// removes the failure.
func (d *Device) FailOn(method string, err error) {
	if err == nil {
		delete(d.fail, method)
		return
	}
	d.fail[method] = err
}

func (d *Device) call(method string) error {
	d.Calls = append(d.Calls, method)
	return d.fail[method]
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) violation(format string, args ...interface{}) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

// Live returns the names of the objects which have been created and not yet
// destroyed, sorted. Queues and command buffers owned by live pools are not
// listed.
func (d *Device) Live() []string {
	var live []string
	add := func(kind string, n int) {
		for i := 0; i < n; i++ {
			live = append(live, kind)
		}
	}
	add("buffer", len(d.buffers))
	add("memory", len(d.memory))
	add("shader module", len(d.modules))
	add("descriptor set layout", len(d.setLayouts))
	add("pipeline layout", len(d.pipelineLayouts))
	add("pipeline", len(d.computePipes)+len(d.graphicsPipes))
	add("render pass", len(d.renderPasses))
	add("descriptor pool", len(d.descriptorPools))
	add("command pool", len(d.commandPools))
	add("fence", len(d.fences))
	add("semaphore", len(d.semaphores))
	for _, sc := range d.Swapchains {
		if !sc.Destroyed {
			live = append(live, "swapchain")
		}
	}
	sort.Strings(live)
	return live
}

// Commands returns the commands recorded into cb.
func (d *Device) Commands(cb gpu.CommandBufferID) []Command {
	rec, ok := d.commandBuffers[cb]
	if !ok {
		return nil
	}
	return rec.commands
}

// GraphicsPipeline returns the description a live graphics pipeline was
// created with.
func (d *Device) GraphicsPipeline(id gpu.PipelineID) (gpu.GraphicsPipelineDesc, bool) {
	desc, ok := d.graphicsPipes[id]
	return desc, ok
}

// ComputePipeline returns the description a live compute pipeline was created
// with.
func (d *Device) ComputePipeline(id gpu.PipelineID) (gpu.ComputePipelineDesc, bool) {
	desc, ok := d.computePipes[id]
	return desc, ok
}

// RenderPass returns the description of a live render pass.
func (d *Device) RenderPass(id gpu.RenderPassID) (gpu.RenderPassDesc, bool) {
	desc, ok := d.renderPasses[id]
	return desc, ok
}

// Buffer returns the description of a live buffer.
func (d *Device) Buffer(id gpu.BufferID) (gpu.BufferDesc, bool) {
	rec, ok := d.buffers[id]
	if !ok {
		return gpu.BufferDesc{}, false
	}
	return rec.desc, true
}

// MemoryType returns the memory type index mem was allocated from.
func (d *Device) MemoryType(mem gpu.MemoryID) (uint32, bool) {
	rec, ok := d.memory[mem]
	if !ok {
		return 0, false
	}
	return rec.memoryType, true
}

// DescriptorWrites returns the writes applied to a descriptor set by binding.
func (d *Device) DescriptorWrites(set gpu.DescriptorSetID) map[uint32]gpu.DescriptorWrite {
	rec, ok := d.sets[set]
	if !ok {
		return nil
	}
	return rec.writes
}

// FenceSignaled reports whether fence is signaled.
func (d *Device) FenceSignaled(fence gpu.FenceID) bool {
	rec, ok := d.fences[fence]
	return ok && rec.signaled
}

// Queue implements gpu.Device. Every family has exactly one queue.
func (d *Device) Queue(family uint32) gpu.QueueID {
	for id, f := range d.queues {
		if f == family {
			return id
		}
	}
	id := gpu.QueueID(d.id())
	d.queues[id] = family
	return id
}

// WaitIdle implements gpu.Device. All pending work completes.
func (d *Device) WaitIdle() error {
	if err := d.call("WaitIdle"); err != nil {
		return err
	}
	for _, s := range d.Submissions {
		if !s.complete {
			d.complete(s)
		}
	}
	return nil
}

// Destroy implements gpu.Device.
func (d *Device) Destroy() {
	d.call("DestroyDevice")
	d.Destroyed = true
}

// CreateBuffer implements gpu.Device.
func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.BufferID, error) {
	if err := d.call("CreateBuffer"); err != nil {
		return gpu.NullHandle, err
	}
	if desc.Size == 0 {
		return gpu.NullHandle, errors.New("buffer size must not be zero")
	}
	id := gpu.BufferID(d.id())
	d.buffers[id] = &bufferRecord{desc: desc}
	return id, nil
}

// DestroyBuffer implements gpu.Device.
func (d *Device) DestroyBuffer(id gpu.BufferID) {
	d.call("DestroyBuffer")
	rec, ok := d.buffers[id]
	if !ok {
		d.violation("destroying unknown buffer %d", id)
		return
	}
	if rec.memory != gpu.NullHandle && d.inUse(rec.memory) {
		d.violation("buffer %d destroyed while in use by the device", id)
	}
	delete(d.buffers, id)
}

// BufferMemoryRequirements implements gpu.Device. Sizes are rounded up to 64
// bytes and every memory type is allowed.
func (d *Device) BufferMemoryRequirements(id gpu.BufferID) gpu.MemoryRequirements {
	rec := d.buffers[id]
	size := (rec.desc.Size + 63) &^ 63
	return gpu.MemoryRequirements{
		Size:      size,
		Alignment: 64,
		TypeBits:  uint32(1)<<uint(len(d.physical.Memory)) - 1,
	}
}

// AllocateMemory implements gpu.Device.
func (d *Device) AllocateMemory(size uint64, memoryType uint32) (gpu.MemoryID, error) {
	if err := d.call("AllocateMemory"); err != nil {
		return gpu.NullHandle, err
	}
	if int(memoryType) >= len(d.physical.Memory) {
		return gpu.NullHandle, errors.Newf("memory type %d does not exist", memoryType)
	}
	id := gpu.MemoryID(d.id())
	d.memory[id] = &memoryRecord{data: make([]byte, size), memoryType: memoryType}
	return id, nil
}

// FreeMemory implements gpu.Device.
func (d *Device) FreeMemory(id gpu.MemoryID) {
	d.call("FreeMemory")
	if _, ok := d.memory[id]; !ok {
		d.violation("freeing unknown memory %d", id)
		return
	}
	if d.inUse(id) {
		d.violation("memory %d freed while in use by the device", id)
	}
	delete(d.memory, id)
}

// BindBufferMemory implements gpu.Device.
func (d *Device) BindBufferMemory(buf gpu.BufferID, mem gpu.MemoryID, offset uint64) error {
	if err := d.call("BindBufferMemory"); err != nil {
		return err
	}
	b, ok := d.buffers[buf]
	if !ok {
		return errors.Newf("unknown buffer %d", buf)
	}
	m, ok := d.memory[mem]
	if !ok {
		return errors.Newf("unknown memory %d", mem)
	}
	if b.memory != gpu.NullHandle {
		return errors.Newf("buffer %d already bound", buf)
	}
	if offset != 0 || uint64(len(m.data)) < b.desc.Size {
		return errors.Newf("memory %d cannot back buffer %d", mem, buf)
	}
	b.memory = mem
	return nil
}

// MapMemory implements gpu.Device. Mapping memory the device is still using is
// recorded as a violation.
func (d *Device) MapMemory(mem gpu.MemoryID, offset, size uint64) ([]byte, error) {
	if err := d.call("MapMemory"); err != nil {
		return nil, err
	}
	m, ok := d.memory[mem]
	if !ok {
		return nil, errors.Newf("unknown memory %d", mem)
	}
	if d.physical.Memory[m.memoryType].Flags&gpu.MemoryHostVisible == 0 {
		return nil, errors.Newf("memory %d is not host visible", mem)
	}
	if m.mapped {
		return nil, errors.Newf("memory %d is already mapped", mem)
	}
	if offset+size > uint64(len(m.data)) {
		return nil, errors.Newf("mapping %d bytes at %d of %d byte memory", size, offset, len(m.data))
	}
	if d.inUse(mem) {
		d.violation("memory %d mapped while in use by the device", mem)
	}
	m.mapped = true
	return m.data[offset : offset+size : offset+size], nil
}

// UnmapMemory implements gpu.Device.
func (d *Device) UnmapMemory(mem gpu.MemoryID) {
	d.call("UnmapMemory")
	m, ok := d.memory[mem]
	if !ok || !m.mapped {
		d.violation("unmapping memory %d which is not mapped", mem)
		return
	}
	m.mapped = false
}

// Mapped reports whether mem is currently mapped.
func (d *Device) Mapped(mem gpu.MemoryID) bool {
	m, ok := d.memory[mem]
	return ok && m.mapped
}

// CreateShaderModule implements gpu.Device.
func (d *Device) CreateShaderModule(code []uint32) (gpu.ShaderModuleID, error) {
	if err := d.call("CreateShaderModule"); err != nil {
		return gpu.NullHandle, err
	}
	id := gpu.ShaderModuleID(d.id())
	d.modules[id] = code
	return id, nil
}

// DestroyShaderModule implements gpu.Device.
func (d *Device) DestroyShaderModule(id gpu.ShaderModuleID) {
	d.call("DestroyShaderModule")
	delete(d.modules, id)
}

// CreateDescriptorSetLayout implements gpu.Device.
func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayoutID, error) {
	if err := d.call("CreateDescriptorSetLayout"); err != nil {
		return gpu.NullHandle, err
	}
	id := gpu.DescriptorSetLayoutID(d.id())
	d.setLayouts[id] = bindings
	return id, nil
}

// DestroyDescriptorSetLayout implements gpu.Device.
func (d *Device) DestroyDescriptorSetLayout(id gpu.DescriptorSetLayoutID) {
	d.call("DestroyDescriptorSetLayout")
	delete(d.setLayouts, id)
}

// CreatePipelineLayout implements gpu.Device.
func (d *Device) CreatePipelineLayout(setLayouts []gpu.DescriptorSetLayoutID) (gpu.PipelineLayoutID, error) {
	if err := d.call("CreatePipelineLayout"); err != nil {
		return gpu.NullHandle, err
	}
	id := gpu.PipelineLayoutID(d.id())
	d.pipelineLayouts[id] = setLayouts
	return id, nil
}

// DestroyPipelineLayout implements gpu.Device.
func (d *Device) DestroyPipelineLayout(id gpu.PipelineLayoutID) {
	d.call("DestroyPipelineLayout")
	delete(d.pipelineLayouts, id)
}

// CreateComputePipeline implements gpu.Device.
func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDesc) (gpu.PipelineID, error) {
	if err := d.call("CreateComputePipeline"); err != nil {
		return gpu.NullHandle, err
	}
	if d.NullPipelines {
		return gpu.NullHandle, nil
	}
	if _, ok := d.modules[desc.Stage.Module]; !ok {
		return gpu.NullHandle, errors.Newf("unknown shader module %d", desc.Stage.Module)
	}
	id := gpu.PipelineID(d.id())
	d.computePipes[id] = desc
	return id, nil
}

// CreateGraphicsPipeline implements gpu.Device.
func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.PipelineID, error) {
	if err := d.call("CreateGraphicsPipeline"); err != nil {
		return gpu.NullHandle, err
	}
	if d.NullPipelines {
		return gpu.NullHandle, nil
	}
	if _, ok := d.renderPasses[desc.RenderPass]; !ok {
		return gpu.NullHandle, errors.Newf("unknown render pass %d", desc.RenderPass)
	}
	id := gpu.PipelineID(d.id())
	d.graphicsPipes[id] = desc
	return id, nil
}

// DestroyPipeline implements gpu.Device.
func (d *Device) DestroyPipeline(id gpu.PipelineID) {
	d.call("DestroyPipeline")
	delete(d.computePipes, id)
	delete(d.graphicsPipes, id)
}

// CreateRenderPass implements gpu.Device.
func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPassID, error) {
	if err := d.call("CreateRenderPass"); err != nil {
		return gpu.NullHandle, err
	}
	id := gpu.RenderPassID(d.id())
	d.renderPasses[id] = desc
	return id, nil
}

// DestroyRenderPass implements gpu.Device.
func (d *Device) DestroyRenderPass(id gpu.RenderPassID) {
	d.call("DestroyRenderPass")
	delete(d.renderPasses, id)
}

// CreateDescriptorPool implements gpu.Device.
func (d *Device) CreateDescriptorPool(maxSets uint32, storageBuffers uint32) (gpu.DescriptorPoolID, error) {
	if err := d.call("CreateDescriptorPool"); err != nil {
		return gpu.NullHandle, err
	}
	id := gpu.DescriptorPoolID(d.id())
	d.descriptorPools[id] = maxSets
	return id, nil
}

// DestroyDescriptorPool implements gpu.Device. Sets allocated from the pool
// are freed with it.
func (d *Device) DestroyDescriptorPool(id gpu.DescriptorPoolID) {
	d.call("DestroyDescriptorPool")
	for setID, set := range d.sets {
		if set.pool == id {
			delete(d.sets, setID)
		}
	}
	delete(d.descriptorPools, id)
}

// AllocateDescriptorSet implements gpu.Device.
func (d *Device) AllocateDescriptorSet(pool gpu.DescriptorPoolID, layout gpu.DescriptorSetLayoutID) (gpu.DescriptorSetID, error) {
	if err := d.call("AllocateDescriptorSet"); err != nil {
		return gpu.NullHandle, err
	}
	maxSets, ok := d.descriptorPools[pool]
	if !ok {
		return gpu.NullHandle, errors.Newf("unknown descriptor pool %d", pool)
	}
	allocated := uint32(0)
	for _, set := range d.sets {
		if set.pool == pool {
			allocated++
		}
	}
	if allocated >= maxSets {
		return gpu.NullHandle, errors.Newf("descriptor pool %d is exhausted", pool)
	}
	if _, ok := d.setLayouts[layout]; !ok {
		return gpu.NullHandle, errors.Newf("unknown descriptor set layout %d", layout)
	}
	id := gpu.DescriptorSetID(d.id())
	d.sets[id] = &setRecord{layout: layout, pool: pool, writes: make(map[uint32]gpu.DescriptorWrite)}
	return id, nil
}

// UpdateDescriptorSet implements gpu.Device. Writes to bindings the layout does
// not declare are violations.
func (d *Device) UpdateDescriptorSet(set gpu.DescriptorSetID, writes []gpu.DescriptorWrite) {
	d.call("UpdateDescriptorSet")
	rec, ok := d.sets[set]
	if !ok {
		d.violation("updating unknown descriptor set %d", set)
		return
	}
	declared := make(map[uint32]bool)
	for _, b := range d.setLayouts[rec.layout] {
		declared[b.Binding] = true
	}
	for _, w := range writes {
		if !declared[w.Binding] {
			d.violation("descriptor set %d has no binding %d", set, w.Binding)
			continue
		}
		rec.writes[w.Binding] = w
	}
}

// CreateCommandPool implements gpu.Device.
func (d *Device) CreateCommandPool(family uint32) (gpu.CommandPoolID, error) {
	if err := d.call("CreateCommandPool"); err != nil {
		return gpu.NullHandle, err
	}
	if int(family) >= len(d.physical.Families) {
		return gpu.NullHandle, errors.Newf("queue family %d does not exist", family)
	}
	id := gpu.CommandPoolID(d.id())
	d.commandPools[id] = family
	return id, nil
}

// DestroyCommandPool implements gpu.Device.
func (d *Device) DestroyCommandPool(id gpu.CommandPoolID) {
	d.call("DestroyCommandPool")
	for cbID, cb := range d.commandBuffers {
		if cb.pool != id {
			continue
		}
		if d.pending(cb) {
			d.violation("command pool %d destroyed while command buffer %d is pending", id, cbID)
		}
		delete(d.commandBuffers, cbID)
	}
	delete(d.commandPools, id)
}

// AllocateCommandBuffers implements gpu.Device.
func (d *Device) AllocateCommandBuffers(pool gpu.CommandPoolID, count uint32) ([]gpu.CommandBufferID, error) {
	if err := d.call("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	if _, ok := d.commandPools[pool]; !ok {
		return nil, errors.Newf("unknown command pool %d", pool)
	}
	cbs := make([]gpu.CommandBufferID, count)
	for i := range cbs {
		cbs[i] = gpu.CommandBufferID(d.id())
		d.commandBuffers[cbs[i]] = &commandBufferRecord{pool: pool}
	}
	return cbs, nil
}

// FreeCommandBuffers implements gpu.Device.
func (d *Device) FreeCommandBuffers(pool gpu.CommandPoolID, cbs []gpu.CommandBufferID) {
	d.call("FreeCommandBuffers")
	for _, id := range cbs {
		cb, ok := d.commandBuffers[id]
		if !ok || cb.pool != pool {
			d.violation("freeing command buffer %d not allocated from pool %d", id, pool)
			continue
		}
		if d.pending(cb) {
			d.violation("command buffer %d freed while pending", id)
		}
		delete(d.commandBuffers, id)
	}
}

func (d *Device) commandBuffer(id gpu.CommandBufferID) (*commandBufferRecord, error) {
	cb, ok := d.commandBuffers[id]
	if !ok {
		return nil, errors.Newf("unknown command buffer %d", id)
	}
	return cb, nil
}

// ResetCommandBuffer implements gpu.Device.
func (d *Device) ResetCommandBuffer(id gpu.CommandBufferID) error {
	if err := d.call("ResetCommandBuffer"); err != nil {
		return err
	}
	cb, err := d.commandBuffer(id)
	if err != nil {
		return err
	}
	if d.pending(cb) {
		d.violation("command buffer %d reset while pending", id)
	}
	cb.commands = nil
	cb.recording = false
	cb.consumed = false
	return nil
}

// BeginCommandBuffer implements gpu.Device. Beginning implicitly resets the
// buffer, as with pools created with the reset flag.
func (d *Device) BeginCommandBuffer(id gpu.CommandBufferID, oneTimeSubmit bool) error {
	if err := d.call("BeginCommandBuffer"); err != nil {
		return err
	}
	cb, err := d.commandBuffer(id)
	if err != nil {
		return err
	}
	if d.pending(cb) {
		d.violation("command buffer %d recorded while pending", id)
	}
	cb.commands = nil
	cb.recording = true
	cb.oneTime = oneTimeSubmit
	cb.consumed = false
	return nil
}

// EndCommandBuffer implements gpu.Device.
func (d *Device) EndCommandBuffer(id gpu.CommandBufferID) error {
	if err := d.call("EndCommandBuffer"); err != nil {
		return err
	}
	cb, err := d.commandBuffer(id)
	if err != nil {
		return err
	}
	if !cb.recording {
		return errors.Newf("command buffer %d is not recording", id)
	}
	cb.recording = false
	return nil
}

func (d *Device) record(id gpu.CommandBufferID, c Command) {
	cb, ok := d.commandBuffers[id]
	if !ok || !cb.recording {
		d.violation("%s recorded into command buffer %d which is not recording", c.Op, id)
		return
	}
	cb.commands = append(cb.commands, c)
}

// CmdBindPipeline implements gpu.Device.
func (d *Device) CmdBindPipeline(cb gpu.CommandBufferID, point gpu.BindPoint, pipeline gpu.PipelineID) {
	d.record(cb, Command{Op: OpBindPipeline, Point: point, Pipeline: pipeline})
}

// CmdBindDescriptorSets implements gpu.Device.
func (d *Device) CmdBindDescriptorSets(cb gpu.CommandBufferID, point gpu.BindPoint, layout gpu.PipelineLayoutID, sets []gpu.DescriptorSetID) {
	d.record(cb, Command{Op: OpBindDescriptorSets, Point: point, Layout: layout, Sets: sets})
}

// CmdDispatch implements gpu.Device.
func (d *Device) CmdDispatch(cb gpu.CommandBufferID, x, y, z uint32) {
	d.record(cb, Command{Op: OpDispatch, Dispatch: [3]uint32{x, y, z}})
}

// CmdBeginRenderPass implements gpu.Device.
func (d *Device) CmdBeginRenderPass(cb gpu.CommandBufferID, begin gpu.RenderPassBegin) {
	d.record(cb, Command{Op: OpBeginRenderPass, Begin: begin})
}

// CmdBindVertexBuffers implements gpu.Device.
func (d *Device) CmdBindVertexBuffers(cb gpu.CommandBufferID, first uint32, buffers []gpu.BufferID, offsets []uint64) {
	d.record(cb, Command{Op: OpBindVertexBuffers, Buffers: buffers, Offsets: offsets})
}

// CmdDraw implements gpu.Device.
func (d *Device) CmdDraw(cb gpu.CommandBufferID, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.record(cb, Command{Op: OpDraw, Draw: [4]uint32{vertexCount, instanceCount, firstVertex, firstInstance}})
}

// CmdEndRenderPass implements gpu.Device.
func (d *Device) CmdEndRenderPass(cb gpu.CommandBufferID) {
	d.record(cb, Command{Op: OpEndRenderPass})
}

// QueueSubmit implements gpu.Device. Work submitted with a fence completes when
// the fence is waited on, work without one completes immediately.
func (d *Device) QueueSubmit(queue gpu.QueueID, submit gpu.SubmitInfo, fence gpu.FenceID) error {
	if err := d.call("QueueSubmit"); err != nil {
		return err
	}
	family, ok := d.queues[queue]
	if !ok {
		return errors.Newf("unknown queue %d", queue)
	}
	if len(submit.Wait) != len(submit.WaitStages) {
		return errors.Newf("%d wait semaphores with %d wait stages", len(submit.Wait), len(submit.WaitStages))
	}

	s := &Submission{
		Queue:  queue,
		Family: family,
		Info:   submit,
		Fence:  fence,
		memory: make(map[gpu.MemoryID]bool),
	}

	for _, id := range submit.CommandBuffers {
		cb, err := d.commandBuffer(id)
		if err != nil {
			return err
		}
		if cb.recording {
			return errors.Newf("command buffer %d is still recording", id)
		}
		if cb.consumed {
			d.violation("one time command buffer %d submitted again", id)
		}
		if d.pending(cb) {
			d.violation("command buffer %d resubmitted while pending", id)
		}
		if pool := d.commandPools[cb.pool]; pool != family {
			d.violation("command buffer %d of family %d submitted to family %d", id, pool, family)
		}
		for mem := range d.referencedMemory(cb) {
			s.memory[mem] = true
		}
	}

	if fence != gpu.NullHandle {
		f, ok := d.fences[fence]
		if !ok {
			return errors.Newf("unknown fence %d", fence)
		}
		if f.signaled {
			d.violation("fence %d submitted while signaled", fence)
		}
		if len(f.pending) > 0 {
			d.violation("fence %d submitted while pending", fence)
		}
		f.pending = append(f.pending, s)
	}

	for _, id := range submit.CommandBuffers {
		cb := d.commandBuffers[id]
		cb.pending = append(cb.pending, s)
		if cb.oneTime {
			cb.consumed = true
		}
	}

	d.Submissions = append(d.Submissions, s)
	if fence == gpu.NullHandle {
		d.complete(s)
	}
	return nil
}

func (d *Device) referencedMemory(cb *commandBufferRecord) map[gpu.MemoryID]bool {
	out := make(map[gpu.MemoryID]bool)
	addBuffer := func(id gpu.BufferID) {
		if b, ok := d.buffers[id]; ok && b.memory != gpu.NullHandle {
			out[b.memory] = true
		}
	}
	for _, c := range cb.commands {
		switch c.Op {
		case OpBindDescriptorSets:
			for _, set := range c.Sets {
				if rec, ok := d.sets[set]; ok {
					for _, w := range rec.writes {
						addBuffer(w.Buffer)
					}
				}
			}
		case OpBindVertexBuffers:
			for _, b := range c.Buffers {
				addBuffer(b)
			}
		}
	}
	return out
}

// complete executes the command buffers of s and signals its fence.
func (d *Device) complete(s *Submission) {
	s.complete = true

	for _, id := range s.Info.CommandBuffers {
		cb, ok := d.commandBuffers[id]
		if !ok {
			continue
		}
		d.execute(cb)
		for i, p := range cb.pending {
			if p == s {
				cb.pending = append(cb.pending[:i], cb.pending[i+1:]...)
				break
			}
		}
	}

	if f, ok := d.fences[s.Fence]; ok {
		for i, p := range f.pending {
			if p == s {
				f.pending = append(f.pending[:i], f.pending[i+1:]...)
				break
			}
		}
		if len(f.pending) == 0 {
			f.signaled = true
		}
	}
}

func (d *Device) execute(cb *commandBufferRecord) {
	bound := make(map[gpu.BindPoint][]gpu.DescriptorSetID)
	for _, c := range cb.commands {
		switch c.Op {
		case OpBindDescriptorSets:
			bound[c.Point] = c.Sets
		case OpDispatch:
			d.Dispatches = append(d.Dispatches, c)
			if d.Kernel != nil {
				d.runKernel(bound[gpu.BindPointCompute])
			}
		case OpDraw:
			d.Draws = append(d.Draws, c)
		}
	}
}

func (d *Device) runKernel(sets []gpu.DescriptorSetID) {
	if len(sets) == 0 {
		d.violation("dispatch without a bound descriptor set")
		return
	}
	rec, ok := d.sets[sets[0]]
	if !ok {
		d.violation("dispatch with unknown descriptor set %d", sets[0])
		return
	}
	in, inOK := d.region(rec.writes[gpu.InputBinding])
	out, outOK := d.region(rec.writes[gpu.OutputBinding])
	if !inOK || !outOK {
		d.violation("dispatch with descriptor set %d missing its storage buffers", sets[0])
		return
	}
	d.Kernel(in, out)
}

func (d *Device) region(w gpu.DescriptorWrite) ([]byte, bool) {
	b, ok := d.buffers[w.Buffer]
	if !ok || b.memory == gpu.NullHandle {
		return nil, false
	}
	m := d.memory[b.memory]
	end := w.Offset + w.Range
	if end > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[w.Offset:end:end], true
}

func (d *Device) pending(cb *commandBufferRecord) bool {
	return len(cb.pending) > 0
}

func (d *Device) inUse(mem gpu.MemoryID) bool {
	for _, s := range d.Submissions {
		if !s.complete && s.memory[mem] {
			return true
		}
	}
	return false
}

// CreateFence implements gpu.Device.
func (d *Device) CreateFence(signaled bool) (gpu.FenceID, error) {
	if err := d.call("CreateFence"); err != nil {
		return gpu.NullHandle, err
	}
	id := gpu.FenceID(d.id())
	d.fences[id] = &fenceRecord{signaled: signaled}
	return id, nil
}

// DestroyFence implements gpu.Device.
func (d *Device) DestroyFence(id gpu.FenceID) {
	d.call("DestroyFence")
	if f, ok := d.fences[id]; ok && len(f.pending) > 0 {
		d.violation("fence %d destroyed while pending", id)
	}
	delete(d.fences, id)
}

// WaitForFences implements gpu.Device. Pending work of the fences completes
// unless the device hangs. A fence with nothing pending which is not signaled
// never will be, so ErrTimeout is returned.
func (d *Device) WaitForFences(fences []gpu.FenceID, timeout time.Duration) error {
	if err := d.call("WaitForFences"); err != nil {
		return err
	}
	for _, id := range fences {
		f, ok := d.fences[id]
		if !ok {
			return errors.Newf("unknown fence %d", id)
		}
		if f.signaled {
			continue
		}
		if len(f.pending) == 0 || d.Hang {
			return gpu.ErrTimeout
		}
		for len(f.pending) > 0 {
			d.complete(f.pending[0])
		}
	}
	return nil
}

// ResetFences implements gpu.Device.
func (d *Device) ResetFences(fences []gpu.FenceID) error {
	if err := d.call("ResetFences"); err != nil {
		return err
	}
	for _, id := range fences {
		f, ok := d.fences[id]
		if !ok {
			return errors.Newf("unknown fence %d", id)
		}
		if len(f.pending) > 0 {
			d.violation("fence %d reset while pending", id)
		}
		f.signaled = false
	}
	return nil
}

// CreateSemaphore implements gpu.Device.
func (d *Device) CreateSemaphore() (gpu.SemaphoreID, error) {
	if err := d.call("CreateSemaphore"); err != nil {
		return gpu.NullHandle, err
	}
	id := gpu.SemaphoreID(d.id())
	d.semaphores[id] = true
	return id, nil
}

// DestroySemaphore implements gpu.Device.
func (d *Device) DestroySemaphore(id gpu.SemaphoreID) {
	d.call("DestroySemaphore")
	delete(d.semaphores, id)
}

// CreateSwapchain implements gpu.Device.
func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	if err := d.call("CreateSwapchain"); err != nil {
		return nil, err
	}
	sc := &Swapchain{
		Desc:   desc,
		device: d,
		extent: d.SwapchainExtent,
		images: d.SwapchainImages,
	}
	d.Swapchains = append(d.Swapchains, sc)
	return sc, nil
}

// LastSwapchain returns the most recently created swapchain.
func (d *Device) LastSwapchain() *Swapchain {
	if len(d.Swapchains) == 0 {
		return nil
	}
	return d.Swapchains[len(d.Swapchains)-1]
}
