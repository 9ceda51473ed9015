package vkdriver

import (
	"math"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/queues"
)

func TestBufferUsage(t *testing.T) {
	g := NewWithT(t)

	g.Expect(bufferUsage(gpu.BufferUsageStorage | gpu.BufferUsageVertex)).To(Equal(
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageVertexBufferBit),
	))
	g.Expect(bufferUsage(gpu.BufferUsageTransferSrc | gpu.BufferUsageTransferDst)).To(Equal(
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit),
	))
	g.Expect(bufferUsage(0)).To(BeZero())
}

func TestMemoryProperties(t *testing.T) {
	g := NewWithT(t)

	flags := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	g.Expect(memoryProperties(flags)).To(Equal(gpu.MemoryHostVisible | gpu.MemoryHostCoherent))

	flags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit | vk.MemoryPropertyHostCachedBit)
	g.Expect(memoryProperties(flags)).To(Equal(gpu.MemoryDeviceLocal | gpu.MemoryHostCached))
}

func TestQueueFlags(t *testing.T) {
	g := NewWithT(t)

	flags := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit)
	g.Expect(queueFlags(flags)).To(Equal(queues.Graphics | queues.Compute | queues.Transfer))
	g.Expect(queueFlags(vk.QueueFlags(vk.QueueSparseBindingBit))).To(BeZero())
}

func TestShaderStages(t *testing.T) {
	g := NewWithT(t)

	g.Expect(shaderStageBits(gpu.StageCompute)).To(Equal(vk.ShaderStageComputeBit))
	g.Expect(shaderStageBits(gpu.StageVertex | gpu.StageFragment)).To(Equal(
		vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit,
	))
}

func TestPipelineStagesAndAccess(t *testing.T) {
	g := NewWithT(t)

	g.Expect(pipelineStages(gpu.PipelineStageColorAttachmentOutput)).To(Equal(
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
	))
	g.Expect(pipelineStages(gpu.PipelineStageTopOfPipe | gpu.PipelineStageComputeShader)).To(Equal(
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit | vk.PipelineStageComputeShaderBit),
	))
	g.Expect(accessFlags(gpu.AccessColorAttachmentRead | gpu.AccessColorAttachmentWrite)).To(Equal(
		vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	))
	g.Expect(accessFlags(0)).To(BeZero())
}

func TestRenderPassEnums(t *testing.T) {
	g := NewWithT(t)

	g.Expect(imageLayout(gpu.LayoutUndefined)).To(Equal(vk.ImageLayoutUndefined))
	g.Expect(imageLayout(gpu.LayoutColorAttachment)).To(Equal(vk.ImageLayoutColorAttachmentOptimal))
	g.Expect(imageLayout(gpu.LayoutPresentSrc)).To(Equal(vk.ImageLayoutPresentSrc))

	g.Expect(loadOp(gpu.LoadOpClear)).To(Equal(vk.AttachmentLoadOpClear))
	g.Expect(loadOp(gpu.LoadOpLoad)).To(Equal(vk.AttachmentLoadOpLoad))
	g.Expect(loadOp(gpu.LoadOpDontCare)).To(Equal(vk.AttachmentLoadOpDontCare))
	g.Expect(storeOp(gpu.StoreOpStore)).To(Equal(vk.AttachmentStoreOpStore))
	g.Expect(storeOp(gpu.StoreOpDontCare)).To(Equal(vk.AttachmentStoreOpDontCare))

	g.Expect(uint32(gpu.SubpassExternal)).To(Equal(uint32(vk.SubpassExternal)))
}

func TestRasterEnums(t *testing.T) {
	g := NewWithT(t)

	g.Expect(polygonMode(gpu.PolygonFill)).To(Equal(vk.PolygonModeFill))
	g.Expect(polygonMode(gpu.PolygonLine)).To(Equal(vk.PolygonModeLine))
	g.Expect(cullMode(gpu.CullBack)).To(Equal(vk.CullModeFlags(vk.CullModeBackBit)))
	g.Expect(cullMode(gpu.CullNone)).To(BeZero())
	g.Expect(frontFace(gpu.FrontFaceClockwise)).To(Equal(vk.FrontFaceClockwise))
	g.Expect(frontFace(gpu.FrontFaceCounterClockwise)).To(Equal(vk.FrontFaceCounterClockwise))
	g.Expect(blendFactor(gpu.BlendSrcAlpha)).To(Equal(vk.BlendFactorSrcAlpha))
	g.Expect(blendFactor(gpu.BlendOneMinusSrcAlpha)).To(Equal(vk.BlendFactorOneMinusSrcAlpha))
	g.Expect(vertexFormat(gpu.VertexFloat32x3)).To(Equal(vk.FormatR32g32b32Sfloat))
	g.Expect(bindPoint(gpu.BindPointCompute)).To(Equal(vk.PipelineBindPointCompute))
	g.Expect(bindPoint(gpu.BindPointGraphics)).To(Equal(vk.PipelineBindPointGraphics))
}

func TestTimeoutNanos(t *testing.T) {
	g := NewWithT(t)

	g.Expect(timeoutNanos(time.Second)).To(Equal(uint64(1e9)))
	g.Expect(timeoutNanos(gpu.Infinite)).To(Equal(uint64(math.MaxUint64)))
	g.Expect(timeoutNanos(-1)).To(Equal(uint64(math.MaxUint64)))
	g.Expect(timeoutNanos(0)).To(BeZero())
}

func TestCString(t *testing.T) {
	g := NewWithT(t)

	g.Expect(cString("main")).To(Equal("main\x00"))
	g.Expect(cString("main\x00")).To(Equal("main\x00"))
	g.Expect(cStrings([]string{SwapchainExtension})).To(Equal([]string{"VK_KHR_swapchain\x00"}))
}
