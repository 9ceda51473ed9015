package vkdriver

import (
	"math"
	"time"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-compute-studio/gpu"
	"vulkan-compute-studio/queues"
)

func bufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u&gpu.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u&gpu.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	if u&gpu.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u&gpu.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	return vk.BufferUsageFlags(flags)
}

func memoryProperties(f vk.MemoryPropertyFlags) gpu.MemoryProperty {
	var props gpu.MemoryProperty
	if f&vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit) != 0 {
		props |= gpu.MemoryDeviceLocal
	}
	if f&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0 {
		props |= gpu.MemoryHostVisible
	}
	if f&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0 {
		props |= gpu.MemoryHostCoherent
	}
	if f&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit) != 0 {
		props |= gpu.MemoryHostCached
	}
	return props
}

func queueFlags(f vk.QueueFlags) queues.Flags {
	var flags queues.Flags
	if f&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
		flags |= queues.Graphics
	}
	if f&vk.QueueFlags(vk.QueueComputeBit) != 0 {
		flags |= queues.Compute
	}
	if f&vk.QueueFlags(vk.QueueTransferBit) != 0 {
		flags |= queues.Transfer
	}
	return flags
}

func shaderStageBits(s gpu.ShaderStage) vk.ShaderStageFlagBits {
	var bits vk.ShaderStageFlagBits
	if s&gpu.StageVertex != 0 {
		bits |= vk.ShaderStageVertexBit
	}
	if s&gpu.StageFragment != 0 {
		bits |= vk.ShaderStageFragmentBit
	}
	if s&gpu.StageCompute != 0 {
		bits |= vk.ShaderStageComputeBit
	}
	return bits
}

func pipelineStages(s gpu.PipelineStage) vk.PipelineStageFlags {
	var bits vk.PipelineStageFlagBits
	if s&gpu.PipelineStageTopOfPipe != 0 {
		bits |= vk.PipelineStageTopOfPipeBit
	}
	if s&gpu.PipelineStageComputeShader != 0 {
		bits |= vk.PipelineStageComputeShaderBit
	}
	if s&gpu.PipelineStageColorAttachmentOutput != 0 {
		bits |= vk.PipelineStageColorAttachmentOutputBit
	}
	if s&gpu.PipelineStageBottomOfPipe != 0 {
		bits |= vk.PipelineStageBottomOfPipeBit
	}
	if s&gpu.PipelineStageAllCommands != 0 {
		bits |= vk.PipelineStageAllCommandsBit
	}
	return vk.PipelineStageFlags(bits)
}

func accessFlags(a gpu.Access) vk.AccessFlags {
	var bits vk.AccessFlagBits
	if a&gpu.AccessColorAttachmentRead != 0 {
		bits |= vk.AccessColorAttachmentReadBit
	}
	if a&gpu.AccessColorAttachmentWrite != 0 {
		bits |= vk.AccessColorAttachmentWriteBit
	}
	if a&gpu.AccessMemoryRead != 0 {
		bits |= vk.AccessMemoryReadBit
	}
	if a&gpu.AccessMemoryWrite != 0 {
		bits |= vk.AccessMemoryWriteBit
	}
	return vk.AccessFlags(bits)
}

func bindPoint(p gpu.BindPoint) vk.PipelineBindPoint {
	if p == gpu.BindPointCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

func descriptorType(gpu.DescriptorType) vk.DescriptorType {
	return vk.DescriptorTypeStorageBuffer
}

func imageLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func loadOp(op gpu.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gpu.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case gpu.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpLoad
}

func storeOp(op gpu.StoreOp) vk.AttachmentStoreOp {
	if op == gpu.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func polygonMode(m gpu.PolygonMode) vk.PolygonMode {
	if m == gpu.PolygonLine {
		return vk.PolygonModeLine
	}
	return vk.PolygonModeFill
}

func cullMode(m gpu.CullMode) vk.CullModeFlags {
	switch m {
	case gpu.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	case gpu.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func frontFace(f gpu.FrontFace) vk.FrontFace {
	if f == gpu.FrontFaceClockwise {
		return vk.FrontFaceClockwise
	}
	return vk.FrontFaceCounterClockwise
}

func blendFactor(f gpu.BlendFactor) vk.BlendFactor {
	switch f {
	case gpu.BlendOne:
		return vk.BlendFactorOne
	case gpu.BlendSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case gpu.BlendOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	}
	return vk.BlendFactorZero
}

func vertexFormat(gpu.VertexFormat) vk.Format {
	return vk.FormatR32g32b32Sfloat
}

func topology(gpu.Topology) vk.PrimitiveTopology {
	return vk.PrimitiveTopologyTriangleList
}

func extent(e gpu.Extent2D) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

// timeoutNanos converts a Go duration to a Vulkan timeout. Negative and
// unbounded durations wait forever.
func timeoutNanos(d time.Duration) uint64 {
	if d < 0 || d == gpu.Infinite {
		return math.MaxUint64
	}
	return uint64(d)
}

// cString terminates s with a NUL byte the way the Vulkan bindings expect.
func cString(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}

func cStrings(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = cString(s)
	}
	return out
}
