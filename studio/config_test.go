package studio

import (
	"testing"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"

	"vulkan-compute-studio/gpu"
)

func TestDefaultConfig(t *testing.T) {
	g := NewWithT(t)

	cfg := DefaultConfig()
	g.Expect(cfg.Validate()).To(Succeed())
	g.Expect(cfg.FramesInFlight).To(Equal(2))
	g.Expect(cfg.Feedback).To(BeFalse())
	g.Expect(cfg.ClearColor).To(Equal([4]float32{0, 0, 0.4, 1}))
}

func TestConfigValidate(t *testing.T) {
	g := NewWithT(t)

	cfg := DefaultConfig()
	cfg.FramesInFlight = 0
	g.Expect(cfg.Validate()).NotTo(Succeed())

	cfg = DefaultConfig()
	cfg.FenceTimeout = -time.Second
	g.Expect(cfg.Validate()).NotTo(Succeed())
}

func TestLoadProgramsMissingFile(t *testing.T) {
	g := NewWithT(t)

	cfg := DefaultConfig()
	cfg.ComputeShader = "does/not/exist.spv"

	_, err := LoadPrograms(cfg)
	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.Is(err, gpu.ErrIO)).To(BeTrue())
	g.Expect(err.Error()).To(ContainSubstring("does/not/exist.spv"))
}

func TestVertexLayout(t *testing.T) {
	g := NewWithT(t)

	g.Expect(GetVertexSize()).To(Equal(uint32(24)))
	g.Expect(unsafe.Sizeof(Triangle[0])).To(Equal(uintptr(24)))

	binding := GetVertexBindingDescription()
	g.Expect(binding).To(Equal(gpu.VertexBinding{Binding: 0, Stride: 24}))

	g.Expect(GetVertexAttributeDescriptions()).To(Equal([]gpu.VertexAttribute{
		{Location: 0, Binding: 0, Format: gpu.VertexFloat32x3, Offset: 0},
		{Location: 1, Binding: 0, Format: gpu.VertexFloat32x3, Offset: 12},
	}))
}
