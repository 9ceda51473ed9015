package vkdriver

import (
	"math"
	"testing"

	. "github.com/onsi/gomega"
	vk "github.com/vulkan-go/vulkan"
)

func TestChooseSwapSurfaceFormat(t *testing.T) {
	g := NewWithT(t)

	preferred := vk.SurfaceFormat{
		Format:     vk.FormatB8g8r8a8Srgb,
		ColorSpace: vk.ColorSpaceSrgbNonlinear,
	}
	other := vk.SurfaceFormat{
		Format:     vk.FormatR8g8b8a8Unorm,
		ColorSpace: vk.ColorSpaceSrgbNonlinear,
	}

	g.Expect(chooseSwapSurfaceFormat([]vk.SurfaceFormat{other, preferred})).To(Equal(preferred))
	g.Expect(chooseSwapSurfaceFormat([]vk.SurfaceFormat{other})).To(Equal(other))
}

func TestChooseSwapPresentMode(t *testing.T) {
	g := NewWithT(t)

	g.Expect(chooseSwapPresentMode([]vk.PresentMode{
		vk.PresentModeImmediate, vk.PresentModeMailbox,
	})).To(Equal(vk.PresentModeMailbox))
	g.Expect(chooseSwapPresentMode([]vk.PresentMode{
		vk.PresentModeImmediate,
	})).To(Equal(vk.PresentModeFifo))
}

func TestChooseSwapExtend(t *testing.T) {
	g := NewWithT(t)

	capabilities := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: 800, Height: 600},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 4096, Height: 4096},
	}
	g.Expect(chooseSwapExtend(capabilities, 1024, 768)).To(Equal(vk.Extent2D{Width: 800, Height: 600}))

	capabilities.CurrentExtent = vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	g.Expect(chooseSwapExtend(capabilities, 1024, 768)).To(Equal(vk.Extent2D{Width: 1024, Height: 768}))
	g.Expect(chooseSwapExtend(capabilities, 9000, 0)).To(Equal(vk.Extent2D{Width: 4096, Height: 1}))
	g.Expect(chooseSwapExtend(capabilities, -5, 20)).To(Equal(vk.Extent2D{Width: 1, Height: 20}))
}

func TestClamp(t *testing.T) {
	g := NewWithT(t)

	g.Expect(clamp(5, 1, 10)).To(Equal(5))
	g.Expect(clamp(-1, 1, 10)).To(Equal(1))
	g.Expect(clamp(11, 1, 10)).To(Equal(10))
}
