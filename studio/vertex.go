package studio

import (
	"unsafe"

	"github.com/xlab/linmath"

	"vulkan-compute-studio/gpu"
)

// Vertex is one triangle vertex as the vertex shader reads it and the compute
// shader rewrites it.
type Vertex struct {
	Pos   linmath.Vec3
	Color linmath.Vec3
}

// Triangle is the fixed vertex set drawn every frame.
var Triangle = []Vertex{
	{Pos: linmath.Vec3{0, -0.4, 0}, Color: linmath.Vec3{1, 0, 0}},
	{Pos: linmath.Vec3{0.4, 0.4, 0}, Color: linmath.Vec3{0, 1, 0}},
	{Pos: linmath.Vec3{-0.4, 0.4, 0}, Color: linmath.Vec3{0, 0, 1}},
}

// GetVertexSize returns the size of one Vertex in bytes.
func GetVertexSize() uint32 {
	return uint32(unsafe.Sizeof(Vertex{}))
}

// GetVertexBindingDescription describes the per-vertex binding 0 the vertex
// buffer is bound to.
func GetVertexBindingDescription() gpu.VertexBinding {
	return gpu.VertexBinding{
		Binding: 0,
		Stride:  GetVertexSize(),
	}
}

// GetVertexAttributeDescriptions returns the position at location 0 and the
// color at location 1.
func GetVertexAttributeDescriptions() []gpu.VertexAttribute {
	return []gpu.VertexAttribute{
		{
			Binding:  0,
			Location: 0,
			Format:   gpu.VertexFloat32x3,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Pos)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   gpu.VertexFloat32x3,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Color)),
		},
	}
}
