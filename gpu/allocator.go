package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// HostMemory is the memory type the allocator looks for. Coherency is never
// assumed, it must be advertised by the memory type.
const HostMemory = MemoryHostVisible | MemoryHostCoherent

// Buffer is a device buffer together with the memory backing it.
type Buffer struct {
	ID     BufferID
	Memory MemoryID
	Size   uint64
	Usage  BufferUsage
}

// Bound reports whether memory has been bound to the buffer.
func (b *Buffer) Bound() bool {
	return b.Memory != NullHandle
}

// Allocator creates buffers in host visible, host coherent memory.
type Allocator struct {
	ctx *Context
}

// NewAllocator returns an allocator for the device of ctx.
func NewAllocator(ctx *Context) *Allocator {
	return &Allocator{ctx: ctx}
}

// CreateBuffer creates a buffer of size bytes. Memory is not yet bound.
func (a *Allocator) CreateBuffer(size uint64, usage BufferUsage) (*Buffer, error) {
	if size == 0 {
		return nil, errors.Mark(errors.New("cannot create an empty buffer"), ErrResourceCreation)
	}

	id, err := a.ctx.Device.CreateBuffer(BufferDesc{
		Size:            size,
		Usage:           usage,
		SharingFamilies: a.ctx.SharingFamilies(),
	})
	if err != nil {
		return nil, creationError(err, "failed to create buffer")
	}

	return &Buffer{ID: id, Size: size, Usage: usage}, nil
}

// AllocateAndBind allocates host visible and coherent memory for b and binds it
// at offset 0.
func (a *Allocator) AllocateAndBind(b *Buffer) error {
	if b.Bound() {
		return ErrAlreadyBound
	}

	dev := a.ctx.Device
	req := dev.BufferMemoryRequirements(b.ID)

	memType, err := a.FindMemoryType(req.TypeBits, HostMemory)
	if err != nil {
		return err
	}

	mem, err := dev.AllocateMemory(req.Size, memType)
	if err != nil {
		return creationError(err, "failed to allocate buffer memory")
	}

	if err := dev.BindBufferMemory(b.ID, mem, 0); err != nil {
		dev.FreeMemory(mem)
		return creationError(err, "failed to bind buffer memory")
	}

	b.Memory = mem
	return nil
}

// NewBuffer creates a buffer and binds memory to it.
func (a *Allocator) NewBuffer(size uint64, usage BufferUsage) (*Buffer, error) {
	b, err := a.CreateBuffer(size, usage)
	if err != nil {
		return nil, err
	}
	if err := a.AllocateAndBind(b); err != nil {
		a.ctx.Device.DestroyBuffer(b.ID)
		return nil, err
	}
	return b, nil
}

// FindMemoryType scans the memory types of the physical device for the first one
// allowed by typeFilter which has all the properties.
func (a *Allocator) FindMemoryType(typeFilter uint32, properties MemoryProperty) (uint32, error) {
	for i, memType := range a.ctx.Physical.MemoryTypes() {
		if i >= 32 || typeFilter&(1<<uint(i)) == 0 {
			continue
		}

		if memType.Flags&properties != properties {
			continue
		}

		a.ctx.Log.WithFields(logrus.Fields{
			"memoryType": i,
			"heapSizeGB": memType.HeapSize / 1024 / 1024 / 1024,
		}).Debug("selected memory type")

		return uint32(i), nil
	}

	return 0, capabilityError(ErrNoMemoryType)
}

// WithMappedMemory maps the memory of b and calls fn with it. The memory is
// unmapped when fn returns, on every path, and the Mapping stops working.
func (a *Allocator) WithMappedMemory(b *Buffer, fn func(m *Mapping) error) (err error) {
	if !b.Bound() {
		return ErrNotBound
	}

	data, err := a.ctx.Device.MapMemory(b.Memory, 0, b.Size)
	if err != nil {
		return errors.Wrap(err, "failed to map buffer memory")
	}

	m := &Mapping{data: data}
	defer func() {
		m.close()
		a.ctx.Device.UnmapMemory(b.Memory)
	}()

	return fn(m)
}

// Write replaces the whole content of b with data. The length of data must equal
// the size of the buffer.
func (a *Allocator) Write(b *Buffer, data []byte) error {
	if uint64(len(data)) != b.Size {
		return errors.Wrapf(ErrOutOfRange, "writing %d bytes into a %d byte buffer", len(data), b.Size)
	}
	return a.WithMappedMemory(b, func(m *Mapping) error {
		return m.Write(0, data)
	})
}

// Read returns a copy of the content of b.
func (a *Allocator) Read(b *Buffer) ([]byte, error) {
	out := make([]byte, b.Size)
	err := a.WithMappedMemory(b, func(m *Mapping) error {
		return m.Read(0, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Copy copies src into dst on the host. The buffers must have the same size.
// The caller has to make sure the device is not using either buffer.
func (a *Allocator) Copy(dst, src *Buffer) error {
	if dst.Size != src.Size {
		return errors.Wrapf(ErrOutOfRange, "copying a %d byte buffer into a %d byte buffer", src.Size, dst.Size)
	}
	return a.WithMappedMemory(src, func(from *Mapping) error {
		return a.WithMappedMemory(dst, func(to *Mapping) error {
			return to.CopyFrom(from)
		})
	})
}

// Destroy releases the buffer and its memory.
func (a *Allocator) Destroy(b *Buffer) {
	if b == nil {
		return
	}
	if b.ID != NullHandle {
		a.ctx.Device.DestroyBuffer(b.ID)
		b.ID = NullHandle
	}
	if b.Memory != NullHandle {
		a.ctx.Device.FreeMemory(b.Memory)
		b.Memory = NullHandle
	}
}

// Mapping is host access to the memory of a buffer during WithMappedMemory.
type Mapping struct {
	data   []byte
	closed bool
}

// Len returns the number of mapped bytes.
func (m *Mapping) Len() int {
	return len(m.data)
}

// Write copies src into the mapping starting at offset.
func (m *Mapping) Write(offset int, src []byte) error {
	if m.closed {
		return ErrMappingClosed
	}
	if offset < 0 || offset+len(src) > len(m.data) {
		return errors.Wrapf(ErrOutOfRange, "writing %d bytes at offset %d of %d", len(src), offset, len(m.data))
	}
	copy(m.data[offset:], src)
	return nil
}

// Read copies len(dst) bytes starting at offset into dst.
func (m *Mapping) Read(offset int, dst []byte) error {
	if m.closed {
		return ErrMappingClosed
	}
	if offset < 0 || offset+len(dst) > len(m.data) {
		return errors.Wrapf(ErrOutOfRange, "reading %d bytes at offset %d of %d", len(dst), offset, len(m.data))
	}
	copy(dst, m.data[offset:])
	return nil
}

// CopyFrom copies the whole content of another mapping of the same length.
func (m *Mapping) CopyFrom(src *Mapping) error {
	if m.closed || src.closed {
		return ErrMappingClosed
	}
	if len(src.data) != len(m.data) {
		return errors.Wrapf(ErrOutOfRange, "copying %d bytes into %d", len(src.data), len(m.data))
	}
	copy(m.data, src.data)
	return nil
}

func (m *Mapping) close() {
	m.closed = true
	m.data = nil
}
