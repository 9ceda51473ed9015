package shaders

import (
	"cmp"
	"slices"

	"github.com/cockroachdb/errors"
)

// SPIR-V opcodes, decorations and storage classes read by StorageBindings.
const (
	opTypeArray        = 28
	opTypeRuntimeArray = 29
	opTypeStruct       = 30
	opTypePointer      = 32
	opConstant         = 43
	opVariable         = 59
	opDecorate         = 71

	decorationBufferBlock   = 3
	decorationArrayStride   = 6
	decorationBinding       = 33
	decorationDescriptorSet = 34

	storageClassUniform       = 2
	storageClassStorageBuffer = 12

	headerWords = 5
)

// ErrRegionMismatch is returned when a buffer region does not match the array
// a storage binding declares.
var ErrRegionMismatch = errors.New("buffer region does not match the storage binding")

// StorageBinding is a storage buffer variable of a shader whose block is a
// single array.
type StorageBinding struct {
	Set     uint32
	Binding uint32

	// Stride is the distance between elements in bytes, zero when the
	// module does not decorate it.
	Stride uint32

	// Length is the declared element count, zero for runtime sized arrays.
	Length uint32
}

// RuntimeSized reports whether the array takes its length from the bound
// region.
func (b StorageBinding) RuntimeSized() bool {
	return b.Length == 0
}

// Fits reports whether a region of size bytes matches the array. A runtime
// sized array fits any whole number of elements, a fixed one only its exact
// size.
func (b StorageBinding) Fits(size uint64) bool {
	if b.Stride == 0 {
		return true
	}
	if b.RuntimeSized() {
		return size > 0 && size%uint64(b.Stride) == 0
	}
	return uint64(b.Length)*uint64(b.Stride) == size
}

type arrayType struct {
	lengthID uint32
	runtime  bool
}

type pointerType struct {
	pointee uint32
}

type variable struct {
	id      uint32
	typeID  uint32
	storage uint32
}

// StorageBindings lists the storage buffer bindings of code, ordered by set
// and binding. Blocks holding anything but one array are not listed.
func StorageBindings(code []uint32) ([]StorageBinding, error) {
	if len(code) < headerWords || code[0] != Magic {
		return nil, errors.Wrap(ErrNotSPIRV, "missing module header")
	}

	var (
		bindings    = make(map[uint32]uint32)
		sets        = make(map[uint32]uint32)
		strides     = make(map[uint32]uint32)
		bufferBlock = make(map[uint32]bool)
		constants   = make(map[uint32]uint32)
		arrays      = make(map[uint32]arrayType)
		structs     = make(map[uint32][]uint32)
		pointers    = make(map[uint32]pointerType)
		variables   []variable
	)

	for i := headerWords; i < len(code); {
		count := int(code[i] >> 16)
		op := code[i] & 0xffff
		if count == 0 || i+count > len(code) {
			return nil, errors.Wrapf(ErrNotSPIRV, "truncated instruction at word %d", i)
		}
		operands := code[i+1 : i+count]
		i += count

		switch op {
		case opDecorate:
			if len(operands) < 2 {
				continue
			}
			target, decoration := operands[0], operands[1]
			switch {
			case decoration == decorationBufferBlock:
				bufferBlock[target] = true
			case len(operands) < 3:
			case decoration == decorationBinding:
				bindings[target] = operands[2]
			case decoration == decorationDescriptorSet:
				sets[target] = operands[2]
			case decoration == decorationArrayStride:
				strides[target] = operands[2]
			}
		case opConstant:
			if len(operands) >= 3 {
				constants[operands[1]] = operands[2]
			}
		case opTypeArray:
			if len(operands) >= 3 {
				arrays[operands[0]] = arrayType{lengthID: operands[2]}
			}
		case opTypeRuntimeArray:
			if len(operands) >= 2 {
				arrays[operands[0]] = arrayType{runtime: true}
			}
		case opTypeStruct:
			if len(operands) >= 1 {
				structs[operands[0]] = operands[1:]
			}
		case opTypePointer:
			if len(operands) >= 3 {
				pointers[operands[0]] = pointerType{pointee: operands[2]}
			}
		case opVariable:
			if len(operands) >= 3 {
				variables = append(variables, variable{typeID: operands[0], id: operands[1], storage: operands[2]})
			}
		}
	}

	var out []StorageBinding
	for _, v := range variables {
		binding, ok := bindings[v.id]
		if !ok {
			continue
		}
		ptr, ok := pointers[v.typeID]
		if !ok {
			continue
		}
		storage := v.storage == storageClassStorageBuffer ||
			(v.storage == storageClassUniform && bufferBlock[ptr.pointee])
		if !storage {
			continue
		}

		arrayID := ptr.pointee
		if members, ok := structs[arrayID]; ok {
			if len(members) != 1 {
				continue
			}
			arrayID = members[0]
		}
		arr, ok := arrays[arrayID]
		if !ok {
			continue
		}

		b := StorageBinding{
			Set:     sets[v.id],
			Binding: binding,
			Stride:  strides[arrayID],
		}
		if !arr.runtime {
			length, ok := constants[arr.lengthID]
			if !ok || length == 0 {
				continue
			}
			b.Length = length
		}
		out = append(out, b)
	}

	slices.SortFunc(out, func(a, b StorageBinding) int {
		if c := cmp.Compare(a.Set, b.Set); c != 0 {
			return c
		}
		return cmp.Compare(a.Binding, b.Binding)
	})
	return out, nil
}

// CheckStorageRegion checks that every storage binding of code matches a
// region of size bytes.
func CheckStorageRegion(code []uint32, size uint64) error {
	bindings, err := StorageBindings(code)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if b.Fits(size) {
			continue
		}
		if b.RuntimeSized() {
			return errors.Wrapf(ErrRegionMismatch,
				"binding %d: %d bytes is not a whole number of %d byte elements",
				b.Binding, size, b.Stride)
		}
		return errors.Wrapf(ErrRegionMismatch,
			"binding %d: %d byte region for an array of %d elements of %d bytes",
			b.Binding, size, b.Length, b.Stride)
	}
	return nil
}
