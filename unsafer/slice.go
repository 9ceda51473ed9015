// Package unsafer holds the few places where the programs reinterpret memory:
// typed slices viewed as bytes for copying into mapped buffers and SPIR-V byte
// code repacked into 32 bit words.
package unsafer

import (
	"encoding/binary"
	"unsafe"
)

// SliceToBytes interprets an arbitrary input slice as a byte slice.
//
// Note that the returned slice points to the same underlying data in memory. It
// does not make a copy.
func SliceToBytes[T any](input []T) []byte {
	if len(input) == 0 {
		return nil
	}
	size := int(unsafe.Sizeof(input[0])) * len(input)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(input))), size)
}

// BytesToSlice copies data into a newly allocated slice of T. Trailing bytes
// which do not form a whole T are ignored.
func BytesToSlice[T any](data []byte) []T {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	if elemSize == 0 {
		return nil
	}

	out := make([]T, len(data)/elemSize)
	copy(SliceToBytes(out), data)
	return out
}

// RepackUint32 converts little-endian byte code into 32 bit words. The length
// of code must be a multiple of four.
func RepackUint32(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}
