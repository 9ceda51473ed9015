package queues

import (
	"github.com/cockroachdb/errors"

	"vulkan-compute-studio/optional"
)

// Flags describes the capabilities of a queue family.
type Flags uint32

// Queue family capabilities.
const (
	Graphics Flags = 1 << iota
	Compute
	Transfer
)

// Family is the part of the queue family properties the programs care about.
type Family struct {
	Flags Flags
	Count uint32
}

// Errors returned by FamilyIndices.Validate.
var (
	ErrNoComputeFamily  = errors.New("no queue family supports compute")
	ErrNoGraphicsFamily = errors.New("no queue family supports graphics")
	ErrNoPresentFamily  = errors.New("no queue family supports presenting to the surface")
)

// FamilyIndices holds the indexes of Vulkan queue families needed by the programs.
type FamilyIndices struct {

	// Compute is the index of the first queue family with compute support.
	Compute optional.Optional[uint32]

	// Graphics is the index of the graphics queue family.
	Graphics optional.Optional[uint32]

	// Present is the index of the queue family used for presenting to the drawing
	// surface.
	Present optional.Optional[uint32]
}

// IsComplete returns true if all families have been set.
func (f *FamilyIndices) IsComplete() bool {
	return f.Compute.HasValue() && f.Graphics.HasValue() && f.Present.HasValue()
}

// Validate checks that every family the program needs was found. Presentation
// is only required when withPresent is true, the headless compute program
// never creates a surface.
func (f *FamilyIndices) Validate(withPresent bool) error {
	if !f.Compute.HasValue() {
		return ErrNoComputeFamily
	}
	if !withPresent {
		return nil
	}
	if !f.Graphics.HasValue() {
		return ErrNoGraphicsFamily
	}
	if !f.Present.HasValue() {
		return ErrNoPresentFamily
	}
	return nil
}

// Unique returns the distinct family indexes which are set, in the order
// compute, graphics, present.
func (f *FamilyIndices) Unique() []uint32 {
	var out []uint32
	for _, o := range []optional.Optional[uint32]{f.Compute, f.Graphics, f.Present} {
		idx, ok := o.Lookup()
		if !ok {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == idx {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, idx)
		}
	}
	return out
}

// PresentSupport reports whether queue family i can present to the surface.
type PresentSupport func(i uint32) (bool, error)

// Find locates the first compute family, the first graphics family and a
// presentation family. The graphics family is preferred for presentation when it
// can present, otherwise the first family which can present is used. A nil
// canPresent means there is no surface and Present is left empty.
func Find(families []Family, canPresent PresentSupport) (FamilyIndices, error) {
	indices := FamilyIndices{}

	for i, family := range families {
		idx := uint32(i)
		if !indices.Compute.HasValue() && family.Flags&Compute != 0 {
			indices.Compute.Set(idx)
		}
		if !indices.Graphics.HasValue() && family.Flags&Graphics != 0 {
			indices.Graphics.Set(idx)
		}
	}

	if canPresent == nil {
		return indices, nil
	}

	if graphics, ok := indices.Graphics.Lookup(); ok {
		hasPresent, err := canPresent(graphics)
		if err != nil {
			return indices, errors.Wrapf(err, "querying surface support for queue family %d", graphics)
		}
		if hasPresent {
			indices.Present.Set(graphics)
			return indices, nil
		}
	}

	for i := range families {
		hasPresent, err := canPresent(uint32(i))
		if err != nil {
			return indices, errors.Wrapf(err, "querying surface support for queue family %d", i)
		}
		if hasPresent {
			indices.Present.Set(uint32(i))
			break
		}
	}

	return indices, nil
}
