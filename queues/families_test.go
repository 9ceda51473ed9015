package queues

import (
	"errors"
	"testing"

	. "github.com/onsi/gomega"
)

func presentOn(families ...uint32) PresentSupport {
	return func(i uint32) (bool, error) {
		for _, f := range families {
			if f == i {
				return true, nil
			}
		}
		return false, nil
	}
}

func TestFindSharedFamily(t *testing.T) {
	g := NewWithT(t)

	indices, err := Find([]Family{
		{Flags: Graphics | Compute | Transfer, Count: 16},
	}, presentOn(0))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(indices.IsComplete()).To(BeTrue())
	g.Expect(indices.Validate(true)).To(Succeed())
	g.Expect(indices.Unique()).To(Equal([]uint32{0}))
}

func TestFindSeparateFamilies(t *testing.T) {
	g := NewWithT(t)

	indices, err := Find([]Family{
		{Flags: Transfer},
		{Flags: Compute},
		{Flags: Graphics},
		{Flags: Transfer},
	}, presentOn(3))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(indices.Compute.Get()).To(Equal(uint32(1)))
	g.Expect(indices.Graphics.Get()).To(Equal(uint32(2)))
	g.Expect(indices.Present.Get()).To(Equal(uint32(3)))
	g.Expect(indices.Unique()).To(Equal([]uint32{1, 2, 3}))
}

func TestFindPrefersGraphicsForPresent(t *testing.T) {
	g := NewWithT(t)

	indices, err := Find([]Family{
		{Flags: Compute},
		{Flags: Graphics},
	}, presentOn(0, 1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(indices.Present.Get()).To(Equal(uint32(1)))
}

func TestValidateMissingPresent(t *testing.T) {
	g := NewWithT(t)

	indices, err := Find([]Family{{Flags: Graphics | Compute}}, presentOn())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(indices.Present.HasValue()).To(BeFalse())
	g.Expect(indices.Validate(true)).To(MatchError(ErrNoPresentFamily))

	// Headless use does not need presentation.
	g.Expect(indices.Validate(false)).To(Succeed())
}

func TestValidateMissingCompute(t *testing.T) {
	g := NewWithT(t)

	indices, err := Find([]Family{{Flags: Graphics}}, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(indices.Validate(false)).To(MatchError(ErrNoComputeFamily))
}

func TestValidateMissingGraphics(t *testing.T) {
	g := NewWithT(t)

	indices, err := Find([]Family{{Flags: Compute}}, presentOn(0))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(indices.Validate(true)).To(MatchError(ErrNoGraphicsFamily))
}

func TestFindPresentQueryError(t *testing.T) {
	g := NewWithT(t)

	boom := errors.New("surface lost")
	_, err := Find([]Family{{Flags: Graphics}}, func(uint32) (bool, error) {
		return false, boom
	})
	g.Expect(err).To(MatchError(ContainSubstring("surface lost")))
}
