package vkdriver

import (
	"testing"

	. "github.com/onsi/gomega"
)

type testID uint64

func TestHandles(t *testing.T) {
	g := NewWithT(t)

	table := newHandles[testID, string]()
	a := table.add("a")
	b := table.add("b")
	g.Expect(a).NotTo(BeZero())
	g.Expect(b).NotTo(Equal(a))
	g.Expect(table.get(a)).To(Equal("a"))
	g.Expect(table.all([]testID{b, a, 99})).To(Equal([]string{"b", "a", ""}))

	h, ok := table.take(a)
	g.Expect(ok).To(BeTrue())
	g.Expect(h).To(Equal("a"))

	_, ok = table.take(a)
	g.Expect(ok).To(BeFalse())
	g.Expect(table.get(a)).To(BeEmpty())
	g.Expect(table.len()).To(Equal(1))

	c := table.add("c")
	g.Expect(c).NotTo(Equal(a), "IDs are never reused")
}
