package node

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Arena", func() {
	var (
		a *Arena
	)

	BeforeEach(func() {
		a = NewArena()
	})

	It("should assign handles in creation order", func() {
		t := &Tag{NodeMeta: NodeMeta{Kind: KindTag}}
		c := &Computation{NodeMeta: NodeMeta{Kind: KindComputation}}

		Expect(a.Add(t)).To(Equal(ID(1)))
		Expect(a.Add(c)).To(Equal(ID(2)))
		Expect(a.Len()).To(Equal(2))
		Expect(t.ID).To(Equal(ID(1)))
	})

	It("should refuse to add a node twice", func() {
		t := &Tag{NodeMeta: NodeMeta{Kind: KindTag}}
		a.Add(t)

		Expect(func() { a.Add(t) }).To(Panic())
	})

	It("should return nil for unknown handles", func() {
		Expect(a.Get(None)).To(BeNil())
		Expect(a.Get(7)).To(BeNil())
		Expect(a.Meta(7)).To(BeNil())
	})

	It("should return typed nodes", func() {
		tagID := a.Add(&Tag{NodeMeta: NodeMeta{Kind: KindTag}, Name: "img"})
		evID := a.Add(&Event{
			Computation: Computation{
				NodeMeta:        NodeMeta{Kind: KindEvent},
				ComputationKind: FireEvent,
			},
			Name: "load",
		})

		Expect(a.Tag(tagID).Name).To(Equal("img"))
		Expect(a.Computation(tagID)).To(BeNil())
		Expect(a.Computation(evID).ComputationKind).To(Equal(FireEvent))
		Expect(a.Event(evID).Name).To(Equal("load"))
		Expect(a.Resource(evID)).To(BeNil())
	})

	It("should list nodes of one kind", func() {
		a.Add(&Tag{NodeMeta: NodeMeta{Kind: KindTag}})
		a.Add(&Computation{NodeMeta: NodeMeta{Kind: KindComputation}})
		a.Add(&Tag{NodeMeta: NodeMeta{Kind: KindTag}})

		Expect(a.OfKind(KindTag)).To(Equal([]ID{1, 3}))
	})

	It("should reset", func() {
		a.Add(&Tag{NodeMeta: NodeMeta{Kind: KindTag}})
		a.Reset()

		Expect(a.Len()).To(Equal(0))
		Expect(a.Get(1)).To(BeNil())
	})
})
