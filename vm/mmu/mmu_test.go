package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmsim/hooking"
	"github.com/sarchlab/vmsim/vm"
)

var _ = Describe("MMU", func() {
	var (
		frames *vm.FrameRegistry
		comp   *Comp
	)

	BeforeEach(func() {
		frames = vm.NewFrameRegistry(4)
		comp = MakeBuilder().
			WithFrameRegistry(frames).
			WithDirectoryFanout(4).
			Build("MMU")
	})

	Context("allocating pages", func() {
		It("should hand out frames in ascending order", func() {
			for i := 0; i < 4; i++ {
				frame, err := comp.AllocatePage(uint64(i), vm.AccessRead)

				Expect(err).NotTo(HaveOccurred())
				Expect(frame).To(Equal(uint64(i)))
			}
		})

		It("should reuse the lowest freed frame, not the next one", func() {
			for i := 0; i < 4; i++ {
				comp.AllocatePage(uint64(i), vm.AccessRead)
			}

			Expect(comp.FreePage(2)).To(Succeed())

			frame, err := comp.AllocatePage(9, vm.AccessRead)

			Expect(err).NotTo(HaveOccurred())
			Expect(frame).To(Equal(uint64(2)))
		})

		It("should fail when every frame is mapped and recover after a free",
			func() {
				for i := 0; i < 4; i++ {
					comp.AllocatePage(uint64(i), vm.AccessRead)
				}

				_, err := comp.AllocatePage(4, vm.AccessRead)
				Expect(err).To(MatchError(vm.ErrNoFreeFrame))

				Expect(comp.FreePage(0)).To(Succeed())

				frame, err := comp.AllocatePage(4, vm.AccessRead)
				Expect(err).NotTo(HaveOccurred())
				Expect(frame).To(Equal(uint64(0)))
			})

		It("should make the entry writable only on write access", func() {
			comp.AllocatePage(0, vm.AccessRead)
			comp.AllocatePage(1, vm.AccessReadWrite)

			ro, _ := comp.PageTable().Entry(0)
			rw, _ := comp.PageTable().Entry(1)

			Expect(ro.Writable).To(BeFalse())
			Expect(rw.Writable).To(BeTrue())
		})

		It("should leave the private flag of the slot untouched", func() {
			pte := comp.PageTable().EntryForUpdate(3)
			pte.Private = true

			comp.AllocatePage(3, vm.AccessReadWrite)

			Expect(pte.Private).To(BeTrue())
		})

		It("should increment the mapcount of the chosen frame", func() {
			frame, _ := comp.AllocatePage(0, vm.AccessRead)

			Expect(frames.MapCount(frame)).To(Equal(uint32(1)))
		})
	})

	Context("freeing pages", func() {
		It("should clear the entry and drop the mapcount", func() {
			frame, _ := comp.AllocatePage(5, vm.AccessReadWrite)

			Expect(comp.FreePage(5)).To(Succeed())

			pte, ok := comp.PageTable().Entry(5)
			Expect(ok).To(BeTrue())
			Expect(pte.Valid).To(BeFalse())
			Expect(pte.Writable).To(BeFalse())
			Expect(pte.Frame).To(Equal(uint64(0)))
			Expect(frames.MapCount(frame)).To(Equal(uint32(0)))
		})

		It("should reject a page whose directory was never created", func() {
			Expect(comp.FreePage(12)).To(MatchError(vm.ErrNotMapped))
		})

		It("should reject an entry that is not valid", func() {
			comp.AllocatePage(5, vm.AccessRead)
			comp.FreePage(5)

			Expect(comp.FreePage(5)).To(MatchError(vm.ErrNotMapped))
		})

		It("should keep a shared frame mapped until the last release", func() {
			frame, _ := comp.AllocatePage(0, vm.AccessRead)
			frames.Retain(frame)

			comp.FreePage(0)

			Expect(frames.MapCount(frame)).To(Equal(uint32(1)))
		})
	})

	Context("handling page faults", func() {
		It("should fail on a page whose directory is absent", func() {
			err := comp.HandlePageFault(8, vm.AccessRead)

			Expect(err).To(MatchError(vm.ErrNotMapped))
		})

		It("should fail on an invalid entry", func() {
			comp.AllocatePage(0, vm.AccessRead)
			comp.FreePage(0)

			err := comp.HandlePageFault(0, vm.AccessRead)

			Expect(err).To(MatchError(vm.ErrNotMapped))
		})

		It("should fail a write to a plain read-only page without mutating "+
			"state", func() {
			frame, _ := comp.AllocatePage(0, vm.AccessRead)

			err := comp.HandlePageFault(0, vm.AccessWrite)

			Expect(err).To(MatchError(vm.ErrPermission))
			pte, _ := comp.PageTable().Entry(0)
			Expect(pte.Valid).To(BeTrue())
			Expect(pte.Writable).To(BeFalse())
			Expect(frames.MapCount(frame)).To(Equal(uint32(1)))
		})

		It("should split a shared COW page to a fresh frame", func() {
			frame, _ := comp.AllocatePage(0, vm.AccessReadWrite)
			pte, _ := comp.PageTable().Entry(0)
			pte.Writable = false
			pte.Private = true
			frames.Retain(frame) // another process still maps it

			err := comp.HandlePageFault(0, vm.AccessWrite)

			Expect(err).NotTo(HaveOccurred())
			Expect(pte.Frame).NotTo(Equal(frame))
			Expect(pte.Valid).To(BeTrue())
			Expect(pte.Writable).To(BeTrue())
			Expect(frames.MapCount(frame)).To(Equal(uint32(1)))
			Expect(frames.MapCount(pte.Frame)).To(Equal(uint32(1)))
		})

		It("should upgrade in place when the faulting process is the sole "+
			"owner", func() {
			frame, _ := comp.AllocatePage(0, vm.AccessReadWrite)
			pte, _ := comp.PageTable().Entry(0)
			pte.Writable = false
			pte.Private = true

			err := comp.HandlePageFault(0, vm.AccessWrite)

			Expect(err).NotTo(HaveOccurred())
			Expect(pte.Frame).To(Equal(frame))
			Expect(pte.Writable).To(BeTrue())
			Expect(frames.MapCount(frame)).To(Equal(uint32(1)))
		})

		It("should report exhaustion on a split with no free frame and "+
			"restore the mapcount", func() {
			for i := 0; i < 4; i++ {
				comp.AllocatePage(uint64(i), vm.AccessRead)
			}
			pte, _ := comp.PageTable().Entry(0)
			pte.Writable = false
			pte.Private = true
			frames.Retain(pte.Frame)

			err := comp.HandlePageFault(0, vm.AccessWrite)

			Expect(err).To(MatchError(vm.ErrNoFreeFrame))
			Expect(pte.Frame).To(Equal(uint64(0)))
			Expect(frames.MapCount(0)).To(Equal(uint32(2)))
		})
	})

	Context("invoking hooks", func() {
		var (
			mockCtrl *gomock.Controller
			hook     *MockHook
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			hook = NewMockHook(mockCtrl)
			comp.AcceptHook(hook)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should report an allocation", func() {
			var detail AllocDetail
			hook.EXPECT().
				Func(gomock.Any()).
				Do(func(ctx hooking.HookCtx) {
					Expect(ctx.Pos).To(BeIdenticalTo(HookPosAlloc))
					detail = ctx.Detail.(AllocDetail)
				})

			comp.AllocatePage(3, vm.AccessReadWrite)

			Expect(detail.VPN).To(Equal(uint64(3)))
			Expect(detail.Frame).To(Equal(uint64(0)))
			Expect(detail.Access.Write()).To(BeTrue())
		})

		It("should report a fault with its outcome", func() {
			hook.EXPECT().Func(gomock.Any()) // the allocation
			comp.AllocatePage(0, vm.AccessReadWrite)
			pte, _ := comp.PageTable().Entry(0)
			pte.Writable = false
			pte.Private = true

			var detail FaultDetail
			hook.EXPECT().
				Func(gomock.Any()).
				Do(func(ctx hooking.HookCtx) {
					Expect(ctx.Pos).To(BeIdenticalTo(HookPosPageFault))
					detail = ctx.Detail.(FaultDetail)
				})

			comp.HandlePageFault(0, vm.AccessWrite)

			Expect(detail.Outcome).To(Equal(FaultCOWCollapse))
			Expect(detail.Frame).To(Equal(uint64(0)))
		})
	})
})
