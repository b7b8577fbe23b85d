package vmm

import (
	"sync"

	"toykernel/internal/mem"
)

// regionSlots is the number of per-task page directories the PD-region
// can hold: (PDRegionEnd-PDRegionStart)/4096, since each PD is exactly
// 4 KiB (1024 PDEs * 4 bytes), per spec §6/§GLOSSARY.
const regionSlots = (PDRegionEnd - PDRegionStart) / 4096

// KernelPDPhysAddr is the (synthetic, software-model) physical base of
// the single kernel page directory. It intentionally falls inside the
// permanently-reserved first frame (spec §9: "the frame reserved at
// the very first physical frame... deliberately avoided by
// allocators"), since the kernel PD is never handed out by the frame
// allocator and never competes with user allocations.
const KernelPDPhysAddr mem.Pa_t = 0x1000

// Manager owns the frame map, the single kernel page directory, the
// PD-region arena, and the registry of live non-kernel PDs needed to
// propagate kernel-range edits (spec §4.2). It is the process-wide
// singleton created once during boot (spec §9 "Global mutable state").
//
// Grounded on biscuit/src/mem/mem.go's Pmap_new/Dec_pmap pair
// (allocate-from-region / refcount-release-back-to-region), adapted
// from a linked free list to a bitmap arena because PD-region slots
// here are reclaimed out of order by task destruction rather than
// LIFO-returned like biscuit's percpu pmap free lists.
type Manager struct {
	Frames *mem.FrameMap
	Kernel *PageDirectory

	mu       sync.Mutex
	occupied [regionSlots]bool
	slots    [regionSlots]*PageDirectory
	live     map[mem.Pa_t]*PageDirectory
}

// NewManager constructs the kernel PD and its owning Manager. The
// caller is expected to follow with AddPage calls identity-mapping the
// kernel image and the PD-region, per the boot sequence (spec §4.7).
func NewManager(frames *mem.FrameMap) *Manager {
	mgr := &Manager{
		Frames: frames,
		live:   make(map[mem.Pa_t]*PageDirectory),
	}
	mgr.Kernel = &PageDirectory{
		physAddr: KernelPDPhysAddr,
		isKernel: true,
		mgr:      mgr,
	}
	return mgr
}

// Clone allocates a new PD inside the PD-region, copies every PDE from
// the kernel PD, and increments the frame refcount for each present
// PDE, per spec §4.2 "clone()".
func (mgr *Manager) Clone() (*PageDirectory, error) {
	mgr.mu.Lock()
	slot := -1
	for i := range mgr.occupied {
		if !mgr.occupied[i] {
			slot = i
			break
		}
	}
	if slot == -1 {
		mgr.mu.Unlock()
		return nil, ErrPdRegionFull
	}
	mgr.occupied[slot] = true
	mgr.mu.Unlock()

	physAddr := mem.Pa_t(PDRegionStart + slot*4096)
	clone := &PageDirectory{
		physAddr: physAddr,
		isKernel: false,
		mgr:      mgr,
	}
	clone.pdes = mgr.Kernel.snapshot()
	for _, pde := range clone.pdes {
		if pde&FlagPresent != 0 {
			mgr.Frames.MarkUsed(pde & mem.PageMask4M)
		}
	}

	mgr.mu.Lock()
	mgr.slots[slot] = clone
	mgr.live[physAddr] = clone
	mgr.mu.Unlock()

	return clone, nil
}

// Reclaim decrements the frame refcount for every present PDE in pd
// (releasing frames that reach zero), then frees pd's PD-region slot.
// Spec §4.2 "reclaim()".
func (pd *PageDirectory) Reclaim() error {
	if pd.isKernel {
		return ErrAlreadyMapped // precondition violation: the kernel PD is never reclaimed
	}
	snap := pd.snapshot()
	for idx := range snap {
		if snap[idx]&FlagPresent != 0 {
			pd.mgr.Frames.MarkFree(snap[idx] & mem.PageMask4M)
			pd.clearPDE(uint32(idx))
		}
	}
	slot := int((pd.physAddr - PDRegionStart) / 4096)
	pd.mgr.mu.Lock()
	pd.mgr.occupied[slot] = false
	pd.mgr.slots[slot] = nil
	delete(pd.mgr.live, pd.physAddr)
	pd.mgr.mu.Unlock()
	return nil
}

// propagateAdd mirrors a kernel-range PDE addition into every live
// non-kernel PD, re-incrementing the frame's refcount for each one, per
// spec §4.2: "the PDE is propagated to every live non-kernel PD (and
// its refcount re-incremented for each)."
func (mgr *Manager) propagateAdd(idx uint32, pde mem.Pa_t, paddr mem.Pa_t) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, other := range mgr.live {
		other.setPDE(idx, pde)
		mgr.Frames.MarkUsed(paddr)
	}
}

// propagateRemove mirrors a kernel-range PDE removal into every live
// non-kernel PD.
func (mgr *Manager) propagateRemove(idx uint32) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, other := range mgr.live {
		old := other.pdes[idx]
		if old&FlagPresent != 0 {
			mgr.Frames.MarkFree(old & mem.PageMask4M)
		}
		other.clearPDE(idx)
	}
}
