// Package vmm implements the page directory: a 1024-entry, 4 KiB
// aligned table of PDEs mapping 4 MiB virtual pages to 4 MiB physical
// frames, plus the PD-region arena that holds per-task page
// directories and the identity-map scope helper used during boot.
//
// Grounded on biscuit/src/vm/as.go's Vm_t (Page_insert/Page_remove,
// the Lock_pmap/Unlock_pmap locking discipline) and biscuit's mem.go
// Pmap_new (allocating page-table pages from a managed region),
// simplified from biscuit's demand-paged, multi-level, COW-capable
// design down to this kernel's single-level, always-present, 4 MiB
// page design — spec.md explicitly excludes demand paging and COW.
package vmm

import (
	"sync"

	"toykernel/internal/kerrors"
	"toykernel/internal/mem"
)

// PTE/PDE flag bits, matching spec §6 and original_source/paging.h.
const (
	FlagPresent  mem.Pa_t = 1 << 0
	FlagWritable mem.Pa_t = 1 << 1
	FlagUser     mem.Pa_t = 1 << 2
	Flag4MB      mem.Pa_t = 1 << 7
)

// Virtual memory map, spec §6.
const (
	KernelImageStart = 4 * mem.PageSize4M
	KernelImageEnd   = 8 * mem.PageSize4M
	PDRegionStart    = 8 * mem.PageSize4M
	PDRegionEnd      = 12 * mem.PageSize4M
	SharedHandoffVA  = 12 * mem.PageSize4M
	TmpSharedVA      = 20 * mem.PageSize4M
	KHeapBegin       = 32 * mem.PageSize4M
	KHeapEnd         = 1 << 30
	UserStart        = 1 << 30
	UserEnd          = 1 << 32
)

// Errors named in spec §4.2.
var (
	ErrUnaligned      = kerrors.New("vmm", "address is not 4 MiB aligned")
	ErrAlreadyMapped  = kerrors.New("vmm", "PDE already present")
	ErrNotMapped      = kerrors.New("vmm", "PDE not present")
	ErrDoublePhysical = kerrors.New("vmm", "physical frame already has a mapping")
	ErrNoFreeFrame    = mem.ErrOutOfMemory
	ErrPdRegionFull   = kerrors.New("vmm", "no free slot in the PD region")
)

// pdIndex returns the PDE index for a 4 MiB aligned virtual address.
func pdIndex(vaddr uintptr) uint32 {
	return uint32(vaddr >> mem.PageShift)
}

func aligned4M(a uintptr) bool {
	return a&(mem.PageSize4M-1) == 0
}

// isKernelRangeIndex reports whether pde index idx belongs to the
// kernel image or the PD-region, the ranges spec.md §9 resolves to be
// the only ones propagated across address spaces ("the kernel-range-
// only rule matches the stated architecture better" — see DESIGN.md).
func isKernelRangeIndex(idx uint32) bool {
	va := uintptr(idx) << mem.PageShift
	return (va >= KernelImageStart && va < KernelImageEnd) ||
		(va >= PDRegionStart && va < PDRegionEnd)
}

// PageDirectory is one 1024-entry address space. The Manager that
// created it (see manager.go) owns the frame map and the registry of
// live PDs needed for kernel-range propagation.
type PageDirectory struct {
	mu       sync.Mutex
	pdes     [1024]mem.Pa_t
	physAddr mem.Pa_t // the PD's own physical/virtual base (identity-mapped in every PD)
	isKernel bool
	mgr      *Manager
}

// PhysAddr returns the physical (== virtual, since the PD-region is
// identity-mapped in every PD) base address of this page directory.
func (pd *PageDirectory) PhysAddr() mem.Pa_t { return pd.physAddr }

// AddPage maps vaddr to paddr with flags OR-ed with
// {present,writable,4MB}, per spec §4.2. allowReuse, when false, fails
// ErrDoublePhysical if paddr is already mapped somewhere.
func (pd *PageDirectory) AddPage(vaddr uintptr, paddr mem.Pa_t, flags mem.Pa_t, allowReuse bool) error {
	if !aligned4M(vaddr) || !aligned4M(uintptr(paddr)) {
		return ErrUnaligned
	}
	idx := pdIndex(vaddr)

	pd.mu.Lock()
	if pd.pdes[idx]&FlagPresent != 0 {
		pd.mu.Unlock()
		return ErrAlreadyMapped
	}
	if !allowReuse && pd.mgr.Frames.IsUsed(paddr) {
		pd.mu.Unlock()
		return ErrDoublePhysical
	}
	pde := paddr | flags | FlagPresent | FlagWritable | Flag4MB
	pd.pdes[idx] = pde
	pd.mgr.Frames.MarkUsed(paddr)
	pd.mu.Unlock()

	invalidatePage(vaddr)

	if pd.isKernel && isKernelRangeIndex(idx) {
		pd.mgr.propagateAdd(idx, pde, paddr)
	}
	return nil
}

// RemovePage is the inverse of AddPage: it clears the present PDE at
// vaddr, decrements the backing frame's refcount, invalidates the
// TLB, and propagates the removal across PDs under the same
// kernel-range rule as AddPage.
func (pd *PageDirectory) RemovePage(vaddr uintptr) error {
	if !aligned4M(vaddr) {
		return ErrUnaligned
	}
	idx := pdIndex(vaddr)

	pd.mu.Lock()
	pde := pd.pdes[idx]
	if pde&FlagPresent == 0 {
		pd.mu.Unlock()
		return ErrNotMapped
	}
	paddr := pde & mem.PageMask4M
	pd.pdes[idx] = 0
	pd.mu.Unlock()

	pd.mgr.Frames.MarkFree(paddr)
	invalidatePage(vaddr)

	if pd.isKernel && isKernelRangeIndex(idx) {
		pd.mgr.propagateRemove(idx)
	}
	return nil
}

// GetPhysical returns the frame mapped at vaddr, or ErrNotMapped.
func (pd *PageDirectory) GetPhysical(vaddr uintptr) (mem.Pa_t, error) {
	idx := pdIndex(vaddr)
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pde := pd.pdes[idx]
	if pde&FlagPresent == 0 {
		return 0, ErrNotMapped
	}
	return pde & mem.PageMask4M, nil
}

// IsVirtualMapped reports whether vaddr currently has a present PDE.
func (pd *PageDirectory) IsVirtualMapped(vaddr uintptr) bool {
	idx := pdIndex(vaddr)
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.pdes[idx]&FlagPresent != 0
}

// NextFreeVirtualUser finds an unmapped 4 MiB slot in [UserStart, UserEnd).
func (pd *PageDirectory) NextFreeVirtualUser() (uintptr, error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	for idx := uint32(UserStart >> mem.PageShift); idx < uint32(UserEnd>>mem.PageShift); idx++ {
		if pd.pdes[idx]&FlagPresent == 0 {
			return uintptr(idx) << mem.PageShift, nil
		}
	}
	return 0, kerrors.New("vmm", "no free user virtual page")
}

func (pd *PageDirectory) snapshot() [1024]mem.Pa_t {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.pdes
}

func (pd *PageDirectory) setPDE(idx uint32, pde mem.Pa_t) {
	pd.mu.Lock()
	pd.pdes[idx] = pde
	pd.mu.Unlock()
}

func (pd *PageDirectory) clearPDE(idx uint32) {
	pd.mu.Lock()
	pd.pdes[idx] = 0
	pd.mu.Unlock()
}
