package vmm

import "toykernel/internal/mem"

// WithIdentityMap maps vaddr to paddr in pd for the duration of fn,
// then unmaps it, regardless of whether fn returns an error. Grounded
// on spec §4.2.1: "a closure-based scope that adds an identity (or
// otherwise temporary) mapping, runs a callback, then always removes
// the mapping" — used by boot.Kernel.LoadInitrd to reach the initrd
// image at physical page 0.
func WithIdentityMap(pd *PageDirectory, vaddr uintptr, paddr mem.Pa_t, flags mem.Pa_t, fn func() error) error {
	if err := pd.AddPage(vaddr, paddr, flags, true); err != nil {
		return err
	}
	defer pd.RemovePage(vaddr)
	return fn()
}
