package vmm

import "toykernel/internal/cpu"

// invalidatePage issues invlpg for vaddr. Grounded on spec §5's "TLB/CR3
// discipline: Any add_page or remove_page issues invlpg for the
// affected virtual page."
func invalidatePage(vaddr uintptr) {
	cpu.InvalidatePage(vaddr)
}

// SwitchTo writes pd's physical base into CR3, making it the active
// address space. Spec §4.2: "Switching the active PD writes the new
// PD's physical base into CR3."
func SwitchTo(pd *PageDirectory) {
	cpu.LoadCR3(uintptr(pd.physAddr))
}
