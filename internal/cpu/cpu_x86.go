// Package cpu models the low-level x86 primitives spec.md §1 names as
// an external collaborator: interrupt masking, TLB control, CR2/CR3
// access, and I/O port access for the PIC/PIT/shutdown port.
//
// A freestanding build backs every function here with the boot-stub
// assembly (gopher-os's kernel/cpu/cpu_amd64.go idiom: a bodiless Go
// func paired with a .s file the linker resolves). This repository has
// no such assembly file — there is no bootable image, only the hosted
// `go test` build the rest of the module already targets (internal/mem
// and internal/heap model "interrupts disabled" with a mutex rather
// than a real EFLAGS.IF; internal/heap backs "physical memory" with a
// real `[]byte` rather than raw pointers). This package follows the
// same convention: each primitive is a small, real Go implementation
// of the register/port state it names, atomics standing in for what
// would otherwise be a single CPU's private register.
package cpu

import (
	"sync"
	"sync/atomic"
)

// ifFlag models EFLAGS.IF: whether the (single, modeled) CPU will
// accept the next timer/IRQ tick.
var ifFlag atomic.Bool

// EnableInterrupts sets EFLAGS.IF, allowing the next timer/IRQ tick to
// preempt.
func EnableInterrupts() { ifFlag.Store(true) }

// DisableInterrupts clears EFLAGS.IF. Used to guard every
// process-wide singleton per spec §5.
func DisableInterrupts() { ifFlag.Store(false) }

// InterruptsEnabled reports the current state of EFLAGS.IF.
func InterruptsEnabled() bool { return ifFlag.Load() }

// Halt executes hlt in a loop; used by the panic path and the idle
// fallback. It never returns, matching real hardware: a halted CPU
// resumes only on the next interrupt, and nothing in this design
// re-enables interrupts after a panic or a clean shutdown.
func Halt() {
	for {
	}
}

// cr2 models the CPU register latching the faulting address on a page
// fault.
var cr2 atomic.Uintptr

// ReadCR2 returns the faulting address recorded by the CPU on a page
// fault.
func ReadCR2() uintptr { return cr2.Load() }

// SetCR2 is the hosted model's stand-in for the CPU's own fault
// delivery: on real hardware the processor latches CR2 before
// vectoring to the page-fault handler; here whatever raises the
// simulated fault calls SetCR2 first.
func SetCR2(vaddr uintptr) { cr2.Store(vaddr) }

// cr3 models the CPU register holding the active page directory's
// physical base address.
var cr3 atomic.Uintptr

// LoadCR3 writes the physical base address of a page directory into
// CR3, switching the active address space.
func LoadCR3(pdPhysAddr uintptr) { cr3.Store(pdPhysAddr) }

// CurrentCR3 returns the physical base address last written by
// LoadCR3, letting tests confirm a PD switch actually happened.
func CurrentCR3() uintptr { return cr3.Load() }

// invalidated counts invlpg issues, per vaddr, so tests can confirm
// internal/vmm's add_page/remove_page TLB discipline (spec §4.2) is
// actually exercised without needing a real TLB to observe.
var (
	tlbMu        sync.Mutex
	invalidCount = map[uintptr]int{}
)

// InvalidatePage flushes the TLB entry for the given virtual address
// (invlpg), per spec §4.2's "Invalidates the TLB entry for vaddr."
func InvalidatePage(vaddr uintptr) {
	tlbMu.Lock()
	defer tlbMu.Unlock()
	invalidCount[vaddr]++
}

// InvalidateCount reports how many times InvalidatePage has been
// called for vaddr; a test hook mirroring internal/mem.Refcnt.
func InvalidateCount(vaddr uintptr) int {
	tlbMu.Lock()
	defer tlbMu.Unlock()
	return invalidCount[vaddr]
}

// ports models the 16-bit x86 I/O space as a flat byte array guarded
// by a mutex, standing in for the PIC/PIT/serial/shutdown hardware
// registers a freestanding build would address directly with in/out.
var (
	portsMu sync.Mutex
	ports   [1 << 16]uint8
)

// InB reads a byte from the given I/O port (PIC/PIT programming,
// serial polling).
func InB(port uint16) uint8 {
	portsMu.Lock()
	defer portsMu.Unlock()
	return ports[port]
}

// OutB writes a byte to the given I/O port.
func OutB(port uint16, value uint8) {
	portsMu.Lock()
	defer portsMu.Unlock()
	ports[port] = value
}

// OutW writes a 16-bit word to the given I/O port; used for the
// emulator shutdown convention (spec §6: write 0x2000 to port 0x604).
func OutW(port uint16, value uint16) {
	portsMu.Lock()
	defer portsMu.Unlock()
	ports[port] = uint8(value)
	ports[port+1] = uint8(value >> 8)
}
