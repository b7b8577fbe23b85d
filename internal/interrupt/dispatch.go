// Package interrupt implements the 256-vector handler table and the
// two CPU entry points (ISR/IRQ) that the boot-stub assembly hands
// control to.
//
// Grounded on biscuit/src/defs/msi.go's Msivecs_t: a mutex-guarded
// fixed-size vector table with Get/Set/Clr, adapted from MSI-specific
// IRQ routing to this kernel's full 256-entry CPU+IRQ table.
package interrupt

import (
	"fmt"
	"sync"

	"toykernel/internal/cpu"
)

// NumVectors is the size of the x86 IDT.
const NumVectors = 256

// masterCommandPort/slaveCommandPort are the PIC command port addresses
// and eoiCommand is the EOI command byte, per spec §4.4 ("send PIC EOI, to slave if vector >= 40,
// always to master").
const (
	masterCommandPort = 0x20
	slaveCommandPort  = 0xA0
	eoiCommand        = 0x20
	irqBase           = 32 // vector of IRQ0 after the PIC remap
	slaveIRQThreshold = 40 // IRQ8 (slave PIC's first line)
)

// Frame is the register state pushed by the ISR/IRQ stub: the
// CPU-pushed interrupt frame plus a push-all, per spec §4.4's minimum
// field set.
type Frame struct {
	GS, FS, ES, DS                          uint32
	EDI, ESI, EBP, ESP0, EBX, EDX, ECX, EAX uint32
	IntNo, ErrCode                          uint32
	EIP, CS, EFlags, UserESP, SS            uint32
}

// Handler processes one interrupt/IRQ and returns the frame to resume
// with — ordinarily the same frame, but the timer handler returns a
// different task's saved frame when it switches.
type Handler func(*Frame) *Frame

// Table is the 256-slot handler registry. Spec §4.4: register/
// unregister/lookup, with no duplicate-registration check (an open
// question the spec leaves unresolved; see DESIGN.md).
type Table struct {
	mu       sync.Mutex
	handlers [NumVectors]Handler
}

// NewTable constructs an empty dispatch table.
func NewTable() *Table {
	return &Table{}
}

// Register stores handler for vec, silently overwriting any previous
// registration.
func (t *Table) Register(vec uint8, handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[vec] = handler
}

// Unregister clears vec's handler.
func (t *Table) Unregister(vec uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[vec] = nil
}

// Lookup returns vec's handler, or nil if none is registered.
func (t *Table) Lookup(vec uint8) Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers[vec]
}

// Panicf mirrors the "dump registers and panic" fallback used by both
// the ISR and IRQ paths when a vector has no registered handler.
func Panicf(f *Frame, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("kernel panic: %s\nint_no=%d err=%#x eip=%#x cs=%#x eflags=%#x\n",
		msg, f.IntNo, f.ErrCode, f.EIP, f.CS, f.EFlags)
	cpu.DisableInterrupts()
	cpu.Halt()
}

// DispatchISR is the entry point for CPU exceptions (vectors 0-31 and
// the syscall gate). If a handler is registered it is invoked;
// otherwise the frame is dumped and the kernel panics.
func (t *Table) DispatchISR(f *Frame) *Frame {
	h := t.Lookup(uint8(f.IntNo))
	if h == nil {
		Panicf(f, "unhandled exception")
		return f
	}
	return h(f)
}

// DispatchIRQ is the entry point for hardware IRQs. It sends EOI to
// the PIC (both controllers when the IRQ came from the slave) before
// running the handler-or-panic flow shared with DispatchISR.
func (t *Table) DispatchIRQ(f *Frame) *Frame {
	if f.IntNo >= slaveIRQThreshold {
		cpu.OutB(slaveCommandPort, eoiCommand)
	}
	cpu.OutB(masterCommandPort, eoiCommand)

	h := t.Lookup(uint8(f.IntNo))
	if h == nil {
		Panicf(f, "unhandled IRQ")
		return f
	}
	return h(f)
}

// IRQVector converts a PIC IRQ line (0-15) to its post-remap vector
// number.
func IRQVector(irq uint8) uint8 { return irqBase + irq }
