package interrupt

import (
	"fmt"

	"toykernel/internal/cpu"
	"toykernel/internal/disasm"
)

// Page-fault error-code bits, per spec §4.4 ("the five standard
// error-code bits: present, write, user, reserved, instruction-fetch").
const (
	PFPresent   = 1 << 0
	PFWrite     = 1 << 1
	PFUser      = 1 << 2
	PFReserved  = 1 << 3
	PFInstFetch = 1 << 4
)

// CodeReader fetches bytes from a virtual address range for disasm;
// the kernel wires this to whatever maps EIP's page at fault time.
type CodeReader func(vaddr uint32, n int) []byte

// PageFaultHandler is fatal in this design: it reads CR2, classifies
// the standard error-code bits, prints a diagnostic including the
// faulting instruction, then halts with interrupts disabled. Spec
// §4.4: "no demand paging."
func PageFaultHandler(readCode CodeReader) Handler {
	return func(f *Frame) *Frame {
		fault := cpu.ReadCR2()
		bits := f.ErrCode

		insn := "<unavailable>"
		if readCode != nil {
			if code := readCode(f.EIP, 16); len(code) > 0 {
				insn = disasm.Describe(code)
			}
		}

		fmt.Printf(
			"page fault at %#x (present=%v write=%v user=%v reserved=%v fetch=%v)\n"+
				"  eip=%#x insn=%s\n",
			fault,
			bits&PFPresent != 0, bits&PFWrite != 0, bits&PFUser != 0,
			bits&PFReserved != 0, bits&PFInstFetch != 0,
			f.EIP, insn,
		)
		cpu.DisableInterrupts()
		cpu.Halt()
		return f
	}
}
