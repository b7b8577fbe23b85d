package task

import (
	"sync"
	"sync/atomic"

	"toykernel/internal/interrupt"
)

// The four switch variants are, on a freestanding build, implemented
// by the boot-stub assembly: each loads regs' GPRs/segment selectors
// and either jumps straight back into kernel code or iret's to ring 3,
// never returning to its Go caller. This repository targets the
// hosted `go test` build the rest of the module already does
// (internal/cpu's doc comment), which has no such assembly and no
// CPU to actually resume on — there is nothing for these functions to
// jump into. Each variant below is a small, real Go function that
// records which variant ran and the register frame it was handed, so
// that runNext/Tick's caller observes a normal return (as every
// existing scheduler test requires) while still leaving a trail
// property tests can assert against, the same way internal/cpu's
// InvalidateCount/CurrentCR3 stand in for registers a hosted test
// can't otherwise observe.
var (
	lastSwitchMu sync.Mutex
	lastVariant  Variant
	lastRegs     interrupt.Frame
	switchCounts [4]uint64
)

func recordSwitch(v Variant, regs *interrupt.Frame) {
	lastSwitchMu.Lock()
	lastVariant = v
	lastRegs = *regs
	lastSwitchMu.Unlock()
	atomic.AddUint64(&switchCounts[v], 1)
}

// LastSwitch returns the most recently dispatched variant and the
// register frame it was handed, for tests asserting on scheduler
// classification (spec §4.5's first-run/kernel-or-user table).
func LastSwitch() (Variant, interrupt.Frame) {
	lastSwitchMu.Lock()
	defer lastSwitchMu.Unlock()
	return lastVariant, lastRegs
}

// SwitchCount reports how many times variant v has been dispatched.
func SwitchCount(v Variant) uint64 {
	return atomic.LoadUint64(&switchCounts[v])
}

func switchResumeKernel(regs *interrupt.Frame) { recordSwitch(ResumeKernel, regs) }
func switchResumeUser(regs *interrupt.Frame) { recordSwitch(ResumeUser, regs) }
func switchFirstRunKernel(regs *interrupt.Frame) { recordSwitch(FirstRunKernel, regs) }
func switchFirstRunUser(regs *interrupt.Frame) { recordSwitch(FirstRunUser, regs) }

func dispatch(v Variant, regs *interrupt.Frame) {
	switch v {
	case ResumeKernel:
		switchResumeKernel(regs)
	case ResumeUser:
		switchResumeUser(regs)
	case FirstRunKernel:
		switchFirstRunKernel(regs)
	case FirstRunUser:
		switchFirstRunUser(regs)
	}
}
