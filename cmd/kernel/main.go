// Command kernel is the freestanding entry point: the symbol the
// boot-stub assembly jumps to once it has entered protected mode and
// handed off the multiboot pointer in ebx.
//
// Grounded on gopher-os's boot.go/stub.go trampoline pattern: a
// minimal main() whose only job is to call the real entry point with
// the arguments the assembly stub placed in well-known locations,
// kept non-inlineable so the linker cannot discard the kernel code the
// assembly doesn't reference by name.
package main

import (
	"fmt"
	"unsafe"

	"toykernel/internal/boot"
	"toykernel/internal/multiboot"
)

// multibootInfoPtr is written by the boot-stub assembly before
// jumping to main; declared package-level, exactly as gopher-os's
// stub.go does, so the compiler cannot prove main has no real effect
// and inline it away.
var multibootInfoPtr uintptr

// entryProgram is the name of the initrd file launched as the first
// user task, per spec.md §4.7 step 9.
const entryProgram = "init"

//go:noinline
func main() {
	k, err := boot.Boot(multibootInfoPtr, terminalPutChar, serialTryRead, diagCodeReader)
	if err != nil {
		fmt.Printf("boot failed: %v\n", err)
		return
	}

	mod := firstModuleBytes()
	if err := k.LoadInitrd(len(mod), func(n int) []byte { return mod[:n] }); err != nil {
		fmt.Printf("initrd load failed: %v\n", err)
		return
	}

	if err := k.Launch(entryProgram); err != nil {
		fmt.Printf("launch of %q failed: %v\n", entryProgram, err)
		return
	}

	if err := k.Shutdown(); err != nil {
		fmt.Printf("shutdown assertion failed: %v\n", err)
	}
}

// terminalPutChar is spec.md §1's single-callback terminal driver
// collaborator. A freestanding build wires this to the VGA text-mode
// buffer or a real serial port; this hosted build writes straight to
// the host's own console, which is all a `go test`/`go run` process
// has to write to.
func terminalPutChar(b byte) {
	fmt.Printf("%c", b)
}

// serialTryRead is the non-blocking serial-input primitive backing
// debug_read; also external per spec.md §1. This hosted build has no
// interactive input source wired up, so it always reports nothing
// available — boot.Boot falls back to its own in-kernel ring buffer
// (internal/serial) for any caller that passes a nil tryRead instead.
func serialTryRead() (byte, bool) {
	return 0, false
}

// diagCodeReader fetches bytes at a faulting EIP for the page-fault
// diagnostic's disassembly (internal/disasm via internal/interrupt).
// Safe only because the kernel PD identity-maps every address this
// kernel ever executes from.
func diagCodeReader(vaddr uint32, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(vaddr))), n)
}

// firstModuleBytes reads the bytes of the multiboot module the
// boot-stub assembly placed in low memory, per spec.md §4.7 step 1/8.
// Returns nil if the bootloader provided no module.
func firstModuleBytes() []byte {
	info := multiboot.Read()
	mod := multiboot.FirstModule(info)
	if mod == nil {
		return nil
	}
	n := int(mod.ModEnd - mod.ModStart)
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(mod.ModStart))), n)
}
