// Package boot implements the ten-step bring-up sequence spec.md §4.7
// describes: parse multiboot, install the interrupt/paging/heap/
// scheduler/syscall subsystems in order, copy the initrd out of low
// memory, launch its entry program as the first user task, and tear
// down on a clean exit.
//
// Grounded on gopher-os's kernel.Kmain / kmain.Kmain shape (a single
// ordered bring-up function taking the raw multiboot pointer,
// delegating each stage to the owning package) generalized from
// gopher-os's "terminal then halt forever" body to this kernel's full
// paging/scheduler/syscall/initrd sequence.
package boot

import (
	"fmt"

	"toykernel/internal/cpu"
	"toykernel/internal/heap"
	"toykernel/internal/interrupt"
	"toykernel/internal/kerrors"
	"toykernel/internal/mem"
	"toykernel/internal/multiboot"
	"toykernel/internal/profexport"
	"toykernel/internal/serial"
	"toykernel/internal/syscall"
	"toykernel/internal/task"
	"toykernel/internal/vfs"
	"toykernel/internal/vmm"
)

// pitHz is the PIT programming frequency spec §4.7 step 5 calls for;
// the PIT's own divisor arithmetic lives in the boot-stub assembly
// (spec.md §1: "out of scope"), so this constant only documents the
// tick rate this kernel's timing assumptions are built on.
const pitHz = 50

// timerVector is IRQ0 after the PIC remap.
var timerVector = interrupt.IRQVector(0)

// pageFaultVector is the x86 exception number for #PF.
const pageFaultVector = 14

// Kernel holds every process-wide singleton spec.md §9's "Global
// mutable state" note names, created once in Boot. Shutdown does not
// tear them down.
type Kernel struct {
	Frames         *mem.FrameMap
	Mgr            *vmm.Manager
	Heap           *heap.Heap
	Interrupts     *interrupt.Table
	Sched          *task.Scheduler
	SyscallEnv     *syscall.Env
	VFSRoots       []*vfs.Node
	InitrdHeapAddr uintptr // where the copied initrd image lives in the kernel heap

	// Serial is non-nil only when Boot was not given an external
	// tryRead callback: it is the in-kernel input buffer the serial
	// IRQ handler (external per spec.md §1) would Push into, and the
	// source debug_read polls in that configuration.
	Serial *serial.RingBuffer

	putChar func(byte)
	tryRead func() (byte, bool)
}

// CodeReader lets the page-fault handler disassemble the faulting
// instruction (internal/disasm); the kernel wires this to whatever
// currently maps EIP's page.
type CodeReader = interrupt.CodeReader

// Boot performs spec.md §4.7 steps 1-7: parse multiboot, bring up
// paging, the heap, the timer, the scheduler, and the syscall gate, in
// that order. putChar and tryRead are the out-of-scope terminal
// driver's single-callback interface (spec.md §1); readCode backs the
// page-fault diagnostic's disassembly.
func Boot(multibootInfoPtr uintptr, putChar func(byte), tryRead func() (byte, bool), readCode CodeReader) (*Kernel, error) {
	// Step 1: parse multiboot info and verify the fields this design needs.
	multiboot.SetInfoPtr(multibootInfoPtr)
	info := multiboot.Read()
	if !multiboot.Verify(info) {
		return nil, kerrors.New("boot", "multiboot info missing required fields")
	}

	// Step 2: GDT/IDT/TSS installation is the boot-stub assembly's job
	// (spec.md §1); by the time Boot runs, the stub has already loaded
	// them and jumped here.

	// Step 3: initialize paging.
	frames := mem.New()
	frames.Reserve(mem.ReservedFrames)
	mgr := vmm.NewManager(frames)
	go logOOMEvents(frames.OOM)

	tbl := interrupt.NewTable()
	tbl.Register(pageFaultVector, interrupt.PageFaultHandler(readCode))

	if err := identityMapKernelRanges(mgr); err != nil {
		return nil, err
	}
	vmm.SwitchTo(mgr.Kernel)
	// PSE+PG enable is a CR0/CR4 write the boot-stub assembly performs
	// alongside the CR3 load above; spec.md names it as part of the
	// same out-of-scope collaborator.

	// Step 4: initialize the heap with the first sbrk'd frame.
	kheap, err := heap.New(mgr.Kernel, frames, vmm.KHeapBegin, vmm.KHeapEnd)
	if err != nil {
		return nil, err
	}

	// Step 5: program the PIT (external) and install the timer handler.
	sched := task.NewScheduler(mgr, kheap, tbl)
	tbl.Register(timerVector, func(f *interrupt.Frame) *interrupt.Frame {
		sched.Tick(f)
		return f
	})

	// Step 6 happened inside NewScheduler: the "main" kernel task is
	// created with no stack allocation and placed on the ready queue.

	// Step 7: install the syscall gate at vector 0x80, DPL=3.
	// When the caller supplies no tryRead (as the tests do), debug_read
	// is backed by an in-kernel ring buffer that this Kernel exposes as
	// Serial; nothing in this module pushes into it. cmd/kernel supplies
	// its own tryRead, so no ring buffer is created there.
	var ring *serial.RingBuffer
	if tryRead == nil {
		ring = &serial.RingBuffer{}
		tryRead = ring.TryRead
	}
	env, sysTable := syscall.NewEnv(sched, frames, putChar, tryRead)
	tbl.Register(syscall.Vector, sysTable.Handler())

	return &Kernel{
		Frames:     frames,
		Mgr:        mgr,
		Heap:       kheap,
		Interrupts: tbl,
		Sched:      sched,
		SyscallEnv: env,
		Serial:     ring,
		putChar:    putChar,
		tryRead:    tryRead,
	}, nil
}

// logOOMEvents drains frames.OOM for the lifetime of the kernel,
// printing a diagnostic through the same out-of-scope terminal
// collaborator every other panic path uses (spec.md §7: resource
// exhaustion is "surfaced as a named error to the caller," but a
// human watching the console still wants to see it happen). Exits
// when ch is closed or garbage-collected with the Kernel; there is no
// explicit stop signal since boot never closes the channel.
func logOOMEvents(ch <-chan mem.OomEvent) {
	for ev := range ch {
		fmt.Printf("mem: out of physical frames (search start=%d)\n", ev.Start)
	}
}

// identityMapKernelRanges maps the kernel image and the PD-region into
// the kernel PD (spec §4.7 step 3's "identity-map the kernel image and
// the PD-region"), backed by frames obtained from the frame map.
func identityMapKernelRanges(mgr *vmm.Manager) error {
	ranges := []struct{ start, end uintptr }{
		{vmm.KernelImageStart, vmm.KernelImageEnd},
		{vmm.PDRegionStart, vmm.PDRegionEnd},
	}
	for _, r := range ranges {
		for va := r.start; va < r.end; va += mem.PageSize4M {
			paddr := mem.Pa_t(va) // identity map: physical == virtual
			if err := mgr.Kernel.AddPage(va, paddr, 0, true); err != nil {
				return err
			}
			mgr.Frames.MarkUsed(paddr)
		}
	}
	return nil
}

// LoadInitrd performs spec.md §4.7 step 8: identity-map page 0 long
// enough to read the multiboot module's bytes, then unmap it, reserve
// a kernel-heap block of the same size (InitrdHeapAddr), and parse the
// bytes read as a VFS tree; they are not copied into that heap block.
// readModule reads
// modLen bytes starting at physical address 0 (the software model's
// stand-in for indexing physical memory through the temporary
// identity mapping).
func (k *Kernel) LoadInitrd(modLen int, readModule func(n int) []byte) error {
	var raw []byte
	err := vmm.WithIdentityMap(k.Mgr.Kernel, 0, 0, 0, func() error {
		raw = readModule(modLen)
		return nil
	})
	if err != nil {
		return err
	}

	dst, err := k.Heap.Malloc(uint32(len(raw)))
	if err != nil {
		return err
	}
	k.InitrdHeapAddr = dst
	// A freestanding build copies raw into the heap bytes at dst directly;
	// the hosted model parses the same bytes without a second physical copy.

	roots, err := vfs.Parse(raw)
	if err != nil {
		return err
	}
	k.VFSRoots = roots
	return nil
}

// Launch performs spec.md §4.7 step 9: find name in the parsed initrd
// tree, spawn it as the first user task, and join it to completion.
func (k *Kernel) Launch(name string) error {
	var entry *vfs.Node
	for _, root := range k.VFSRoots {
		if n, err := root.Lookup(vfs.Name(name)); err == nil {
			entry = n
			break
		}
		if root.Name.String() == name && root.IsFile {
			entry = root
			break
		}
	}
	if entry == nil {
		return kerrors.New("boot", fmt.Sprintf("initrd entry program %q not found", name))
	}
	code, err := entry.AsFile()
	if err != nil {
		return err
	}

	t, err := k.Sched.CreateUserTask(code, 0)
	if err != nil {
		return err
	}
	t.Name = name
	cpu.EnableInterrupts() // Join requires interrupts enabled, spec §4.5
	k.Sched.Join(t)
	return k.Sched.Destroy(t)
}

// Profile snapshots the accounting of every task on the ready queue as
// samples that internal/profexport can turn into a pprof profile
// (spec.md §2 domain-stack expansion).
func (k *Kernel) Profile() []profexport.TaskSample {
	return k.Sched.Samples()
}

// shutdownPort/shutdownValue are the emulator convention spec.md §6
// names: "write 0x2000 to I/O port 0x604" triggers a clean shutdown.
const (
	shutdownPort  = 0x604
	shutdownValue = 0x2000
)

// Shutdown performs spec.md §4.7 step 10: assert the heap is fully
// drained, then halt via the emulator's shutdown convention. It does
// not destroy the scheduler or any task still on the ready queue.
func (k *Kernel) Shutdown() error {
	if used := k.Heap.Used(); used != 0 {
		return kerrors.New("boot", fmt.Sprintf("heap_used == %d at shutdown, want 0", used))
	}
	cpu.OutW(shutdownPort, shutdownValue)
	cpu.DisableInterrupts()
	cpu.Halt()
	return nil
}
