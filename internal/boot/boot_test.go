package boot

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"toykernel/internal/multiboot"
	"toykernel/internal/vfs"
)

func putHeader(buf []byte, id, flags uint32, name string, size uint32) []byte {
	var hdr [4 + 4 + vfs.NameSize + 4]byte
	binary.LittleEndian.PutUint32(hdr[0:4], id)
	binary.LittleEndian.PutUint32(hdr[4:8], flags)
	copy(hdr[8:8+vfs.NameSize], name)
	binary.LittleEndian.PutUint32(hdr[8+vfs.NameSize:], size)
	return append(buf, hdr[:]...)
}

func fakeMultibootInfoPtr(t *testing.T) uintptr {
	t.Helper()
	info := &multiboot.Info{Flags: multiboot.FlagMemInfo, MemLower: 640, MemUpper: 130048}
	return uintptr(unsafe.Pointer(info))
}

func TestBootBringsUpEverySubsystem(t *testing.T) {
	k, err := Boot(fakeMultibootInfoPtr(t), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if k.Sched.Current() == nil {
		t.Fatalf("expected a current (main) task after Boot")
	}
	if k.Interrupts.Lookup(timerVector) == nil {
		t.Fatalf("expected the timer handler registered at vector %d", timerVector)
	}
	if k.Interrupts.Lookup(pageFaultVector) == nil {
		t.Fatalf("expected the page-fault handler registered at vector %d", pageFaultVector)
	}
	if k.Heap.Used() != 0 {
		t.Fatalf("expected a freshly booted heap to have zero bytes allocated, got %d", k.Heap.Used())
	}
}

func TestBootRejectsMultibootInfoWithoutMemInfo(t *testing.T) {
	info := &multiboot.Info{Flags: 0}
	_, err := Boot(uintptr(unsafe.Pointer(info)), nil, nil, nil)
	if err == nil {
		t.Fatalf("expected Boot to reject multiboot info missing FlagMemInfo")
	}
}

func TestLoadInitrdParsesSingleFileImage(t *testing.T) {
	k, err := Boot(fakeMultibootInfoPtr(t), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var img []byte
	img = putHeader(img, 1, 1, "init", 5)
	img = append(img, []byte("hello")...)

	if err := k.LoadInitrd(len(img), func(n int) []byte { return img[:n] }); err != nil {
		t.Fatal(err)
	}
	if len(k.VFSRoots) != 1 || k.VFSRoots[0].Name.String() != "init" {
		t.Fatalf("expected one root node named %q, got %+v", "init", k.VFSRoots)
	}
	if k.InitrdHeapAddr == 0 {
		t.Fatalf("expected the initrd image to be copied into the heap")
	}
}

func TestLaunchRejectsMissingEntryProgram(t *testing.T) {
	k, err := Boot(fakeMultibootInfoPtr(t), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	var img []byte
	img = putHeader(img, 1, 1, "init", 4)
	img = append(img, []byte{0, 0, 0, 0}...)
	if err := k.LoadInitrd(len(img), func(n int) []byte { return img[:n] }); err != nil {
		t.Fatal(err)
	}

	// A user task whose code never calls exit_this_task would hang this
	// test; the scheduler's own exit path is exercised directly instead
	// of waiting on register-level execution that only real/emulated
	// hardware can provide (spec.md §1: the boot-stub/ISR trampolines
	// are an external collaborator). Only Launch's not-found error path
	// is exercised below.
	if err := k.Launch("missing"); err == nil {
		t.Fatalf("expected Launch to fail for a name absent from the initrd")
	}
}

func TestBootDefaultsSerialRingBufferWhenNoTryReadGiven(t *testing.T) {
	k, err := Boot(fakeMultibootInfoPtr(t), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if k.Serial == nil {
		t.Fatalf("expected Boot to install a default serial.RingBuffer when tryRead is nil")
	}
	k.Serial.Push('x')
	b, ok := k.tryRead()
	if !ok || b != 'x' {
		t.Fatalf("tryRead() = (%q,%v), want ('x',true) after pushing to Serial", b, ok)
	}
}

func TestShutdownFailsWithOutstandingAllocations(t *testing.T) {
	k, err := Boot(fakeMultibootInfoPtr(t), nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.Heap.Malloc(16); err != nil {
		t.Fatal(err)
	}
	if err := k.Shutdown(); err == nil {
		t.Fatalf("expected Shutdown to reject a non-empty heap")
	}
}
