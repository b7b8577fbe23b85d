package multiboot

import (
	"testing"
	"unsafe"
)

func TestVerifyRequiresMemInfoFlag(t *testing.T) {
	info := &Info{Flags: 0}
	if Verify(info) {
		t.Fatalf("expected Verify to fail without FlagMemInfo")
	}
	info.Flags = FlagMemInfo
	if !Verify(info) {
		t.Fatalf("expected Verify to pass with FlagMemInfo set")
	}
}

func TestFirstModuleNilWhenNoModules(t *testing.T) {
	info := &Info{ModsCount: 0}
	if FirstModule(info) != nil {
		t.Fatalf("expected nil module when ModsCount is 0")
	}
}

func TestReadReflectsSetInfoPtr(t *testing.T) {
	info := Info{Flags: FlagMemInfo, MemLower: 640, MemUpper: 130048}
	SetInfoPtr(uintptr(unsafe.Pointer(&info)))

	got := Read()
	if got.MemLower != 640 || got.MemUpper != 130048 {
		t.Fatalf("expected Read to reflect the struct at infoPtr, got %+v", got)
	}
}
