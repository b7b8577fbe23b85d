// Package multiboot reads the multiboot v1 information structure the
// boot-stub assembly hands the kernel in ebx: a fixed-layout struct of
// flag-gated fields rather than multiboot2's self-describing tag
// stream.
//
// Grounded on gopher-os's kernel/hal/multiboot package: the same
// SetInfoPtr/unsafe.Pointer field-access idiom, adapted from v2's
// variable-length tag scan (findTagByType) to v1's fixed C struct,
// since this kernel's boot-stub assembly (spec.md's out-of-scope
// collaborator) is a multiboot v1 loader.
package multiboot

import "unsafe"

// Flag bits in Info.Flags, per the multiboot v1 specification.
const (
	FlagMemInfo       = 1 << 0
	FlagBootDevice    = 1 << 1
	FlagCmdLine       = 1 << 2
	FlagModules       = 1 << 3
	FlagSymbolTable   = 1 << 4 | 1 << 5
	FlagMemoryMap     = 1 << 6
	FlagFramebuffer   = 1 << 12
)

// Info mirrors the multiboot v1 information structure's leading
// fields, in the fixed order the bootloader writes them.
type Info struct {
	Flags           uint32
	MemLower        uint32
	MemUpper        uint32
	BootDevice      uint32
	CmdLine         uint32
	ModsCount       uint32
	ModsAddr        uint32
	_               [4]uint32 // syms: unused, no ELF/a.out symbol table needed here
	MmapLength      uint32
	MmapAddr        uint32
	_               [3]uint32 // drives_length, drives_addr, config_table
	BootLoaderName  uint32
	_               uint32 // apm_table
	_               uint32 // vbe_control_info
	_               uint32 // vbe_mode_info
	_               uint16 // vbe_mode
	_               uint16 // vbe_interface_seg
	_               uint16 // vbe_interface_off
	_               uint16 // vbe_interface_len
	FramebufferAddr uint64
	FramebufferPitch uint32
	FramebufferWidth uint32
	FramebufferHeight uint32
	FramebufferBpp  uint8
	FramebufferType uint8
}

// Module describes one boot module entry (mods_addr[i]).
type Module struct {
	ModStart uint32
	ModEnd   uint32
	String   uint32
	_        uint32 // reserved
}

var infoPtr uintptr

// SetInfoPtr records the physical address of the multiboot info
// structure, passed in ebx at kernel entry. Must be called before any
// other function in this package.
func SetInfoPtr(ptr uintptr) {
	infoPtr = ptr
}

// Read returns the multiboot Info structure at the recorded pointer.
func Read() *Info {
	return (*Info)(unsafe.Pointer(infoPtr))
}

// FirstModule returns the first boot module entry, or nil if
// mods_count is zero. Spec §4.7 step 1: "read the first (optional)
// module pointer."
func FirstModule(info *Info) *Module {
	if info.ModsCount == 0 {
		return nil
	}
	return (*Module)(unsafe.Pointer(uintptr(info.ModsAddr)))
}

// Verify reports whether the basic memory info flag is set. It checks
// no other field; in particular the framebuffer fields are not
// verified.
func Verify(info *Info) bool {
	if info.Flags&FlagMemInfo == 0 {
		return false
	}
	return true
}
