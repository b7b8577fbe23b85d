// Package disasm decodes the instruction at a faulting EIP for page-
// fault and general-protection-fault diagnostics.
//
// Grounded on gopher-os's kernel/hal/multiboot's tag-scanning style of
// reading raw memory bytes into a structured report; the decode itself
// is golang.org/x/arch/x86/x86asm, the pack's x86 instruction decoder.
package disasm

import "golang.org/x/arch/x86/x86asm"

// mode32 selects 32-bit decoding, matching this kernel's protected-mode,
// non-PAE execution environment.
const mode32 = 32

// Describe decodes the single instruction at the front of code and
// returns a human-readable GNU-syntax rendering, e.g. for inclusion in
// a page-fault dump. If code cannot be decoded (truncated read at the
// faulting address, or an unrecognized byte sequence — both of which
// happen when CR2 points at already-corrupted state), a fallback
// string naming the raw bytes is returned instead of an error, since
// diagnostic output must never itself fail.
func Describe(code []byte) string {
	inst, err := x86asm.Decode(code, mode32)
	if err != nil {
		return rawBytes(code)
	}
	return x86asm.GNUSyntax(inst, 0, nil)
}

// Len reports the byte length of the instruction at the front of code,
// or 0 if it could not be decoded.
func Len(code []byte) int {
	inst, err := x86asm.Decode(code, mode32)
	if err != nil {
		return 0
	}
	return inst.Len
}

func rawBytes(code []byte) string {
	n := len(code)
	if n > 8 {
		n = 8
	}
	out := make([]byte, 0, 3*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ' ')
		}
		out = appendHexByte(out, code[i])
	}
	return "<bytes " + string(out) + ">"
}

func appendHexByte(dst []byte, b byte) []byte {
	const hex = "0123456789abcdef"
	return append(dst, hex[b>>4], hex[b&0xf])
}
