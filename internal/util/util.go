// Package util holds small generic numeric helpers shared by the
// allocator and memory-map arithmetic.
//
// Grounded on biscuit/src/util/util.go's Min/Rounddown/Roundup trio;
// Readn/Writen are not carried over since every unaligned-width read
// this kernel needs already goes through encoding/binary (heap chunk
// headers, vfs wire-format headers) rather than raw unsafe.Pointer
// casts over an arbitrary byte count.
package util

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}
