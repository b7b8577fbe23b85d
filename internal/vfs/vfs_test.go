package vfs

import (
	"encoding/binary"
	"testing"
)

func putHeader(buf []byte, id, flags uint32, name string, size uint32) []byte {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], id)
	binary.LittleEndian.PutUint32(hdr[4:8], flags)
	copy(hdr[8:8+NameSize], name)
	binary.LittleEndian.PutUint32(hdr[8+NameSize:headerSize], size)
	return append(buf, hdr[:]...)
}

func TestParseSingleFile(t *testing.T) {
	var img []byte
	img = putHeader(img, 1, flagIsFile, "hello.txt", 5)
	img = append(img, []byte("world")...)

	roots, err := Parse(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 {
		t.Fatalf("expected 1 root node, got %d", len(roots))
	}
	f := roots[0]
	if !f.IsFile || f.Name.String() != "hello.txt" {
		t.Fatalf("unexpected node: %+v", f)
	}
	contents, err := f.AsFile()
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != "world" {
		t.Fatalf("expected contents %q, got %q", "world", contents)
	}
}

func TestParseDirectoryWithChildren(t *testing.T) {
	var img []byte
	img = putHeader(img, 1, 0, "root", 2)
	img = putHeader(img, 2, flagIsFile, "a.txt", 1)
	img = append(img, 'A')
	img = putHeader(img, 3, flagIsFile, "b.txt", 1)
	img = append(img, 'B')

	roots, err := Parse(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	dir := roots[0]
	children, err := dir.AsDir()
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}

	a, err := dir.Lookup(Name("a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	contents, _ := a.AsFile()
	if string(contents) != "A" {
		t.Fatalf("expected 'A', got %q", contents)
	}
}

func TestParseMultipleRootNodes(t *testing.T) {
	var img []byte
	img = putHeader(img, 1, flagIsFile, "a", 0)
	img = putHeader(img, 2, flagIsFile, "b", 0)

	roots, err := Parse(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 root nodes, got %d", len(roots))
	}
}

func TestParseTruncatedHeaderErrors(t *testing.T) {
	img := make([]byte, headerSize-1)
	if _, err := Parse(img); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestParseTruncatedFileBodyErrors(t *testing.T) {
	var img []byte
	img = putHeader(img, 1, flagIsFile, "a", 10)
	img = append(img, []byte("short")...)

	if _, err := Parse(img); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestLookupMissingChildErrors(t *testing.T) {
	var img []byte
	img = putHeader(img, 1, 0, "root", 0)

	roots, err := Parse(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := roots[0].Lookup(Name("nope")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAsFileOnDirectoryErrors(t *testing.T) {
	var img []byte
	img = putHeader(img, 1, 0, "root", 0)

	roots, _ := Parse(img)
	if _, err := roots[0].AsFile(); err != ErrNotAFile {
		t.Fatalf("expected ErrNotAFile, got %v", err)
	}
}

func TestAsDirOnFileErrors(t *testing.T) {
	var img []byte
	img = putHeader(img, 1, flagIsFile, "f", 0)

	roots, _ := Parse(img)
	if _, err := roots[0].AsDir(); err != ErrNotADir {
		t.Fatalf("expected ErrNotADir, got %v", err)
	}
}

func TestNameTrimmedAtNUL(t *testing.T) {
	var img []byte
	img = putHeader(img, 1, flagIsFile, "short", 0)

	roots, _ := Parse(img)
	if len(roots[0].Name) != len("short") {
		t.Fatalf("expected name trimmed to %d bytes, got %d", len("short"), len(roots[0].Name))
	}
}
