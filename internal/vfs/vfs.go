// Package vfs parses the immutable node tree baked into the initrd
// image: a recursive wire format of {id, flags, name, size} headers
// followed by either file bytes or a count of child nodes.
//
// Grounded on original_source/kernel/vfs.cpp's ParseOneNode/ParseVFS
// (the exact header layout and recursive file/directory decoding) and
// on biscuit/src/ustr/ustr.go's Ustr for name comparisons, adapted
// from ustr's raw byte-slice wrapper to a fixed-width name field
// matching the wire format's 64-byte name (spec.md's own initrd
// description doesn't name a name-handling type, so this choice
// preserves the teacher's immutable-byte-slice idiom for path pieces).
package vfs

import (
	"encoding/binary"

	"toykernel/internal/kerrors"
)

// NameSize is the fixed width of a node's name field on the wire,
// matching original_source/kernel/include/vfs.h's kFilenameSize.
const NameSize = 64

// headerSize is sizeof(fileid) + sizeof(flags) + NameSize + sizeof(size),
// all as little-endian uint32 fields on the wire.
const headerSize = 4 + 4 + NameSize + 4

const flagIsFile = 1

var (
	ErrTruncated = kerrors.New("vfs", "initrd image ends mid-node")
	ErrNotAFile  = kerrors.New("vfs", "node is a directory, not a file")
	ErrNotADir   = kerrors.New("vfs", "node is a file, not a directory")
	ErrNotFound  = kerrors.New("vfs", "no child with that name")
)

// Name is an immutable node name, per the wire format's fixed 64-byte
// field, NUL-trimmed once parsed.
type Name []byte

/// Eq compares two Names for equality.
func (n Name) Eq(o Name) bool {
	if len(n) != len(o) {
		return false
	}
	for i := range n {
		if n[i] != o[i] {
			return false
		}
	}
	return true
}

func (n Name) String() string { return string(n) }

// Node is one entry in the parsed tree: exactly one of File or Dir is
// populated, mirroring original_source's Node::AsFile/AsDir split.
type Node struct {
	ID     uint32
	Name   Name
	IsFile bool

	Contents []byte  // valid iff IsFile
	Children []*Node // valid iff !IsFile
}

// AsFile returns n.Contents, or ErrNotAFile if n is a directory.
func (n *Node) AsFile() ([]byte, error) {
	if !n.IsFile {
		return nil, ErrNotAFile
	}
	return n.Contents, nil
}

// AsDir returns n.Children, or ErrNotADir if n is a file.
func (n *Node) AsDir() ([]*Node, error) {
	if n.IsFile {
		return nil, ErrNotADir
	}
	return n.Children, nil
}

// Lookup finds the immediate child of a directory node by name.
func (n *Node) Lookup(name Name) (*Node, error) {
	children, err := n.AsDir()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.Name.Eq(name) {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

// Parse decodes the initrd byte image into a tree of root-level nodes,
// grounded on original_source/kernel/vfs.cpp's ParseVFS: the image is
// a flat sequence of top-level nodes with no enclosing root header.
func Parse(image []byte) ([]*Node, error) {
	var roots []*Node
	rest := image
	for len(rest) > 0 {
		node, tail, err := parseOne(rest)
		if err != nil {
			return nil, err
		}
		roots = append(roots, node)
		rest = tail
	}
	return roots, nil
}

// parseOne decodes a single node per ParseOneNode and returns it along
// with the remaining unparsed bytes.
func parseOne(b []byte) (*Node, []byte, error) {
	if len(b) < headerSize {
		return nil, nil, ErrTruncated
	}
	id := binary.LittleEndian.Uint32(b[0:4])
	flags := binary.LittleEndian.Uint32(b[4:8])
	rawName := b[8 : 8+NameSize]
	name := trimNUL(rawName)
	size := binary.LittleEndian.Uint32(b[8+NameSize : headerSize])
	rest := b[headerSize:]

	isFile := flags&flagIsFile != 0
	node := &Node{ID: id, Name: name, IsFile: isFile}

	if isFile {
		if uint32(len(rest)) < size {
			return nil, nil, ErrTruncated
		}
		node.Contents = rest[:size]
		return node, rest[size:], nil
	}

	for i := uint32(0); i < size; i++ {
		child, tail, err := parseOne(rest)
		if err != nil {
			return nil, nil, err
		}
		node.Children = append(node.Children, child)
		rest = tail
	}
	return node, rest, nil
}

func trimNUL(b []byte) Name {
	for i, c := range b {
		if c == 0 {
			return Name(b[:i])
		}
	}
	return Name(b)
}
