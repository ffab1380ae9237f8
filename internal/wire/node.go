package wire

import (
	"fmt"
	"sort"
)

// Node is one element of the tagged binary tree. A node carries a description
// tag, optional string attributes, and either child nodes or opaque bytes as
// content (never both).
type Node struct {
	Tag      string
	Attrs    map[string]string
	Children []*Node
	Data     []byte
}

// NewNode creates a node with the given tag and attributes.
func NewNode(tag string, attrs map[string]string) *Node {
	return &Node{Tag: tag, Attrs: attrs}
}

// Attr returns the value of an attribute, or "" if absent.
func (n *Node) Attr(key string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// Child returns the first child with the given tag, or nil.
func (n *Node) Child(tag string) *Node {
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// String returns a debug representation of the node.
func (n *Node) String() string {
	return fmt.Sprintf("Node{tag=%s, attrs=%d, children=%d, data=%d}",
		n.Tag, len(n.Attrs), len(n.Children), len(n.Data))
}

// EncodeNode serializes a node tree to its token-indexed binary form.
func EncodeNode(n *Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil node", ErrMalformedFrame)
	}
	var buf []byte
	return appendNode(buf, n)
}

// appendNode appends the binary form of a node.
// A node is a list of: tag, attribute key/value pairs, and an optional
// content slot (a nested list for children or a byte string for data).
func appendNode(buf []byte, n *Node) ([]byte, error) {
	if len(n.Children) > 0 && len(n.Data) > 0 {
		return nil, fmt.Errorf("%w: node %q has both children and data", ErrMalformedFrame, n.Tag)
	}

	slots := 1 + 2*len(n.Attrs)
	if len(n.Children) > 0 || n.Data != nil {
		slots++
	}

	buf = appendListHeader(buf, slots)

	var err error
	buf, err = appendString(buf, n.Tag)
	if err != nil {
		return nil, err
	}

	// Sorted attribute order keeps the encoding deterministic.
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if buf, err = appendString(buf, k); err != nil {
			return nil, err
		}
		if buf, err = appendString(buf, n.Attrs[k]); err != nil {
			return nil, err
		}
	}

	switch {
	case len(n.Children) > 0:
		buf = appendListHeader(buf, len(n.Children))
		for _, c := range n.Children {
			if buf, err = appendNode(buf, c); err != nil {
				return nil, err
			}
		}
	case n.Data != nil:
		buf = appendBytes(buf, n.Data)
	}

	return buf, nil
}

// appendListHeader appends a list marker and element count.
func appendListHeader(buf []byte, n int) []byte {
	switch {
	case n == 0:
		return append(buf, markerListEmpty)
	case n < 256:
		return append(buf, markerList8, byte(n))
	default:
		return append(buf, markerList16, byte(n>>8), byte(n))
	}
}

// appendString appends a string as a dictionary token when possible, or as a
// length-prefixed byte literal otherwise.
func appendString(buf []byte, s string) ([]byte, error) {
	if t, ok := lookupToken(s); ok {
		return append(buf, t), nil
	}
	return appendBytes(buf, []byte(s)), nil
}

// appendBytes appends a byte string with the smallest length marker that fits.
func appendBytes(buf []byte, b []byte) []byte {
	n := len(b)
	switch {
	case n < 256:
		buf = append(buf, markerBinary8, byte(n))
	case n < 1<<20:
		buf = append(buf, markerBinary20, byte(n>>16), byte(n>>8), byte(n))
	default:
		buf = append(buf, markerBinary32, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	return append(buf, b...)
}

// nodeDecoder walks a buffer decoding the token-indexed binary form. All
// length fields are validated against the remaining buffer before slicing.
type nodeDecoder struct {
	buf    []byte
	offset int
}

// DecodeNode deserializes a node tree from its binary form.
func DecodeNode(buf []byte) (*Node, error) {
	d := &nodeDecoder{buf: buf}
	n, err := d.readNode()
	if err != nil {
		return nil, err
	}
	if d.offset != len(d.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes after node", ErrMalformedFrame, len(d.buf)-d.offset)
	}
	return n, nil
}

func (d *nodeDecoder) readByte() (byte, error) {
	if d.offset >= len(d.buf) {
		return 0, fmt.Errorf("%w: node truncated", ErrMalformedFrame)
	}
	b := d.buf[d.offset]
	d.offset++
	return b, nil
}

func (d *nodeDecoder) readSlice(n int) ([]byte, error) {
	if n < 0 || d.offset+n > len(d.buf) {
		return nil, fmt.Errorf("%w: length %d exceeds remaining buffer", ErrMalformedFrame, n)
	}
	b := d.buf[d.offset : d.offset+n]
	d.offset += n
	return b, nil
}

// readListSize reads a list header and returns the element count.
func (d *nodeDecoder) readListSize() (int, error) {
	marker, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch marker {
	case markerListEmpty:
		return 0, nil
	case markerList8:
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		return int(b), nil
	case markerList16:
		b, err := d.readSlice(2)
		if err != nil {
			return 0, err
		}
		return int(b[0])<<8 | int(b[1]), nil
	default:
		return 0, fmt.Errorf("%w: expected list marker, got 0x%02x", ErrMalformedFrame, marker)
	}
}

// readString reads a dictionary token or a byte literal as a string.
func (d *nodeDecoder) readString() (string, error) {
	marker, err := d.readByte()
	if err != nil {
		return "", err
	}
	if s, ok := tokenString(marker); ok {
		return s, nil
	}
	b, err := d.readLiteral(marker)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readLiteral reads the body of a byte literal whose marker was consumed.
func (d *nodeDecoder) readLiteral(marker byte) ([]byte, error) {
	var n int
	switch marker {
	case markerBinary8:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		n = int(b)
	case markerBinary20:
		b, err := d.readSlice(3)
		if err != nil {
			return nil, err
		}
		n = (int(b[0])&0x0F)<<16 | int(b[1])<<8 | int(b[2])
	case markerBinary32:
		b, err := d.readSlice(4)
		if err != nil {
			return nil, err
		}
		n = int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
	default:
		return nil, fmt.Errorf("%w: expected string, got marker 0x%02x", ErrMalformedFrame, marker)
	}
	b, err := d.readSlice(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// readNode reads one node: a list of tag, attr pairs, optional content.
func (d *nodeDecoder) readNode() (*Node, error) {
	size, err := d.readListSize()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: empty node list", ErrMalformedFrame)
	}

	n := &Node{}
	if n.Tag, err = d.readString(); err != nil {
		return nil, err
	}

	attrCount := (size - 1) / 2
	hasContent := (size-1)%2 == 1

	if attrCount > 0 {
		n.Attrs = make(map[string]string, attrCount)
	}
	for i := 0; i < attrCount; i++ {
		k, err := d.readString()
		if err != nil {
			return nil, err
		}
		v, err := d.readString()
		if err != nil {
			return nil, err
		}
		n.Attrs[k] = v
	}

	if hasContent {
		if err := d.readContent(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// readContent reads the content slot: a nested list becomes children, a byte
// string becomes data.
func (d *nodeDecoder) readContent(n *Node) error {
	if d.offset >= len(d.buf) {
		return fmt.Errorf("%w: node content missing", ErrMalformedFrame)
	}

	switch marker := d.buf[d.offset]; marker {
	case markerListEmpty, markerList8, markerList16:
		count, err := d.readListSize()
		if err != nil {
			return err
		}
		n.Children = make([]*Node, 0, count)
		for i := 0; i < count; i++ {
			c, err := d.readNode()
			if err != nil {
				return err
			}
			n.Children = append(n.Children, c)
		}
	case markerBinary8, markerBinary20, markerBinary32:
		d.offset++
		data, err := d.readLiteral(marker)
		if err != nil {
			return err
		}
		n.Data = data
	default:
		// A dictionary token in content position is a short data string.
		if s, ok := tokenString(marker); ok {
			d.offset++
			n.Data = []byte(s)
			return nil
		}
		return fmt.Errorf("%w: unexpected content marker 0x%02x", ErrMalformedFrame, marker)
	}
	return nil
}
