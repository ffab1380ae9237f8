package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMalformedFrame is returned when a frame or node is malformed.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownKind is returned for unrecognized frame kinds.
	ErrUnknownKind = errors.New("unknown frame kind")

	// ErrFrameTooLarge is returned when a payload exceeds the maximum size.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")
)

// Frame represents one decoded wire frame.
// Wire format:
//
//	Magic    [2 bytes] - constant prefix
//	Kind     [1 byte]  - structured or tagged-binary
//	Version  [3 bytes] - opaque, echoed from the most recent inbound frame of the same kind
//	Payload  [N bytes]
type Frame struct {
	Kind    uint8
	Version [3]byte
	Tag     string

	// Doc is set for KindStructured frames.
	Doc map[string]any

	// Node is set for KindTagged frames.
	Node *Node
}

// String returns a debug representation of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{kind=%s, tag=%q}", KindName(f.Kind), f.Tag)
}

// Codec encodes and decodes frames. It tracks the last inbound version
// descriptor per kind so outbound frames echo the server's descriptor.
// Codec is safe for concurrent use.
type Codec struct {
	mu       sync.Mutex
	versions map[uint8][3]byte
}

// NewCodec creates a codec with default version descriptors.
func NewCodec() *Codec {
	return &Codec{
		versions: map[uint8][3]byte{
			KindStructured: DefaultVersion,
			KindTagged:     DefaultVersion,
		},
	}
}

// version returns the current outbound version descriptor for a kind.
func (c *Codec) version(kind uint8) [3]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[kind]
}

// observeVersion records the version descriptor of an inbound frame.
func (c *Codec) observeVersion(kind uint8, v [3]byte) {
	c.mu.Lock()
	c.versions[kind] = v
	c.mu.Unlock()
}

// header writes the frame header for a kind into a fresh buffer.
func (c *Codec) header(kind uint8) []byte {
	v := c.version(kind)
	buf := make([]byte, HeaderSize, HeaderSize+256)
	copy(buf, Magic[:])
	buf[MagicSize] = kind
	copy(buf[MagicSize+1:], v[:])
	return buf
}

// EncodeStructured serializes a structured frame. The payload text form is
// "tag,<json>"; the tag may be empty.
func (c *Codec) EncodeStructured(tag string, doc map[string]any) ([]byte, error) {
	var body []byte
	if doc != nil {
		var err error
		body, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}
	if len(tag)+1+len(body) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	buf := c.header(KindStructured)
	buf = append(buf, tag...)
	buf = append(buf, ',')
	buf = append(buf, body...)
	return buf, nil
}

// EncodeTagged serializes a tagged-binary frame: a length-prefixed tag
// followed by the node tree.
func (c *Codec) EncodeTagged(tag string, node *Node) ([]byte, error) {
	if len(tag) > 0xFFFF {
		return nil, fmt.Errorf("%w: tag too long", ErrMalformedFrame)
	}
	body, err := EncodeNode(node)
	if err != nil {
		return nil, err
	}
	if 2+len(tag)+len(body) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	buf := c.header(KindTagged)
	var tagLen [2]byte
	binary.BigEndian.PutUint16(tagLen[:], uint16(len(tag)))
	buf = append(buf, tagLen[:]...)
	buf = append(buf, tag...)
	buf = append(buf, body...)
	return buf, nil
}

// Decode deserializes a frame. Malformed input is a data condition: Decode
// returns an error wrapping ErrMalformedFrame or ErrUnknownKind and never
// panics on untrusted bytes.
func (c *Codec) Decode(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d for header", ErrMalformedFrame, len(buf), HeaderSize)
	}
	if !bytes.Equal(buf[:MagicSize], Magic[:]) {
		return nil, fmt.Errorf("%w: bad magic 0x%02x%02x", ErrMalformedFrame, buf[0], buf[1])
	}
	if len(buf) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	f := &Frame{Kind: buf[MagicSize]}
	copy(f.Version[:], buf[MagicSize+1:HeaderSize])
	payload := buf[HeaderSize:]

	switch f.Kind {
	case KindStructured:
		if err := decodeStructured(f, payload); err != nil {
			return nil, err
		}
	case KindTagged:
		if err := decodeTagged(f, payload); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, f.Kind)
	}

	c.observeVersion(f.Kind, f.Version)
	return f, nil
}

// decodeStructured splits "tag,<json>" and parses the document.
func decodeStructured(f *Frame, payload []byte) error {
	sep := bytes.IndexByte(payload, ',')
	if sep < 0 {
		return fmt.Errorf("%w: structured payload missing tag separator", ErrMalformedFrame)
	}
	f.Tag = string(payload[:sep])

	body := payload[sep+1:]
	if len(body) == 0 {
		// Bare-tag frames (keepalive acks) carry no document.
		return nil
	}
	if err := json.Unmarshal(body, &f.Doc); err != nil {
		return fmt.Errorf("%w: structured payload is not a JSON document: %v", ErrMalformedFrame, err)
	}
	return nil
}

// decodeTagged reads the length-prefixed tag and the node tree.
func decodeTagged(f *Frame, payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("%w: tagged payload too short", ErrMalformedFrame)
	}
	tagLen := int(binary.BigEndian.Uint16(payload))
	if 2+tagLen > len(payload) {
		return fmt.Errorf("%w: tag length %d exceeds payload", ErrMalformedFrame, tagLen)
	}
	f.Tag = string(payload[2 : 2+tagLen])

	node, err := DecodeNode(payload[2+tagLen:])
	if err != nil {
		return err
	}
	f.Node = node
	return nil
}
