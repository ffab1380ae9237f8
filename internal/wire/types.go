// Package wire defines the frame codec for the messaging service's web protocol.
package wire

// Frame kind constants. The kind byte is the first byte of the 4-byte
// kind/version descriptor that follows the magic.
const (
	// KindStructured carries a self-delimited text payload: an optional
	// correlation tag, a comma, and a JSON document.
	KindStructured uint8 = 0x01

	// KindTagged carries a length-prefixed correlation tag followed by a
	// token-indexed binary node tree.
	KindTagged uint8 = 0x02
)

// Protocol constants.
const (
	// MagicSize is the size of the frame magic in bytes.
	MagicSize = 2

	// DescriptorSize is the size of the kind/version descriptor in bytes.
	DescriptorSize = 4

	// HeaderSize is the total size of a frame header in bytes.
	HeaderSize = MagicSize + DescriptorSize

	// MaxPayloadSize is the maximum frame payload size (1 MB).
	MaxPayloadSize = 1 << 20

	// MaxFrameSize is the maximum total frame size.
	MaxFrameSize = HeaderSize + MaxPayloadSize
)

// Magic is the 2-byte constant that prefixes every frame.
var Magic = [MagicSize]byte{0x57, 0x4C}

// DefaultVersion is the descriptor version used for outbound frames until an
// inbound frame of the same kind has been observed. The three version bytes
// are opaque to this client and are echoed back from the most recent inbound
// frame of the matching kind.
var DefaultVersion = [3]byte{0x01, 0x00, 0x00}

// KindName returns a human-readable name for a frame kind.
func KindName(k uint8) string {
	switch k {
	case KindStructured:
		return "STRUCTURED"
	case KindTagged:
		return "TAGGED"
	default:
		return "UNKNOWN"
	}
}

// IsKnownKind returns true if the kind byte is a recognized frame kind.
func IsKnownKind(k uint8) bool {
	return k == KindStructured || k == KindTagged
}
