package wire

import (
	"errors"
	"reflect"
	"testing"
)

func TestKindName(t *testing.T) {
	tests := []struct {
		kind uint8
		want string
	}{
		{KindStructured, "STRUCTURED"},
		{KindTagged, "TAGGED"},
		{0xFF, "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := KindName(tt.kind); got != tt.want {
			t.Errorf("KindName(%d) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestStructuredRoundTrip(t *testing.T) {
	c := NewCodec()

	doc := map[string]any{
		"type":   "pair_request",
		"ref":    "1@abc",
		"phone":  "40712345678",
		"resume": true,
		"ttl":    float64(20000),
	}

	buf, err := c.EncodeStructured("12.1700000000000", doc)
	if err != nil {
		t.Fatalf("EncodeStructured: %v", err)
	}

	f, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Kind != KindStructured {
		t.Errorf("Kind = %s, want STRUCTURED", KindName(f.Kind))
	}
	if f.Tag != "12.1700000000000" {
		t.Errorf("Tag = %q", f.Tag)
	}
	if !reflect.DeepEqual(f.Doc, doc) {
		t.Errorf("Doc = %#v, want %#v", f.Doc, doc)
	}
}

func TestStructuredEmptyTag(t *testing.T) {
	c := NewCodec()

	buf, err := c.EncodeStructured("", map[string]any{"status": "connected"})
	if err != nil {
		t.Fatalf("EncodeStructured: %v", err)
	}

	f, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Tag != "" {
		t.Errorf("Tag = %q, want empty", f.Tag)
	}
	if f.Doc["status"] != "connected" {
		t.Errorf("Doc = %#v", f.Doc)
	}
}

func TestKeepaliveProbe(t *testing.T) {
	c := NewCodec()

	buf, err := c.EncodeStructured("?", nil)
	if err != nil {
		t.Fatalf("EncodeStructured: %v", err)
	}

	f, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Tag != "?" {
		t.Errorf("Tag = %q, want ?", f.Tag)
	}
	if f.Doc != nil {
		t.Errorf("Doc = %#v, want nil for a bare-tag probe", f.Doc)
	}
}

func TestTaggedRoundTrip(t *testing.T) {
	c := NewCodec()

	node := &Node{
		Tag:   "action",
		Attrs: map[string]string{"type": "set", "epoch": "3"},
		Children: []*Node{
			{
				Tag:   "message",
				Attrs: map[string]string{"to": "123@s", "id": "m1"},
				Data:  []byte{0xDE, 0xAD, 0xBE, 0xEF},
			},
			{
				Tag: "receipt",
			},
		},
	}

	buf, err := c.EncodeTagged("7.99", node)
	if err != nil {
		t.Fatalf("EncodeTagged: %v", err)
	}

	f, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Kind != KindTagged {
		t.Errorf("Kind = %s, want TAGGED", KindName(f.Kind))
	}
	if f.Tag != "7.99" {
		t.Errorf("Tag = %q, want 7.99", f.Tag)
	}
	if !reflect.DeepEqual(f.Node, node) {
		t.Errorf("Node = %#v, want %#v", f.Node, node)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	c := NewCodec()

	for _, buf := range [][]byte{nil, {}, {0x57}, {0x57, 0x4C, 0x01}} {
		_, err := c.Decode(buf)
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Decode(%v) err = %v, want ErrMalformedFrame", buf, err)
		}
	}
}

func TestDecodeBadMagic(t *testing.T) {
	c := NewCodec()

	buf, err := c.EncodeStructured("1.1", map[string]any{"a": "b"})
	if err != nil {
		t.Fatal(err)
	}
	buf[0] ^= 0xFF

	if _, err := c.Decode(buf); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	c := NewCodec()

	buf := append([]byte{}, Magic[:]...)
	buf = append(buf, 0x7E, 0x01, 0x00, 0x00)
	buf = append(buf, []byte(`x,{"a":1}`)...)

	if _, err := c.Decode(buf); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestDecodeTaggedTruncatedTag(t *testing.T) {
	c := NewCodec()

	buf := append([]byte{}, Magic[:]...)
	buf = append(buf, KindTagged, 0x01, 0x00, 0x00)
	// Claims a 200-byte tag but provides 2 bytes.
	buf = append(buf, 0x00, 0xC8, 'a', 'b')

	if _, err := c.Decode(buf); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecodeStructuredNotJSON(t *testing.T) {
	c := NewCodec()

	buf := append([]byte{}, Magic[:]...)
	buf = append(buf, KindStructured, 0x01, 0x00, 0x00)
	buf = append(buf, []byte("tag,{broken")...)

	if _, err := c.Decode(buf); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestVersionEcho(t *testing.T) {
	server := NewCodec()
	server.observeVersion(KindStructured, [3]byte{0x02, 0x09, 0x01})
	inbound, err := server.EncodeStructured("", map[string]any{"status": "connected"})
	if err != nil {
		t.Fatal(err)
	}

	client := NewCodec()
	if _, err := client.Decode(inbound); err != nil {
		t.Fatal(err)
	}

	// Next outbound structured frame must echo the server's descriptor.
	out, err := client.EncodeStructured("1.1", map[string]any{"a": "b"})
	if err != nil {
		t.Fatal(err)
	}
	if out[3] != 0x02 || out[4] != 0x09 || out[5] != 0x01 {
		t.Errorf("version bytes = %x, want 020901", out[3:6])
	}

	// Tagged frames keep their own descriptor.
	out2, err := client.EncodeTagged("1.2", &Node{Tag: "query"})
	if err != nil {
		t.Fatal(err)
	}
	if out2[3] != DefaultVersion[0] {
		t.Errorf("tagged version = %x, want default", out2[3:6])
	}
}

func TestBareTagFrame(t *testing.T) {
	c := NewCodec()

	buf := append([]byte{}, Magic[:]...)
	buf = append(buf, KindStructured, 0x01, 0x00, 0x00)
	buf = append(buf, []byte("?,")...)

	f, err := c.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Tag != "?" || f.Doc != nil {
		t.Errorf("got tag=%q doc=%v, want bare '?' frame", f.Tag, f.Doc)
	}
}
