package wire

// The node codec replaces frequently used protocol strings with single-byte
// dictionary tokens. Token 0x00 is reserved; literal string markers occupy
// 0xF8 and above, so the table may hold at most 0xF7 entries.

const (
	tokenReserved = 0x00

	// Literal markers, outside the token range.
	markerListEmpty = 0xF8
	markerList8     = 0xF9
	markerList16    = 0xFA
	markerBinary8   = 0xFC
	markerBinary20  = 0xFD
	markerBinary32  = 0xFE
)

// maxTokenIndex is the highest usable dictionary token value.
const maxTokenIndex = 0xF7

// tokenTable maps token byte values (index+1) to protocol strings. Order is
// part of the wire format; append only.
var tokenTable = []string{
	"action", "add", "admin", "after", "ack", "all", "allow", "apns",
	"author", "available", "battery", "before", "body", "broadcast",
	"category", "challenge", "chat", "clean", "code", "composing",
	"config", "contacts", "count", "create", "debug", "delete", "delivered",
	"deny", "description", "dirty", "duplicate", "duration", "encoding",
	"error", "event", "expiration", "expired", "filehash", "from", "group",
	"groups", "height", "id", "image", "in", "index", "invis", "item",
	"jid", "kind", "last", "leave", "live", "log", "media", "message",
	"messages", "missing", "modify", "name", "notification", "notify",
	"out", "owner", "paused", "phone", "picture", "pin", "played",
	"presence", "preview", "query", "raw", "read", "reason", "receipt",
	"received", "recipient", "recording", "relay", "remove", "response",
	"resume", "retry", "seconds", "set", "silent", "size", "status",
	"subject", "subscribe", "success", "sync", "t", "text", "timeout",
	"timestamp", "to", "true", "type", "unarchive", "unavailable", "url",
	"user", "value", "web", "width", "xmlns",
}

// tokenIndex maps protocol strings back to their single-byte token values.
var tokenIndex = func() map[string]byte {
	m := make(map[string]byte, len(tokenTable))
	for i, s := range tokenTable {
		m[s] = byte(i + 1)
	}
	return m
}()

// lookupToken returns the token byte for a string, if one exists.
func lookupToken(s string) (byte, bool) {
	t, ok := tokenIndex[s]
	return t, ok
}

// tokenString returns the string for a token byte, if the byte is in range.
func tokenString(t byte) (string, bool) {
	if t == tokenReserved || int(t) > len(tokenTable) || t > maxTokenIndex {
		return "", false
	}
	return tokenTable[t-1], true
}
