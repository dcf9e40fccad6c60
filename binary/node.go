// Package binary implements the compact binary serialization of the
// XML-like node tree used on the wire once a session is authenticated. The
// format is not self-describing beyond its tag bytes: sender and receiver
// must share the same token dictionary. The overall shape — a byte-tag
// dispatch with dedicated encode/decode helpers per tag, plus a typed
// malformed-input error — follows the teacher's commands.Command byte
// layout (core/wire/commands/commands.go), generalized from a flat command
// set to a recursive tree.
package binary

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Tag bytes, per the wire format's key subset.
const (
	tagListEmpty  = 0
	tagStreamEnd  = 2
	tagDictionary0 = 236
	tagDictionary1 = 237
	tagDictionary2 = 238
	tagDictionary3 = 239
	tagAdJid      = 247
	tagList8      = 248
	tagList16     = 249
	tagJidPair    = 250
	tagHex8       = 251
	tagBinary8    = 252
	tagBinary20   = 253
	tagBinary32   = 254
	tagNibble8    = 255
)

// nibbleAlphabet is the packed-digit alphabet used by NIBBLE_8; HEX_8 uses
// the standard hex alphabet.
const nibbleAlphabet = "0123456789-.\x00\x00\x00"
const hexAlphabet = "0123456789abcdef"

// dedicatedServers are the JID server suffixes with a compact JID_PAIR
// encoding; anything else falls back to an attribute-string "user@server".
var dedicatedServers = map[string]bool{
	"s.whatsapp.net": true,
	"g.us":           true,
	"broadcast":      true,
	"c.us":           true,
	"lid":            true,
}

// MalformedNodeError is returned for any tag byte or length field outside
// the defined wire format.
type MalformedNodeError struct {
	Reason string
}

func (e *MalformedNodeError) Error() string {
	return fmt.Sprintf("binary: malformed node: %s", e.Reason)
}

// JID is a WhatsApp addressable entity: user@server, optionally qualified
// by an agent/device pair (AD_JID).
type JID struct {
	User   string
	Server string
	Agent  uint8
	Device uint8
	HasAD  bool
}

func (j JID) String() string {
	if j.Server == "" {
		return j.User
	}
	return j.User + "@" + j.Server
}

// Node is the XML-like tree unit: a description, an ordered set of
// attributes, and optional content — either raw bytes or child nodes.
// Attrs is a slice of pairs rather than a map so that encode/decode
// round-trips preserve attribute order, per spec: "the codec does not
// sort; tests rely on round-trip equality under the preserved order."
type Node struct {
	Description string
	Attrs       []Attr
	Children    []Node
	Content     []byte
	HasChildren bool
}

// Attr is a single ordered attribute. Value is either a plain string or a
// JID; exactly one of Str/JID is meaningful, selected by IsJID.
type Attr struct {
	Key   string
	Str   string
	JID   JID
	IsJID bool
}

func StrAttr(key, value string) Attr { return Attr{Key: key, Str: value} }
func JIDAttr(key string, j JID) Attr { return Attr{Key: key, JID: j, IsJID: true} }

func (a Attr) Value() string {
	if a.IsJID {
		return a.JID.String()
	}
	return a.Str
}

// encoder accumulates encoded bytes and resolves strings against the token
// dictionary, falling back to BINARY_8 for anything not present in it —
// mirroring how Command.ToBytes builds up a byte slice incrementally rather
// than via a generic marshaler.
type encoder struct {
	buf []byte
}

func (e *encoder) writeByte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) writeBytes(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) writeListHeader(n int) {
	switch {
	case n == 0:
		e.writeByte(tagListEmpty)
	case n < 256:
		e.writeByte(tagList8)
		e.writeByte(byte(n))
	default:
		e.writeByte(tagList16)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		e.writeBytes(b[:])
	}
}

func (e *encoder) writeBinary(data []byte) {
	n := len(data)
	switch {
	case n < 256:
		e.writeByte(tagBinary8)
		e.writeByte(byte(n))
	case n < 1<<20:
		e.writeByte(tagBinary20)
		var b [3]byte
		b[0] = byte(n >> 16)
		b[1] = byte(n >> 8)
		b[2] = byte(n)
		e.writeBytes(b[:])
	default:
		e.writeByte(tagBinary32)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		e.writeBytes(b[:])
	}
	e.writeBytes(data)
}

func (e *encoder) writeString(s string) {
	if tok, dict, ok := lookupToken(s); ok {
		if dict == primaryDict {
			e.writeByte(tok)
			return
		}
		e.writeByte(dictionaryTag(dict))
		e.writeByte(tok)
		return
	}
	if isPackableNibble(s) {
		e.writeNibble(s)
		return
	}
	if isPackableHex(s) {
		e.writeHex(s)
		return
	}
	e.writeBinary([]byte(s))
}

func (e *encoder) writeNibble(s string) {
	e.writePacked(s, nibbleAlphabet, tagNibble8)
}

func (e *encoder) writeHex(s string) {
	e.writePacked(s, hexAlphabet, tagHex8)
}

func (e *encoder) writePacked(s, alphabet string, tag byte) {
	e.writeByte(tag)
	truncated := len(s)%2 != 0
	nbytes := (len(s) + 1) / 2
	lenByte := byte(nbytes)
	if truncated {
		lenByte |= 0x80
	}
	e.writeByte(lenByte)
	for i := 0; i < nbytes; i++ {
		hi := packedIndex(alphabet, s, i*2)
		lo := byte(0)
		if i*2+1 < len(s) {
			lo = packedIndex(alphabet, s, i*2+1)
		}
		e.writeByte(hi<<4 | lo)
	}
}

func packedIndex(alphabet, s string, pos int) byte {
	idx := strings.IndexByte(alphabet, s[pos])
	return byte(idx)
}

func isPackableNibble(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(nibbleAlphabet[:12], s[i]) < 0 {
			return false
		}
	}
	return true
}

func isPackableHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(hexAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

func (e *encoder) writeJID(j JID) {
	if j.HasAD {
		e.writeByte(tagAdJid)
		e.writeByte(j.Agent)
		e.writeByte(j.Device)
		e.writeString(j.User)
		return
	}
	if dedicatedServers[j.Server] {
		e.writeByte(tagJidPair)
		if j.User == "" {
			e.writeByte(tagListEmpty)
		} else {
			e.writeString(j.User)
		}
		e.writeString(j.Server)
		return
	}
	e.writeString(j.String())
}

func (e *encoder) writeAttr(a Attr) {
	e.writeString(a.Key)
	if a.IsJID {
		e.writeJID(a.JID)
	} else {
		e.writeString(a.Str)
	}
}

// Encode serializes a node per spec §4.2: a list header of size
// 1 + 2*len(attrs) + (content present ? 1 : 0), the description, each
// attribute key/value pair in order, then content.
func Encode(n Node) []byte {
	e := &encoder{}
	encodeNode(e, n)
	return e.buf
}

func encodeNode(e *encoder, n Node) {
	size := 1 + 2*len(n.Attrs)
	hasContent := n.Content != nil || n.HasChildren
	if hasContent {
		size++
	}
	e.writeListHeader(size)
	e.writeString(n.Description)
	for _, a := range n.Attrs {
		e.writeAttr(a)
	}
	if !hasContent {
		return
	}
	if n.HasChildren {
		e.writeListHeader(len(n.Children))
		for _, c := range n.Children {
			encodeNode(e, c)
		}
		return
	}
	e.writeBinary(n.Content)
}
