package binary

import (
	"encoding/binary"
)

// decoder walks an encoded buffer left to right; it never backtracks, so a
// single pass decodes a full tree.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, &MalformedNodeError{Reason: "unexpected end of input reading a byte"}
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, &MalformedNodeError{Reason: "unexpected end of input reading a blob"}
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// Decode parses a single encoded node from buf and returns it along with
// the number of bytes consumed. A frame that consists of nothing but the
// bare STREAM_END tag byte is not a node at all — it carries no list header,
// description, or attributes — so it is special-cased here into the same
// "xmlstreamend" description session.Client's digester already treats as a
// disconnect signal, rather than falling into decodeNode's list-header
// dispatch and being rejected as malformed.
func Decode(buf []byte) (Node, int, error) {
	if len(buf) > 0 && buf[0] == tagStreamEnd {
		return Node{Description: "xmlstreamend"}, 1, nil
	}
	d := &decoder{buf: buf}
	n, err := decodeNode(d)
	if err != nil {
		return Node{}, 0, err
	}
	return n, d.pos, nil
}

func decodeNode(d *decoder) (Node, error) {
	size, err := readListHeader(d)
	if err != nil {
		return Node{}, err
	}
	if size == 0 {
		return Node{}, &MalformedNodeError{Reason: "node list header has zero size"}
	}

	desc, err := readString(d)
	if err != nil {
		return Node{}, err
	}

	nAttrPairs := (size - 1)
	hasContent := nAttrPairs%2 == 1
	nAttrs := nAttrPairs / 2

	n := Node{Description: desc}
	for i := 0; i < nAttrs; i++ {
		key, err := readString(d)
		if err != nil {
			return Node{}, err
		}
		val, isJID, jid, err := readAttrValue(d)
		if err != nil {
			return Node{}, err
		}
		if isJID {
			n.Attrs = append(n.Attrs, JIDAttr(key, jid))
		} else {
			n.Attrs = append(n.Attrs, StrAttr(key, val))
		}
	}

	if !hasContent {
		return n, nil
	}

	tag, err := peekTag(d)
	if err != nil {
		return Node{}, err
	}
	if isListTag(tag) {
		count, err := readListHeader(d)
		if err != nil {
			return Node{}, err
		}
		n.HasChildren = true
		n.Children = make([]Node, 0, count)
		for i := 0; i < count; i++ {
			child, err := decodeNode(d)
			if err != nil {
				return Node{}, err
			}
			n.Children = append(n.Children, child)
		}
		return n, nil
	}

	content, err := readBinaryOrPacked(d)
	if err != nil {
		return Node{}, err
	}
	n.Content = content
	return n, nil
}

func peekTag(d *decoder) (byte, error) {
	if d.remaining() < 1 {
		return 0, &MalformedNodeError{Reason: "unexpected end of input peeking tag"}
	}
	return d.buf[d.pos], nil
}

func isListTag(tag byte) bool {
	return tag == tagListEmpty || tag == tagList8 || tag == tagList16
}

func readListHeader(d *decoder) (int, error) {
	tag, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch tag {
	case tagListEmpty:
		return 0, nil
	case tagList8:
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		return int(b), nil
	case tagList16:
		b, err := d.readBytes(2)
		if err != nil {
			return 0, err
		}
		return int(binary.BigEndian.Uint16(b)), nil
	default:
		return 0, &MalformedNodeError{Reason: "expected a list header tag"}
	}
}

// readAttrValue decodes an attribute value, returning either a plain string
// or, for AD_JID/JID_PAIR tags, a structured JID.
func readAttrValue(d *decoder) (str string, isJID bool, jid JID, err error) {
	tag, err := peekTag(d)
	if err != nil {
		return "", false, JID{}, err
	}
	switch tag {
	case tagAdJid:
		d.pos++
		agent, err := d.readByte()
		if err != nil {
			return "", false, JID{}, err
		}
		device, err := d.readByte()
		if err != nil {
			return "", false, JID{}, err
		}
		user, err := readString(d)
		if err != nil {
			return "", false, JID{}, err
		}
		return "", true, JID{User: user, Agent: agent, Device: device, HasAD: true}, nil
	case tagJidPair:
		d.pos++
		userTag, err := peekTag(d)
		if err != nil {
			return "", false, JID{}, err
		}
		var user string
		if userTag == tagListEmpty {
			d.pos++
		} else {
			user, err = readString(d)
			if err != nil {
				return "", false, JID{}, err
			}
		}
		server, err := readString(d)
		if err != nil {
			return "", false, JID{}, err
		}
		return "", true, JID{User: user, Server: server}, nil
	default:
		s, err := readString(d)
		return s, false, JID{}, err
	}
}

func readBinaryOrPacked(d *decoder) ([]byte, error) {
	s, err := readString(d)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// readString decodes whatever comes next as a string: a direct token, a
// two-byte secondary-dictionary token, a packed nibble/hex string, or a raw
// BINARY_* blob.
func readString(d *decoder) (string, error) {
	tag, err := d.readByte()
	if err != nil {
		return "", err
	}
	switch tag {
	case tagDictionary0, tagDictionary1, tagDictionary2, tagDictionary3:
		idx, err := d.readByte()
		if err != nil {
			return "", err
		}
		dict := int(tag-tagDictionary0) + 1
		s, ok := tokenAt(dict, idx)
		if !ok {
			return "", &MalformedNodeError{Reason: "secondary dictionary token out of range"}
		}
		return s, nil
	case tagBinary8:
		b, err := d.readByte()
		if err != nil {
			return "", err
		}
		data, err := d.readBytes(int(b))
		if err != nil {
			return "", err
		}
		return string(data), nil
	case tagBinary20:
		lb, err := d.readBytes(3)
		if err != nil {
			return "", err
		}
		n := int(lb[0])<<16 | int(lb[1])<<8 | int(lb[2])
		data, err := d.readBytes(n)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case tagBinary32:
		lb, err := d.readBytes(4)
		if err != nil {
			return "", err
		}
		n := int(binary.BigEndian.Uint32(lb))
		data, err := d.readBytes(n)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case tagNibble8:
		return readPacked(d, nibbleAlphabet)
	case tagHex8:
		return readPacked(d, hexAlphabet)
	case tagListEmpty:
		return "", nil
	default:
		s, ok := tokenAt(primaryDict, tag)
		if !ok {
			return "", &MalformedNodeError{Reason: "unknown tag byte in string position"}
		}
		return s, nil
	}
}

func readPacked(d *decoder, alphabet string) (string, error) {
	lenByte, err := d.readByte()
	if err != nil {
		return "", err
	}
	truncated := lenByte&0x80 != 0
	nbytes := int(lenByte &^ 0x80)
	data, err := d.readBytes(nbytes)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, nbytes*2)
	for i, b := range data {
		hi := b >> 4
		lo := b & 0x0f
		if int(hi) >= len(alphabet) || int(lo) >= len(alphabet) {
			return "", &MalformedNodeError{Reason: "packed nibble out of alphabet range"}
		}
		out = append(out, alphabet[hi])
		if truncated && i == len(data)-1 {
			break
		}
		out = append(out, alphabet[lo])
	}
	return string(out), nil
}
