// Package wap defines the ClientPayload message family exchanged as the
// Noise handshake's encrypted payload (spec §4.1 ClientFinish, §6). These
// are not generated protobuf code — there is no protoc step available here
// — but plain structs with hand-written MarshalBinary methods that emit
// the standard protobuf wire format (varint tags, length-delimited
// sub-messages) directly, in the same spirit as the teacher's
// Command.ToBytes(): build the byte slice up field by field rather than
// go through a generic marshaler.
package wap

import (
	"encoding/binary"
)

// protoWriter accumulates a protobuf wire-format message one field at a
// time. Each field writes its own tag (fieldNumber<<3 | wireType) followed
// by the field's encoding.
type protoWriter struct {
	buf []byte
}

const (
	wireVarint = 0
	wireBytes  = 2
)

func (w *protoWriter) tag(fieldNumber int, wireType int) {
	w.varint(uint64(fieldNumber<<3 | wireType))
}

func (w *protoWriter) varint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

// Uint64Field writes a varint-typed field, a zero value included.
func (w *protoWriter) Uint64Field(fieldNumber int, v uint64) {
	w.tag(fieldNumber, wireVarint)
	w.varint(v)
}

// Uint32Field writes a varint-typed field from a 32-bit value.
func (w *protoWriter) Uint32Field(fieldNumber int, v uint32) {
	w.Uint64Field(fieldNumber, uint64(v))
}

// BoolField writes a varint-typed boolean field.
func (w *protoWriter) BoolField(fieldNumber int, v bool) {
	if v {
		w.Uint64Field(fieldNumber, 1)
	} else {
		w.Uint64Field(fieldNumber, 0)
	}
}

// StringField writes a length-delimited string field, skipping it entirely
// if empty — matching protobuf's "default value is absent" convention.
func (w *protoWriter) StringField(fieldNumber int, v string) {
	if v == "" {
		return
	}
	w.BytesField(fieldNumber, []byte(v))
}

// BytesField writes a length-delimited bytes field.
func (w *protoWriter) BytesField(fieldNumber int, v []byte) {
	if len(v) == 0 {
		return
	}
	w.tag(fieldNumber, wireBytes)
	w.varint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

// MessageField writes a nested message's already-marshaled bytes as a
// length-delimited field.
func (w *protoWriter) MessageField(fieldNumber int, marshaled []byte) {
	w.BytesField(fieldNumber, marshaled)
}

// Bytes returns the accumulated message.
func (w *protoWriter) Bytes() []byte { return w.buf }
