// ADV message decode/encode for the device-pairing exchange (spec §4.5
// steps 4-10): the HMAC envelope the server sends in iq/pair-success, the
// signed device identity inside it, and the nested device-identity record
// that carries the signed pre-key index. These are the same kind of
// hand-rolled protobuf wire structs as ClientPayload in payload.go, decoded
// here instead of only written, since the pairing flow needs to read the
// server's message before it can build a reply to it.
//
// original_source/WhatsappSocket.java decodes these three types through a
// generic ProtobufDecoder, but the retrieved source tree carries no .proto
// schema for them, so the field numbers below are this module's own
// assignment (documented in DESIGN.md), kept in the order the Java
// record's accessors are read in: details/hmac for the envelope;
// details/accountSignatureKey/accountSignature/deviceSignature for the
// signed identity; keyIndex for the nested device identity.
package wap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	advHMACFieldDetails = 1
	advHMACFieldHMAC    = 2

	advIdentityFieldDetails             = 1
	advIdentityFieldAccountSignatureKey = 2
	advIdentityFieldAccountSignature    = 3
	advIdentityFieldDeviceSignature     = 4

	advDeviceIdentityFieldKeyIndex = 3
)

// ADVSignedDeviceIdentityHMAC is the outer envelope delivered in
// iq/pair-success's device-identity content.
type ADVSignedDeviceIdentityHMAC struct {
	Details []byte
	HMAC    []byte
}

// ADVSignedDeviceIdentity is the decoded details payload: the account's
// signing key and signature, the device signature this device computes
// during verification, and the opaque details2 blob that itself encodes an
// ADVDeviceIdentity.
type ADVSignedDeviceIdentity struct {
	Details             []byte
	AccountSignatureKey []byte
	AccountSignature    []byte
	DeviceSignature     []byte
}

// protoReader walks a protobuf wire-format message field by field, the
// decode-side counterpart to protoWriter. Unrecognized fields are skipped
// rather than rejected, matching protobuf's forward-compatible decoding.
type protoReader struct {
	buf []byte
	pos int
}

func (r *protoReader) done() bool { return r.pos >= len(r.buf) }

func (r *protoReader) varint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errors.New("wap: truncated varint")
	}
	r.pos += n
	return v, nil
}

func (r *protoReader) tag() (fieldNumber, wireType int, err error) {
	v, err := r.varint()
	if err != nil {
		return 0, 0, err
	}
	return int(v >> 3), int(v & 0x7), nil
}

func (r *protoReader) bytesField() ([]byte, error) {
	n, err := r.varint()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.buf)-r.pos) < n {
		return nil, errors.New("wap: truncated length-delimited field")
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// decodeBytesFields walks every field in buf, collecting length-delimited
// fields by field number and discarding varint fields it doesn't need.
func decodeBytesFields(buf []byte) (map[int][]byte, error) {
	out := make(map[int][]byte)
	r := &protoReader{buf: buf}
	for !r.done() {
		fieldNumber, wireType, err := r.tag()
		if err != nil {
			return nil, err
		}
		switch wireType {
		case wireBytes:
			b, err := r.bytesField()
			if err != nil {
				return nil, err
			}
			out[fieldNumber] = b
		case wireVarint:
			if _, err := r.varint(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("wap: unsupported wire type %d for field %d", wireType, fieldNumber)
		}
	}
	return out, nil
}

// decodeVarintField returns the value of the first varint field matching
// want, skipping everything else.
func decodeVarintField(buf []byte, want int) (uint64, error) {
	r := &protoReader{buf: buf}
	for !r.done() {
		fieldNumber, wireType, err := r.tag()
		if err != nil {
			return 0, err
		}
		switch wireType {
		case wireVarint:
			v, err := r.varint()
			if err != nil {
				return 0, err
			}
			if fieldNumber == want {
				return v, nil
			}
		case wireBytes:
			if _, err := r.bytesField(); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("wap: unsupported wire type %d for field %d", wireType, fieldNumber)
		}
	}
	return 0, fmt.Errorf("wap: field %d not present", want)
}

// DecodeADVSignedDeviceIdentityHMAC decodes the outer envelope from
// iq/pair-success's device-identity content.
func DecodeADVSignedDeviceIdentityHMAC(buf []byte) (ADVSignedDeviceIdentityHMAC, error) {
	f, err := decodeBytesFields(buf)
	if err != nil {
		return ADVSignedDeviceIdentityHMAC{}, err
	}
	return ADVSignedDeviceIdentityHMAC{
		Details: f[advHMACFieldDetails],
		HMAC:    f[advHMACFieldHMAC],
	}, nil
}

// DecodeADVSignedDeviceIdentity decodes the envelope's details field into
// the signed identity and, since the nested ADVDeviceIdentity only matters
// here for its keyIndex, also returns that index directly.
func DecodeADVSignedDeviceIdentity(buf []byte) (adv ADVSignedDeviceIdentity, keyIndex uint32, err error) {
	f, err := decodeBytesFields(buf)
	if err != nil {
		return ADVSignedDeviceIdentity{}, 0, err
	}
	adv = ADVSignedDeviceIdentity{
		Details:             f[advIdentityFieldDetails],
		AccountSignatureKey: f[advIdentityFieldAccountSignatureKey],
		AccountSignature:    f[advIdentityFieldAccountSignature],
		DeviceSignature:     f[advIdentityFieldDeviceSignature],
	}
	idx, err := decodeVarintField(adv.Details, advDeviceIdentityFieldKeyIndex)
	if err != nil {
		return ADVSignedDeviceIdentity{}, 0, err
	}
	return adv, uint32(idx), nil
}

// EncodeADVSignedDeviceIdentity re-serializes the identity for the
// pair-device-sign response (spec §4.5 step 10): the caller is expected to
// have already cleared AccountSignature and filled DeviceSignature.
func EncodeADVSignedDeviceIdentity(adv ADVSignedDeviceIdentity) []byte {
	w := &protoWriter{}
	w.BytesField(advIdentityFieldDetails, adv.Details)
	w.BytesField(advIdentityFieldAccountSignatureKey, adv.AccountSignatureKey)
	w.BytesField(advIdentityFieldAccountSignature, adv.AccountSignature)
	w.BytesField(advIdentityFieldDeviceSignature, adv.DeviceSignature)
	return w.Bytes()
}
