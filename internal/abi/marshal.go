package abi

import "encoding/binary"

// Marshaler is the write half of the fixed-size serialization contract
// for message payloads and reply bodies. SizeBytes must be a constant for
// a given type; MarshalBytes operates on exactly that many bytes and
// never allocates.
type Marshaler interface {
	SizeBytes() int
	MarshalBytes(dst []byte)
}

// Marshallable adds the read half; implemented on pointer types.
type Marshallable interface {
	Marshaler
	UnmarshalBytes(src []byte)
}

// Encode marshals v into a fresh buffer of exactly v.SizeBytes().
func Encode(v Marshaler) []byte {
	buf := make([]byte, v.SizeBytes())
	v.MarshalBytes(buf)
	return buf
}

// Empty is the zero-byte payload, used for operations that carry no
// request data or expect no reply body.
type Empty struct{}

func (Empty) SizeBytes() int         { return 0 }
func (Empty) MarshalBytes([]byte)    {}
func (*Empty) UnmarshalBytes([]byte) {}

// U16 is a marshallable little-endian uint16.
type U16 uint16

func (U16) SizeBytes() int            { return 2 }
func (v U16) MarshalBytes(dst []byte) { binary.LittleEndian.PutUint16(dst, uint16(v)) }
func (v *U16) UnmarshalBytes(src []byte) {
	*v = U16(binary.LittleEndian.Uint16(src))
}

// U32 is a marshallable little-endian uint32.
type U32 uint32

func (U32) SizeBytes() int            { return 4 }
func (v U32) MarshalBytes(dst []byte) { binary.LittleEndian.PutUint32(dst, uint32(v)) }
func (v *U32) UnmarshalBytes(src []byte) {
	*v = U32(binary.LittleEndian.Uint32(src))
}

// U64 is a marshallable little-endian uint64.
type U64 uint64

func (U64) SizeBytes() int            { return 8 }
func (v U64) MarshalBytes(dst []byte) { binary.LittleEndian.PutUint64(dst, uint64(v)) }
func (v *U64) UnmarshalBytes(src []byte) {
	*v = U64(binary.LittleEndian.Uint64(src))
}
