package quantize

import (
	"bytes"
	"encoding/binary"
	"math"

	amerrors "github.com/sbarron/ambiance/internal/errors"
)

// recordMagic prefixes every int8 record so a float32 blob is never decoded
// as a quantized one.
var recordMagic = [4]byte{'A', 'Q', '8', 1}

// headerSize is magic + dims + scale + min + max.
const headerSize = 4 + 4 + 4 + 4 + 4

// MarshalBinary encodes q as a flat little-endian record:
// magic | dims uint32 | scale float32 | min float32 | max float32 | data int8[dims].
func (q *QuantizedVector) MarshalBinary() ([]byte, error) {
	if len(q.Data) != q.OriginalDimensions {
		return nil, amerrors.DimensionMismatch(q.OriginalDimensions, len(q.Data))
	}

	buf := make([]byte, headerSize+len(q.Data))
	copy(buf[0:4], recordMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(q.OriginalDimensions))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(q.Scale))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(q.Min))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(q.Max))
	for i, d := range q.Data {
		buf[headerSize+i] = byte(d)
	}
	return buf, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (q *QuantizedVector) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize || !bytes.Equal(data[0:4], recordMagic[:]) {
		return amerrors.InvalidInput("not a quantized vector record")
	}

	dims := int(binary.LittleEndian.Uint32(data[4:8]))
	if len(data)-headerSize != dims {
		return amerrors.DimensionMismatch(dims, len(data)-headerSize)
	}

	q.OriginalDimensions = dims
	q.Scale = math.Float32frombits(binary.LittleEndian.Uint32(data[8:12]))
	q.Min = math.Float32frombits(binary.LittleEndian.Uint32(data[12:16]))
	q.Max = math.Float32frombits(binary.LittleEndian.Uint32(data[16:20]))
	q.Data = make([]int8, dims)
	for i := range q.Data {
		q.Data[i] = int8(data[headerSize+i])
	}
	return nil
}

// IsQuantizedRecord reports whether blob carries the int8 record header.
func IsQuantizedRecord(blob []byte) bool {
	return len(blob) >= headerSize && bytes.Equal(blob[0:4], recordMagic[:])
}

// EncodeFloat32 serializes an unquantized vector as little-endian float32s.
func EncodeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// DecodeFloat32 reverses EncodeFloat32.
func DecodeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, amerrors.InvalidInput("float32 vector blob length is not a multiple of 4")
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
