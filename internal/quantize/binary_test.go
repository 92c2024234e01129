package quantize

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/sbarron/ambiance/internal/errors"
)

func TestMarshalBinary_ByteForByteRoundTrip(t *testing.T) {
	// Given: an encoded vector
	q, err := Quantize(randomVector(rand.New(rand.NewSource(11)), 96))
	require.NoError(t, err)
	first, err := q.MarshalBinary()
	require.NoError(t, err)

	// When: decoding and re-encoding
	var decoded QuantizedVector
	require.NoError(t, decoded.UnmarshalBinary(first))
	second, err := decoded.MarshalBinary()
	require.NoError(t, err)

	// Then: bytes and fields are identical
	assert.Equal(t, first, second)
	assert.Equal(t, *q, decoded)
	assert.True(t, IsQuantizedRecord(first))
	assert.Len(t, first, headerSize+96)
}

func TestUnmarshalBinary_RejectsBadRecords(t *testing.T) {
	q, err := Quantize([]float32{1, -1, 0.5})
	require.NoError(t, err)
	good, err := q.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{"too short", good[:5], amerrors.ErrInvalidInput},
		{"wrong magic", append([]byte{'X'}, good[1:]...), amerrors.ErrInvalidInput},
		{"truncated data", good[:len(good)-1], amerrors.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out QuantizedVector
			err := out.UnmarshalBinary(tt.blob)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestFloat32Blob(t *testing.T) {
	v := []float32{0.25, -1.5, 3}

	back, err := DecodeFloat32(EncodeFloat32(v))

	require.NoError(t, err)
	assert.Equal(t, v, back)
	assert.False(t, IsQuantizedRecord(EncodeFloat32(v)))

	_, err = DecodeFloat32([]byte{1, 2, 3})
	assert.Error(t, err)
}
