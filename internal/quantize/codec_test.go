package quantize

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/sbarron/ambiance/internal/errors"
)

func randomVector(r *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func absMax(v []float32) float64 {
	var m float64
	for _, x := range v {
		m = math.Max(m, math.Abs(float64(x)))
	}
	return m
}

func TestQuantize_ScaleAndRange(t *testing.T) {
	// Given: a vector whose largest magnitude is negative
	v := []float32{0.5, -2.54, 1.0, 0}

	// When: quantizing
	q, err := Quantize(v)
	require.NoError(t, err)

	// Then: scale is absMax/127 and the extreme maps to -127
	assert.InDelta(t, 2.54/127, q.Scale, 1e-7)
	assert.Equal(t, int8(-127), q.Data[1])
	assert.Equal(t, int8(50), q.Data[2])
	assert.Equal(t, int8(25), q.Data[0])
	assert.Equal(t, int8(0), q.Data[3])
	assert.Equal(t, float32(-2.54), q.Min)
	assert.Equal(t, float32(1.0), q.Max)
	assert.Equal(t, 4, q.OriginalDimensions)
}

func TestQuantize_RoundTripErrorBound(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		// Given: a random non-zero vector
		v := randomVector(r, 1+r.Intn(512))

		// When: encoding and decoding
		q, err := Quantize(v)
		require.NoError(t, err)
		back, err := Dequantize(q)
		require.NoError(t, err)

		// Then: every component is within max(|v|)/127
		bound := absMax(v)/127 + 1e-6
		for i := range v {
			assert.LessOrEqual(t, math.Abs(float64(v[i]-back[i])), bound)
		}
	}
}

func TestQuantize_ZeroVector(t *testing.T) {
	q, err := Quantize(make([]float32, 8))
	require.NoError(t, err)

	back, err := Dequantize(q)
	require.NoError(t, err)

	assert.Equal(t, float32(1), q.Scale)
	assert.Equal(t, make([]int8, 8), q.Data)
	assert.Equal(t, make([]float32, 8), back)
}

func TestQuantize_Deterministic(t *testing.T) {
	v := randomVector(rand.New(rand.NewSource(1)), 64)

	a, err := Quantize(v)
	require.NoError(t, err)
	b, err := Quantize(v)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestQuantize_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		v    []float32
	}{
		{"empty", nil},
		{"nan", []float32{1, float32(math.NaN())}},
		{"inf", []float32{float32(math.Inf(1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Quantize(tt.v)
			assert.True(t, errors.Is(err, amerrors.ErrInvalidInput))
		})
	}
}

func TestDequantize_DimensionDisagreementFails(t *testing.T) {
	// Given: a record whose data was truncated
	q := &QuantizedVector{Data: []int8{1, 2}, Scale: 0.1, OriginalDimensions: 3}

	// When: decoding
	_, err := Dequantize(q)

	// Then: it fails instead of padding
	assert.True(t, errors.Is(err, amerrors.ErrDimensionMismatch))

	_, err = Dequantize(nil)
	assert.True(t, errors.Is(err, amerrors.ErrInvalidInput))
}

func TestQuantizationError_Metrics(t *testing.T) {
	v := randomVector(rand.New(rand.NewSource(3)), 256)
	q, err := Quantize(v)
	require.NoError(t, err)

	m, err := QuantizationError(v, q)
	require.NoError(t, err)

	assert.Greater(t, m.CosineSimilarityPreservation, 0.999)
	assert.LessOrEqual(t, m.MeanAbsoluteError, m.MaxAbsoluteError)
	assert.LessOrEqual(t, m.MeanAbsoluteError, m.RMSE+1e-12)
	assert.LessOrEqual(t, m.MaxAbsoluteError, absMax(v)/127+1e-6)
}

func TestQuantizationError_ZeroNormIsPreserved(t *testing.T) {
	v := make([]float32, 4)
	q, err := Quantize(v)
	require.NoError(t, err)

	m, err := QuantizationError(v, q)
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.CosineSimilarityPreservation)
	assert.Equal(t, 0.0, m.RMSE)
}

func TestQuantizationError_DimensionMismatch(t *testing.T) {
	q, err := Quantize([]float32{1, 2, 3})
	require.NoError(t, err)

	_, err = QuantizationError([]float32{1, 2}, q)

	assert.True(t, errors.Is(err, amerrors.ErrDimensionMismatch))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 1}, []float32{-1, -1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
