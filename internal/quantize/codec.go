// Package quantize implements symmetric int8 quantization of embedding
// vectors, the quality metrics used to judge it, and the flat binary
// records vectors are persisted as.
package quantize

import (
	"math"

	amerrors "github.com/sbarron/ambiance/internal/errors"
)

// QuantizedVector is an int8 encoding of a float32 vector.
// Dequantized component i is Data[i] * Scale.
type QuantizedVector struct {
	Data               []int8
	Scale              float32
	Min                float32
	Max                float32
	OriginalDimensions int
}

// ErrorMetrics describes how much a quantized vector deviates from its source.
type ErrorMetrics struct {
	MeanAbsoluteError            float64 `json:"mean_absolute_error"`
	MaxAbsoluteError             float64 `json:"max_absolute_error"`
	RMSE                         float64 `json:"rmse"`
	CosineSimilarityPreservation float64 `json:"cosine_similarity_preservation"`
}

// Quantize encodes v with scale max(|v|)/127. An all-zero vector encodes to
// all-zero data with scale 1.
func Quantize(v []float32) (*QuantizedVector, error) {
	if len(v) == 0 {
		return nil, amerrors.InvalidInput("cannot quantize an empty vector")
	}

	minV, maxV := v[0], v[0]
	var absMax float64
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, amerrors.InvalidInput("cannot quantize a vector containing NaN or Inf")
		}
		if x < minV {
			minV = x
		}
		if x > maxV {
			maxV = x
		}
		if a := math.Abs(float64(x)); a > absMax {
			absMax = a
		}
	}

	q := &QuantizedVector{
		Data:               make([]int8, len(v)),
		Min:                minV,
		Max:                maxV,
		OriginalDimensions: len(v),
	}

	if absMax == 0 {
		q.Scale = 1
		return q, nil
	}

	scale := float32(absMax / 127)
	q.Scale = scale
	for i, x := range v {
		r := math.Round(float64(x / scale))
		if r > 127 {
			r = 127
		} else if r < -128 {
			r = -128
		}
		q.Data[i] = int8(r)
	}
	return q, nil
}

// Dequantize decodes q. It fails rather than truncating or padding when the
// data length disagrees with OriginalDimensions.
func Dequantize(q *QuantizedVector) ([]float32, error) {
	if q == nil {
		return nil, amerrors.InvalidInput("cannot dequantize a nil vector")
	}
	if len(q.Data) != q.OriginalDimensions {
		return nil, amerrors.DimensionMismatch(q.OriginalDimensions, len(q.Data))
	}

	out := make([]float32, q.OriginalDimensions)
	for i, d := range q.Data {
		out[i] = float32(d) * q.Scale
	}
	return out, nil
}

// QuantizationError compares original against the decoded form of q.
func QuantizationError(original []float32, q *QuantizedVector) (*ErrorMetrics, error) {
	decoded, err := Dequantize(q)
	if err != nil {
		return nil, err
	}
	if len(original) != len(decoded) {
		return nil, amerrors.DimensionMismatch(len(original), len(decoded))
	}
	if len(original) == 0 {
		return nil, amerrors.InvalidInput("cannot measure an empty vector")
	}

	var sumAbs, sumSq, maxAbs float64
	for i := range original {
		diff := math.Abs(float64(original[i]) - float64(decoded[i]))
		sumAbs += diff
		sumSq += diff * diff
		if diff > maxAbs {
			maxAbs = diff
		}
	}
	n := float64(len(original))

	return &ErrorMetrics{
		MeanAbsoluteError:            sumAbs / n,
		MaxAbsoluteError:             maxAbs,
		RMSE:                         math.Sqrt(sumSq / n),
		CosineSimilarityPreservation: cosinePreservation(original, decoded),
	}, nil
}

// cosinePreservation is 1.0 when either vector has zero norm.
func cosinePreservation(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1.0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
