// Package embedding converts face embeddings between their vector and
// stored byte forms and provides the distance kernel used for clustering.
package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ElemType identifies the element type of a stored embedding.
type ElemType int

const (
	F32 ElemType = iota
	F64
)

func (e ElemType) String() string {
	if e == F64 {
		return "f64"
	}
	return "f32"
}

// Supported stored byte lengths. The element type and dimensionality are
// inferred from the byte length alone:
//
//	2048 bytes = 512 x f32 (InsightFace / ArcFace)
//	1024 bytes = 128 x f64 (legacy dlib / face_recognition)
//	 512 bytes = 128 x f32 (face-api.js)
const (
	BytesInsightFace = 2048
	BytesLegacyF64   = 1024
	BytesBrowserF32  = 512

	DimInsightFace = 512
	DimLegacy      = 128
)

// ErrBadLength is returned when stored bytes have an unsupported length.
var ErrBadLength = errors.New("unsupported embedding byte length")

// Vector is a decoded embedding together with its storage element type.
// Values are always float32; Elem records how the bytes were encoded so
// a round trip reproduces them bitwise.
type Vector struct {
	Values []float32
	Elem   ElemType
}

// Dim returns the dimensionality of the vector.
func (v Vector) Dim() int { return len(v.Values) }

// Encode serialises a float32 vector as little-endian f32 bytes.
// This is the storage form for all embeddings produced by this system.
func Encode(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, f := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// EncodeVector serialises a Vector in its native element type, so that
// Decode(EncodeVector(v)) == v bitwise for f32 vectors and value-equal
// for f64 vectors.
func EncodeVector(v Vector) []byte {
	if v.Elem == F64 {
		buf := make([]byte, 8*len(v.Values))
		for i, f := range v.Values {
			binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(float64(f)))
		}
		return buf
	}
	return Encode(v.Values)
}

// Decode parses stored embedding bytes, inferring dimension and element
// type from the byte length. Unsupported lengths return ErrBadLength;
// the caller is expected to keep the face readable but exclude it from
// clustering.
func Decode(data []byte) (Vector, error) {
	switch len(data) {
	case BytesInsightFace:
		return Vector{Values: decodeF32(data), Elem: F32}, nil
	case BytesLegacyF64:
		return Vector{Values: decodeF64(data), Elem: F64}, nil
	case BytesBrowserF32:
		return Vector{Values: decodeF32(data), Elem: F32}, nil
	default:
		return Vector{}, fmt.Errorf("%w: %d bytes", ErrBadLength, len(data))
	}
}

func decodeF32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out
}

func decodeF64(data []byte) []float32 {
	out := make([]float32, len(data)/8)
	for i := range out {
		out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:])))
	}
	return out
}

// Normalize scales the vector to unit L2 norm in place. InsightFace
// embeddings are normalised on insertion so that dot product equals
// cosine similarity. Zero vectors are left untouched.
func Normalize(values []float32) {
	var sum float64
	for _, f := range values {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range values {
		values[i] = float32(float64(values[i]) / norm)
	}
}
