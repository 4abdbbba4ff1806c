// ABOUTME: Embedding similarity scoring with a deterministic hash fallback.
// ABOUTME: Cosine similarity; SHAKE-derived vectors when no embeddings exist.

package search

import (
	"encoding/binary"
	"math"

	"golang.org/x/crypto/sha3"
)

// hashEmbeddingDim is the dimensionality of derived fallback embeddings.
const hashEmbeddingDim = 64

// CosineSimilarity returns the cosine of the angle between two vectors, or
// 0 when either vector is empty, zero, or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HashEmbedding derives a deterministic unit vector from the text's tokens.
// Deployments without a real embedding pipeline still get a stable semantic
// signal: identical token multisets map to identical vectors.
func HashEmbedding(text string) []float32 {
	vec := make([]float64, hashEmbeddingDim)

	for _, tok := range Tokenize(text) {
		var buf [hashEmbeddingDim * 8]byte
		sha3.ShakeSum256(buf[:], []byte(tok))
		for i := 0; i < hashEmbeddingDim; i++ {
			bits := binary.LittleEndian.Uint64(buf[i*8 : (i+1)*8])
			// Map to [-1, 1)
			vec[i] += float64(int64(bits)) / float64(math.MaxInt64)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, hashEmbeddingDim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
