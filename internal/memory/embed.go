// ABOUTME: Deterministic hashed bag-of-words embedder and cosine ranking
// ABOUTME: Used when no embedding API key is configured

package memory

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/2389/clawswarm/internal/llm"
)

// DefaultHashDims is the HashEmbedder vector size.
const DefaultHashDims = 256

// HashEmbedder maps each lowercased word to a signed bucket and L2-normalizes
// the counts. Identical texts always produce identical vectors.
type HashEmbedder struct {
	Dims int
}

var _ llm.Embedder = HashEmbedder{}

// Embed implements llm.Embedder.
func (h HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = DefaultHashDims
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, dims)
	}
	return out, nil
}

func hashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum32()
		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		vec[int(sum%uint32(dims))] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// cosine returns the cosine similarity, or 0 when either vector is zero or
// the dimensions differ.
func cosine(a, b []float32) float64 {
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

// topK picks the k offsets most similar to query and returns them ascending.
// Ties go to the more recent entry.
func topK(query []float32, vectors map[int][]float32, offsets []int, k int) []int {
	type scored struct {
		offset int
		score  float64
	}
	ranked := make([]scored, 0, len(offsets))
	for _, off := range offsets {
		ranked = append(ranked, scored{off, cosine(query, vectors[off])})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].offset > ranked[j].offset
	})
	if k > len(ranked) {
		k = len(ranked)
	}
	picked := make([]int, k)
	for i := range picked {
		picked[i] = ranked[i].offset
	}
	sort.Ints(picked)
	return picked
}
