package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is an offline embedder based on feature hashing of word
// unigrams and bigrams. Texts sharing vocabulary get similar vectors, which
// makes it usable for local runs and tests without a model server.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder producing vectors of dims length.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	vec := make(Vector, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		// keep the vector non-zero so cosine stays defined
		words = []string{strings.TrimSpace(text)}
	}
	for i, w := range words {
		e.add(vec, w, 1)
		if i > 0 {
			e.add(vec, words[i-1]+" "+w, 0.5)
		}
	}
	return Normalize(vec), nil
}

func (e *HashEmbedder) add(vec Vector, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	// top bit picks the sign so collisions partially cancel
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (e *HashEmbedder) Dims() int { return e.dims }
