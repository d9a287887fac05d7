// Package sparse builds term-frequency vectors for lexical retrieval.
//
// Text is lower-cased, every non-word character becomes a separator, and
// each distinct token is hashed to a 31-bit non-negative index. The value is
// the token's frequency in the text. Distinct tokens may collide on an
// index; collisions only add noise to the sparse score and are not detected.
package sparse

import (
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// IndexMask keeps the low 31 bits of a token hash
const IndexMask = 1<<31 - 1

// Vector maps token-hash indices to term frequency
type Vector map[uint32]float32

// Tokenize lower-cases text and splits it on non-word characters
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// HashToken maps a token to its stable 31-bit index
func HashToken(token string) uint32 {
	return uint32(xxhash.Sum64String(token) & IndexMask)
}

// Encode builds the sparse term-frequency vector of text
func Encode(text string) Vector {
	tokens := Tokenize(text)
	vec := make(Vector, len(tokens))
	for _, tok := range tokens {
		vec[HashToken(tok)]++
	}
	return vec
}

// Indices returns the vector's indices in ascending order
func (v Vector) Indices() []uint32 {
	idx := make([]uint32, 0, len(v))
	for i := range v {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	return idx
}

// Dot returns the dot product of two sparse vectors
func (v Vector) Dot(other Vector) float64 {
	small, large := v, other
	if len(small) > len(large) {
		small, large = large, small
	}
	var sum float64
	for i, a := range small {
		if b, ok := large[i]; ok {
			sum += float64(a) * float64(b)
		}
	}
	return sum
}
