package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/CanopyHQ/synapse/internal/normalize"
)

const (
	localDimensions = 512
	localModel      = "local-hash-512"
)

// LocalEmbedder hashes label features into a fixed vector, for offline use.
// It mixes:
// 1. Word n-grams over the singularized label
// 2. Character trigrams (tolerates typos and inflection)
// 3. A few structural features (length, word count)
type LocalEmbedder struct {
	dimensions int
	ngramSizes []int
	stopwords  map[string]bool
}

func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{
		dimensions: localDimensions,
		ngramSizes: []int{1, 2, 3},
		stopwords:  buildStopwords(),
	}
}

func buildStopwords() map[string]bool {
	words := []string{
		"the", "a", "an", "and", "or", "in", "on", "at", "to", "for", "of",
		"with", "by", "from", "as", "is", "vs", "via", "into", "its",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func (e *LocalEmbedder) Model() string { return localModel }

// EmbedBatch never fails unless ctx is done.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) (Batch, error) {
	if len(texts) == 0 {
		return Batch{Model: localModel, Dim: e.dimensions}, nil
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		vectors[i] = e.embed(text)
	}
	return checkBatch(vectors, localModel)
}

func (e *LocalEmbedder) embed(text string) []float32 {
	v := make([]float32, e.dimensions)

	norm := normalize.Label(text)
	words := strings.Fields(norm)
	if len(words) == 0 {
		// keep the vector non-zero so cosine stays defined
		v[len(v)-1] = 1
		return v
	}
	for i, w := range words {
		words[i] = normalize.Singularize(w)
	}

	ngramDims := int(float64(e.dimensions) * 0.6)
	charDims := int(float64(e.dimensions) * 0.35)
	e.addNgramFeatures(v[:ngramDims], words)
	e.addCharFeatures(v[ngramDims:ngramDims+charDims], strings.Join(words, " "))
	e.addStructuralFeatures(v[ngramDims+charDims:], words)

	unit(v)
	return v
}

func (e *LocalEmbedder) addNgramFeatures(v []float32, words []string) {
	dims := uint32(len(v))
	for _, n := range e.ngramSizes {
		weight := 1.0 / float32(n)
		for i := 0; i+n <= len(words); i++ {
			if n == 1 && e.stopwords[words[i]] {
				continue
			}
			gram := strings.Join(words[i:i+n], " ")
			v[hash(gram)%dims] += weight
			v[hash(gram+"_2")%dims] -= weight * 0.5
		}
	}
}

func (e *LocalEmbedder) addCharFeatures(v []float32, text string) {
	dims := uint32(len(v))
	padded := " " + text + " "
	for i := 0; i+3 <= len(padded); i++ {
		v[hash("char_"+padded[i:i+3])%dims] += 0.3
	}
}

func (e *LocalEmbedder) addStructuralFeatures(v []float32, words []string) {
	if len(v) < 3 {
		return
	}
	total := 0
	for _, w := range words {
		total += len(w)
	}
	v[0] = float32(math.Log(float64(len(words)+1))) * 0.1
	v[1] = float32(math.Log(float64(total+1))) * 0.1
	v[2] = float32(total) / float32(len(words)) * 0.01
}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func unit(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0.
func Cosine(a, b []float32) float64 {
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
