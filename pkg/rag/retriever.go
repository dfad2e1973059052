// Package rag provides nearest-neighbor text retrieval used to augment the
// system prompt with corpus-matched context before each turn.
package rag

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Hit is one retrieval result.
type Hit struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever answers k-NN queries over an embedded corpus.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// Embedder maps text to a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type document struct {
	text     string
	vector   []float64
	metadata map[string]any
}

// MemoryIndex is an in-process cosine-similarity index. Good for corpora
// that fit in memory; production deployments swap in a remote store behind
// the same Retriever interface.
type MemoryIndex struct {
	embedder Embedder
	mu       sync.RWMutex
	docs     []document
}

// NewMemoryIndex builds an empty index over the given embedder.
func NewMemoryIndex(embedder Embedder) *MemoryIndex {
	return &MemoryIndex{embedder: embedder}
}

// Add embeds and stores one document.
func (idx *MemoryIndex) Add(ctx context.Context, text string, metadata map[string]any) error {
	vec, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = append(idx.docs, document{text: text, vector: vec, metadata: metadata})
	return nil
}

// Search returns the k most similar documents to the query.
func (idx *MemoryIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	vec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	hits := make([]Hit, 0, len(idx.docs))
	for _, d := range idx.docs {
		hits = append(hits, Hit{
			Text:     d.text,
			Score:    cosine(vec, d.vector),
			Metadata: d.metadata,
		})
	}
	idx.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
