//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"runtime"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-workflow-go/log"
)

const defaultTopK = 4

var _ Retriever = (*Index)(nil)

// Index is an in-memory vector index. Documents are chunked, embedded in
// parallel and searched by cosine similarity.
type Index struct {
	embedder    Embedder
	chunker     *Chunker
	topK        int
	parallelism int

	mu      sync.RWMutex
	docs    map[string]*Document
	vectors map[string][]float64
	order   []string
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithChunker replaces the default chunker. A nil chunker stores documents
// whole.
func WithChunker(c *Chunker) IndexOption {
	return func(i *Index) { i.chunker = c }
}

// WithTopK sets the default result count.
func WithTopK(k int) IndexOption {
	return func(i *Index) { i.topK = k }
}

// WithParallelism bounds concurrent embedding calls during Add.
func WithParallelism(n int) IndexOption {
	return func(i *Index) { i.parallelism = n }
}

// NewIndex creates an empty index over e.
func NewIndex(e Embedder, opts ...IndexOption) *Index {
	idx := &Index{
		embedder:    e,
		chunker:     NewChunker(),
		topK:        defaultTopK,
		parallelism: runtime.NumCPU(),
		docs:        make(map[string]*Document),
		vectors:     make(map[string][]float64),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.parallelism <= 0 {
		idx.parallelism = 1
	}
	return idx
}

// Len returns the number of stored chunks.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.order)
}

// Add chunks and embeds docs. It stops at the first failure; chunks
// embedded before it stay indexed.
func (idx *Index) Add(ctx context.Context, docs ...*Document) error {
	var chunks []*Document
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return errors.New("document ID cannot be empty")
		}
		if idx.chunker == nil {
			chunks = append(chunks, doc.Clone())
			continue
		}
		cs, err := idx.chunker.Chunk(doc)
		if err != nil {
			return fmt.Errorf("chunk document %s: %w", doc.ID, err)
		}
		chunks = append(chunks, cs...)
	}

	pool, err := ants.NewPool(idx.parallelism)
	if err != nil {
		return fmt.Errorf("create embedding worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	errCh := make(chan error, len(chunks))
	vectors := make([][]float64, len(chunks))
	for i, chunk := range chunks {
		wg.Add(1)
		i, chunk := i, chunk
		if err := pool.Submit(func() {
			defer wg.Done()
			v, err := idx.embedder.GetEmbedding(ctx, chunk.Content)
			if err != nil {
				errCh <- fmt.Errorf("embed %s: %w", chunk.ID, err)
				return
			}
			if len(v) == 0 {
				errCh <- fmt.Errorf("embed %s: empty embedding", chunk.ID)
				return
			}
			vectors[i] = v
		}); err != nil {
			wg.Done()
			errCh <- fmt.Errorf("submit embedding task: %w", err)
		}
	}
	wg.Wait()
	close(errCh)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, chunk := range chunks {
		if vectors[i] == nil {
			continue
		}
		if _, exists := idx.docs[chunk.ID]; !exists {
			idx.order = append(idx.order, chunk.ID)
		}
		idx.docs[chunk.ID] = chunk
		idx.vectors[chunk.ID] = vectors[i]
	}
	log.Debugf("retrieval index: added %d chunk(s) from %d document(s)", len(chunks), len(docs))
	return <-errCh
}

// Retrieve implements Retriever.
func (idx *Index) Retrieve(ctx context.Context, q *Query) ([]*Result, error) {
	if q == nil || q.Text == "" {
		return nil, ErrEmptyQuery
	}
	qv, err := idx.embedder.GetEmbedding(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) == 0 {
		return nil, errors.New("embed query: empty embedding")
	}
	k := q.TopK
	if k <= 0 {
		k = idx.topK
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	results := make([]*Result, 0, len(idx.order))
	for _, id := range idx.order {
		doc := idx.docs[id]
		if !matches(doc.Metadata, q.Filter) {
			continue
		}
		score := cosine(qv, idx.vectors[id])
		if score < q.MinScore {
			continue
		}
		results = append(results, &Result{Document: doc.Clone(), Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func matches(meta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
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
