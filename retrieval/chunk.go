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
	"errors"
	"fmt"
	"strings"
)

const (
	defaultChunkSize = 1024
	defaultOverlap   = 128
)

// ErrEmptyDocument is returned when chunking a document without content.
var ErrEmptyDocument = errors.New("document is empty")

// Chunker splits documents before they are embedded.
type Chunker struct {
	size    int
	overlap int
}

// ChunkOption configures a Chunker.
type ChunkOption func(*Chunker)

// WithChunkSize sets the maximum chunk length in bytes.
func WithChunkSize(size int) ChunkOption {
	return func(c *Chunker) { c.size = size }
}

// WithOverlap sets how many bytes consecutive chunks share.
func WithOverlap(overlap int) ChunkOption {
	return func(c *Chunker) { c.overlap = overlap }
}

// NewChunker creates a fixed-size chunker that prefers to break on
// whitespace.
func NewChunker(opts ...ChunkOption) *Chunker {
	c := &Chunker{size: defaultChunkSize, overlap: defaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		c.size = defaultChunkSize
	}
	if c.overlap < 0 || c.overlap >= c.size {
		c.overlap = min(defaultOverlap, c.size-1)
	}
	return c
}

// Chunk splits doc. Chunk IDs are "<id>#<n>" starting at 1, and chunk
// metadata carries the parent ID under "source".
func (c *Chunker) Chunk(doc *Document) ([]*Document, error) {
	content := strings.TrimSpace(doc.Content)
	if content == "" {
		return nil, ErrEmptyDocument
	}
	if len(content) <= c.size {
		return []*Document{chunkOf(doc, content, 1)}, nil
	}

	var chunks []*Document
	for start, n := 0, 1; start+c.overlap < len(content); n++ {
		end := min(start+c.size, len(content))
		if end < len(content) {
			if bp := breakPoint(content, start, end); bp-start > c.overlap {
				end = bp
			}
		}
		chunks = append(chunks, chunkOf(doc, content[start:end], n))
		if end == len(content) {
			break
		}
		start = end - c.overlap
	}
	return chunks, nil
}

// breakPoint returns the position after the last whitespace in
// content[start:end], or -1.
func breakPoint(content string, start, end int) int {
	for i := end - 1; i > start; i-- {
		switch content[i] {
		case ' ', '\n', '\r', '\t':
			return i + 1
		}
	}
	return -1
}

func chunkOf(doc *Document, content string, n int) *Document {
	c := doc.Clone()
	c.ID = fmt.Sprintf("%s#%d", doc.ID, n)
	c.Content = content
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 2)
	}
	c.Metadata["source"] = doc.ID
	c.Metadata["chunk"] = n
	return c
}
