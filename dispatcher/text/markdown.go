//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package text

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	gtext "github.com/yuin/goldmark/text"

	"trpc.group/trpc-go/trpc-workflow-go/dispatcher"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// Markdown output handles.
const (
	HandleHTML     = "html"
	HandleHeadings = "headings"
)

// MarkdownConfig configures a markdown node.
type MarkdownConfig struct {
	// Text is a template; the primary input is used when empty.
	Text string `json:"text"`
	// GFM enables tables, strikethrough, autolinks and task lists.
	GFM bool `json:"gfm"`
	// Unsafe keeps raw HTML in the output.
	Unsafe bool `json:"unsafe"`
}

// Markdown implements the markdown node. It renders HTML and extracts the
// plain text and headings.
type Markdown struct {
	plain goldmark.Markdown
}

// NewMarkdown creates the markdown dispatcher.
func NewMarkdown() *Markdown {
	return &Markdown{plain: goldmark.New()}
}

// Type implements dispatcher.Dispatcher.
func (*Markdown) Type() string { return workflow.TypeMarkdown }

// Dispatch implements dispatcher.Dispatcher.
func (m *Markdown) Dispatch(_ context.Context, req *dispatcher.Request) *dispatcher.Outcome {
	var cfg MarkdownConfig
	if err := workflow.DecodeConfig(req.Node, &cfg); err != nil {
		return dispatcher.Fail(err)
	}
	src := []byte(source(req, cfg.Text))

	md := m.plain
	if cfg.GFM || cfg.Unsafe {
		var opts []goldmark.Option
		if cfg.GFM {
			opts = append(opts, goldmark.WithExtensions(extension.GFM))
		}
		if cfg.Unsafe {
			opts = append(opts, goldmark.WithRendererOptions(html.WithUnsafe()))
		}
		md = goldmark.New(opts...)
	}

	doc := md.Parser().Parse(gtext.NewReader(src))
	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, src, doc); err != nil {
		return dispatcher.Fail(fmt.Errorf("render markdown: %w", err))
	}
	plain, headings := walk(doc, src)
	return dispatcher.Success(map[string]any{
		HandleHTML:                   buf.String(),
		HandleText:                   plain,
		HandleHeadings:               headings,
		workflow.DefaultSourceHandle: buf.String(),
	})
}

// walk collects block text separated by blank lines and the headings as
// {level, text} maps.
func walk(doc ast.Node, src []byte) (string, []any) {
	var (
		blocks   []string
		headings = []any{}
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			t := inline(v, src)
			headings = append(headings, map[string]any{"level": v.Level, "text": t})
			blocks = append(blocks, t)
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			blocks = append(blocks, inline(v, src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			blocks = append(blocks, strings.TrimRight(string(v.Lines().Value(src)), "\n"))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(blocks, "\n\n"), headings
}

func inline(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
