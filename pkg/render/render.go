// Package render converts completed markdown answers to HTML.
package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Func transforms a completed answer before it is cached.
type Func func(string) (string, error)

// Identity returns the answer unchanged.
func Identity(s string) (string, error) { return s, nil }

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders GitHub-flavoured markdown to HTML. Raw HTML in the input is
// omitted.
func Markdown(s string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(s), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
