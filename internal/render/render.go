// Package render displays translation output as it arrives.
package render

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Update is one step of a growing translation.
type Update struct {
	Chunk    int    // Chunk the fragment belongs to
	Fragment string // Newly appended text; empty on a rewind
	Text     string // Full accumulated translation after this update
	Rewound  bool   // A failed chunk's partial output was discarded
}

// Renderer receives every change of the accumulated translation, in order.
type Renderer interface {
	Render(Update)
}

// Func adapts a plain function to Renderer.
type Func func(Update)

func (f Func) Render(u Update) { f(u) }

// Discard drops all updates.
var Discard Renderer = Func(func(Update) {})

// Terminal writes fragments to w as they arrive. Output already written
// cannot be taken back, so a rewind prints a notice instead.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Render(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u.Rewound {
		fmt.Fprintf(t.w, "\n[chunk %d failed; its partial output above is discarded]\n", u.Chunk+1)
		return
	}
	io.WriteString(t.w, u.Fragment)
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// Markdown converts translated text to HTML. Raw HTML in the model output is
// not passed through.
func Markdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// HTML renders the full accumulated text to HTML on every update and hands it
// to publish.
type HTML struct {
	Publish func(u Update, html string)
}

func (h HTML) Render(u Update) {
	out, err := Markdown(u.Text)
	if err != nil {
		out = "<pre>" + html.EscapeString(u.Text) + "</pre>"
	}
	h.Publish(u, out)
}

// Multi fans an update out to several renderers in order.
type Multi []Renderer

func (m Multi) Render(u Update) {
	for _, r := range m {
		r.Render(u)
	}
}
