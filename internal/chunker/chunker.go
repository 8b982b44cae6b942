package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/pdftrans/internal/document"
)

// Config controls chunking behavior. Sizes are measured in characters (runes).
type Config struct {
	ChunkSize    int      // Maximum core size of a chunk.
	ChunkOverlap int      // Characters carried over from the previous chunk.
	Separators   []string // Split points in priority order.
	JoinPages    bool     // Treat all pages as one stream so overlap crosses pages.
}

// DefaultSeparators tries paragraph, line, word and finally character boundaries.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// DefaultConfig returns the translation defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    3000,
		ChunkOverlap: 200,
		Separators:   DefaultSeparators,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 3000
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = 200
		}
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 10
	}
	if len(c.Separators) == 0 {
		c.Separators = DefaultSeparators
	}
	return c
}

// span is a piece of stream text tagged with the page it came from.
type span struct {
	text string
	page int
}

// Split turns pages into ordered chunks. Identical input yields identical output.
func Split(pages []document.Page, cfg Config) []document.Chunk {
	cfg = cfg.withDefaults()

	var streams [][]span
	if cfg.JoinPages {
		var joined []span
		for i, p := range pages {
			if p.Text == "" {
				continue
			}
			text := p.Text
			if i < len(pages)-1 {
				text += "\n\n"
			}
			joined = append(joined, span{text: text, page: p.Number})
		}
		streams = append(streams, joined)
	} else {
		for _, p := range pages {
			if p.Text == "" {
				continue
			}
			streams = append(streams, []span{{text: p.Text, page: p.Number}})
		}
	}

	var chunks []document.Chunk
	for _, stream := range streams {
		chunks = appendStream(chunks, stream, cfg)
	}
	return chunks
}

func appendStream(chunks []document.Chunk, stream []span, cfg Config) []document.Chunk {
	var sb strings.Builder
	// Rune offsets where each span starts, used to map cores back to pages.
	starts := make([]int, len(stream))
	offset := 0
	for i, s := range stream {
		starts[i] = offset
		offset += utf8.RuneCountInString(s.text)
		sb.WriteString(s.text)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return chunks
	}

	cores := splitCore(text, cfg.Separators, cfg.ChunkSize)

	prev := ""
	pos := 0
	for i, core := range cores {
		n := utf8.RuneCountInString(core)
		overlap := ""
		if i > 0 {
			overlap = tail(prev, cfg.ChunkOverlap)
		}
		c := document.Chunk{
			Index:     len(chunks),
			Text:      overlap + core,
			Overlap:   overlap,
			Core:      core,
			PageStart: pageAt(stream, starts, pos),
			PageEnd:   pageAt(stream, starts, pos+n-1),
		}
		chunks = append(chunks, c)
		prev = c.Text
		pos += n
	}
	return chunks
}

// splitCore cuts text into pieces of at most size runes whose concatenation is text.
func splitCore(text string, separators []string, size int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	sep := ""
	var rest []string
	found := false
	for i, s := range separators {
		if s == "" {
			found = true
			break
		}
		if strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			found = true
			break
		}
	}
	if !found {
		// No separator applies and no character fallback is configured:
		// the text is one unbreakable token.
		return []string{text}
	}
	if sep == "" {
		return hardCut(text, size)
	}

	var out []string
	var current strings.Builder
	currentLen := 0
	flush := func() {
		if currentLen > 0 {
			out = append(out, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, piece := range strings.SplitAfter(text, sep) {
		if piece == "" {
			continue
		}
		n := utf8.RuneCountInString(piece)
		if n > size {
			flush()
			out = append(out, splitCore(piece, rest, size)...)
			continue
		}
		if currentLen+n > size {
			flush()
		}
		current.WriteString(piece)
		currentLen += n
	}
	flush()
	return out
}

// hardCut splits text every size runes.
func hardCut(text string, size int) []string {
	var out []string
	for text != "" {
		cut := len(text)
		count := 0
		for i := range text {
			if count == size {
				cut = i
				break
			}
			count++
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	return out
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	total := utf8.RuneCountInString(s)
	if total <= n {
		return s
	}
	skip := total - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}

func pageAt(stream []span, starts []int, pos int) int {
	page := stream[0].page
	for i, start := range starts {
		if pos < start {
			break
		}
		page = stream[i].page
	}
	return page
}
