package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/pdftrans/internal/chunker"
	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/parser"
	"github.com/dgallion1/pdftrans/internal/render"
	"github.com/dgallion1/pdftrans/internal/session"
	"github.com/dgallion1/pdftrans/internal/translate"
)

// ChunkSeparator goes into the accumulated text between chunk translations.
const ChunkSeparator = "\n\n"

// Pipeline runs Loader -> Chunker -> Translator for one session at a time.
type Pipeline struct {
	loader   parser.Loader
	chunkCfg chunker.Config
	tr       *translate.Translator
	log      *slog.Logger
}

func New(loader parser.Loader, chunkCfg chunker.Config, tr *translate.Translator, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		loader:   loader,
		chunkCfg: chunkCfg,
		tr:       tr,
		log:      log,
	}
}

// Run translates the session's document, rendering every change of the
// accumulated text through r. Chunks are translated strictly in order; the
// next chunk starts only after the previous stream is exhausted.
//
// A run that fails on a chunk leaves the accumulator as it was before that
// chunk; running the session again resumes at the failed chunk.
func (p *Pipeline) Run(ctx context.Context, s *session.Session, r render.Renderer) error {
	if err := s.Begin(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.Context(), cancel)
	defer stop()

	if r == nil {
		r = render.Discard
	}
	log := p.log.With("session_id", s.ID, "filename", s.Filename)

	_, chunks := s.Document()
	if chunks == nil {
		var err error
		chunks, err = p.prepare(s, log)
		if err != nil {
			return err
		}
	}

	s.SetStatus(session.StatusTranslating, "translating")
	start := time.Now()
	for i := s.Next(); i < len(chunks); i++ {
		if ctx.Err() != nil {
			return p.cancelled(ctx, s, i, log)
		}
		err := p.translateChunk(ctx, s, chunks[i], r, log)
		if err == nil || translate.IsTruncation(err) {
			continue
		}
		if ctx.Err() != nil {
			return p.cancelled(ctx, s, i, log)
		}
		msg := fmt.Sprintf("chunk %d of %d: %s", i+1, len(chunks), err)
		s.FinishChunk(i, session.ChunkFailed, err.Error())
		s.Fail("translating", msg)
		log.Error("translation failed", "chunk", i, "error", err)
		return err
	}

	if s.HasIncomplete() {
		s.SetStatus(session.StatusPartial, "done")
	} else {
		s.SetStatus(session.StatusCompleted, "done")
	}
	log.Info("translation finished", "chunks", len(chunks), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (p *Pipeline) prepare(s *session.Session, log *slog.Logger) ([]document.Chunk, error) {
	s.SetStatus(session.StatusLoading, "loading")
	file := s.File()
	pages, err := p.loader.Load(bytes.NewReader(file.Data), file.Filename)
	if err != nil {
		log.Error("load failed", "error", err)
		s.Fail("loading", loadMessage(err))
		return nil, err
	}

	s.SetStatus(session.StatusChunking, "chunking")
	chunks := chunker.Split(pages, p.chunkCfg)
	s.SetDocument(pages, chunks)
	log.Info("chunked document", "pages", len(pages), "chunks", len(chunks))
	return chunks, nil
}

// translateChunk streams one chunk into the session's accumulator. On an
// inference failure everything appended for the chunk is rewound.
func (p *Pipeline) translateChunk(ctx context.Context, s *session.Session, c document.Chunk, r render.Renderer, log *slog.Logger) error {
	acc := s.Accumulator()
	mark := acc.Len()
	s.StartChunk(c.Index)

	if limit := p.tr.MaxTokens(); limit > 0 {
		if est := chunker.EstimateTokens(c.Core); est > limit {
			log.Warn("chunk likely exceeds output limit", "chunk", c.Index, "estimated_tokens", est, "max_tokens", limit)
		}
	}

	start := time.Now()
	fragments := 0
	var truncated error
	for fragment, err := range p.tr.Stream(ctx, c.Text) {
		if err != nil {
			if translate.IsTruncation(err) {
				truncated = err
				continue
			}
			if acc.Len() > mark {
				acc.Truncate(mark)
				r.Render(render.Update{Chunk: c.Index, Text: acc.String(), Rewound: true})
			}
			return err
		}
		if fragments == 0 && mark > 0 {
			fragment = ChunkSeparator + fragment
		}
		fragments++
		acc.Append(fragment)
		r.Render(render.Update{Chunk: c.Index, Fragment: fragment, Text: acc.String()})
	}

	if truncated != nil {
		log.Warn("chunk translation truncated", "chunk", c.Index, "error", truncated)
		s.FinishChunk(c.Index, session.ChunkIncomplete, truncated.Error())
		return truncated
	}
	log.Debug("chunk translated", "chunk", c.Index, "fragments", fragments, "duration_ms", time.Since(start).Milliseconds())
	s.FinishChunk(c.Index, session.ChunkDone, "")
	return nil
}

// cancelled puts chunk i back to pending so a later run picks it up again.
func (p *Pipeline) cancelled(ctx context.Context, s *session.Session, i int, log *slog.Logger) error {
	s.FinishChunk(i, session.ChunkPending, "")
	log.Info("translation cancelled", "next_chunk", s.Next())
	s.SetStatus(session.StatusCancelled, "cancelled")
	return ctx.Err()
}

// loadMessage turns loader errors into something a user can act on.
func loadMessage(err error) string {
	var ferr *parser.FileFormatError
	var eerr *parser.ExtractionError
	switch {
	case errors.As(err, &eerr) && eerr.Encrypted:
		return "The PDF is password-protected. Remove the password and upload it again."
	case errors.Is(err, parser.ErrNoText):
		return "No text could be extracted. Scanned PDFs need OCR before they can be translated."
	case errors.As(err, &ferr):
		return "The file is not a valid PDF: " + ferr.Reason
	}
	return err.Error()
}
