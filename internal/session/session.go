// Package session tracks uploaded documents and their translation state.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/google/uuid"
)

// Status is the overall state of a session.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusLoading     Status = "loading"
	StatusChunking    Status = "chunking"
	StatusTranslating Status = "translating"
	StatusCompleted   Status = "completed"
	StatusPartial     Status = "partial"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further work is scheduled for the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ChunkStatus is the state of one chunk's translation.
type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "pending"
	ChunkTranslating ChunkStatus = "translating"
	ChunkDone        ChunkStatus = "done"
	ChunkIncomplete  ChunkStatus = "incomplete"
	ChunkFailed      ChunkStatus = "failed"
)

// ChunkResult records the outcome of one chunk.
type ChunkResult struct {
	Index     int         `json:"index"`
	Status    ChunkStatus `json:"status"`
	PageStart int         `json:"page_start"`
	PageEnd   int         `json:"page_end"`
	Error     string      `json:"error,omitempty"`
}

// ErrBusy is returned when a session is asked to run while it is running.
var ErrBusy = errors.New("session is already running")

// Session is one uploaded document and everything derived from it.
type Session struct {
	mu sync.Mutex

	ID        string
	Filename  string
	CreatedAt time.Time
	UpdatedAt time.Time

	file    document.UploadedFile
	acc     Accumulator
	status  Status
	phase   string
	pages   []document.Page
	chunks  []document.Chunk
	results []ChunkResult
	next    int
	errMsg  string
	running bool

	ctx    context.Context
	cancel context.CancelFunc

	// Set by Store; called after every state change.
	notify func(*Session)
}

// New creates a session for file. The session's work is cancelled when
// parent is done or Cancel is called. An empty id gets a fresh UUID.
func New(parent context.Context, id string, file document.UploadedFile) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Session{
		ID:        id,
		Filename:  file.Filename,
		CreatedAt: now,
		UpdatedAt: now,
		file:      file,
		status:    StatusQueued,
		phase:     "queued",
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Context is cancelled when the session is deleted, replaced or shut down.
func (s *Session) Context() context.Context { return s.ctx }

// Cancel stops any in-flight work and releases the upload.
func (s *Session) Cancel() {
	s.cancel()
	s.mu.Lock()
	s.file.Data = nil
	s.mu.Unlock()
}

// File returns the uploaded file.
func (s *Session) File() document.UploadedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Accumulator returns the session's translated text buffer.
func (s *Session) Accumulator() *Accumulator { return &s.acc }

// Begin marks the session as running. It fails with ErrBusy if a run is
// already in progress. The run ends when a terminal status is set.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	s.running = true
	s.errMsg = ""
	return nil
}

// Running reports whether a run is in progress.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetStatus updates status and phase.
func (s *Session) SetStatus(status Status, phase string) {
	s.mu.Lock()
	s.status = status
	s.phase = phase
	if status.Terminal() {
		s.running = false
	}
	s.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.changed()
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Fail records msg and marks the session failed.
func (s *Session) Fail(phase, msg string) {
	s.mu.Lock()
	s.status = StatusFailed
	s.phase = phase
	s.errMsg = msg
	s.running = false
	s.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.changed()
}

// SetDocument stores the loader and chunker output and resets progress.
func (s *Session) SetDocument(pages []document.Page, chunks []document.Chunk) {
	s.mu.Lock()
	s.pages = pages
	s.chunks = chunks
	s.results = make([]ChunkResult, len(chunks))
	for i, c := range chunks {
		s.results[i] = ChunkResult{Index: c.Index, Status: ChunkPending, PageStart: c.PageStart, PageEnd: c.PageEnd}
	}
	s.next = 0
	s.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.changed()
}

// Document returns the pages and chunks, nil until loaded.
func (s *Session) Document() ([]document.Page, []document.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages, s.chunks
}

// Next is the index of the first chunk not yet translated.
func (s *Session) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// StartChunk marks chunk i as translating.
func (s *Session) StartChunk(i int) {
	s.setChunk(i, ChunkTranslating, "")
}

// FinishChunk records the outcome of chunk i. Done and incomplete chunks
// advance the resume point past i.
func (s *Session) FinishChunk(i int, status ChunkStatus, errMsg string) {
	s.setChunk(i, status, errMsg)
}

func (s *Session) setChunk(i int, status ChunkStatus, errMsg string) {
	s.mu.Lock()
	if i < 0 || i >= len(s.results) {
		s.mu.Unlock()
		return
	}
	s.results[i].Status = status
	s.results[i].Error = errMsg
	if (status == ChunkDone || status == ChunkIncomplete) && s.next <= i {
		s.next = i + 1
	}
	s.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.changed()
}

// HasIncomplete reports whether any chunk ended at the output limit.
func (s *Session) HasIncomplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.results {
		if r.Status == ChunkIncomplete {
			return true
		}
	}
	return false
}

func (s *Session) changed() {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Progress summarises chunk outcomes.
type Progress struct {
	TotalPages       int `json:"total_pages"`
	TotalChunks      int `json:"total_chunks"`
	ChunksDone       int `json:"chunks_done"`
	ChunksIncomplete int `json:"chunks_incomplete"`
	CurrentChunk     int `json:"current_chunk"`
}

// Snapshot is a read-only, JSON-safe copy of session state. It does not
// include the translated text.
type Snapshot struct {
	ID        string        `json:"session_id"`
	Filename  string        `json:"filename"`
	Status    Status        `json:"status"`
	Phase     string        `json:"phase"`
	Progress  Progress      `json:"progress"`
	Chunks    []ChunkResult `json:"chunks"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := make([]ChunkResult, len(s.results))
	copy(chunks, s.results)
	p := Progress{
		TotalPages:   len(s.pages),
		TotalChunks:  len(s.results),
		CurrentChunk: s.next,
	}
	for _, r := range s.results {
		switch r.Status {
		case ChunkDone:
			p.ChunksDone++
		case ChunkIncomplete:
			p.ChunksDone++
			p.ChunksIncomplete++
		}
	}
	return Snapshot{
		ID:        s.ID,
		Filename:  s.Filename,
		Status:    s.status,
		Phase:     s.phase,
		Progress:  p,
		Chunks:    chunks,
		Error:     s.errMsg,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
