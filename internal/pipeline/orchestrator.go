package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/pdftrans/internal/render"
	"github.com/dgallion1/pdftrans/internal/session"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("translation queue is full")
	// ErrSessionNotFound is returned by Retry for unknown IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotRetryable is returned by Retry for sessions that have not failed.
	ErrNotRetryable = errors.New("only failed sessions can be retried")
)

// Orchestrator runs sessions on a bounded worker pool. Each session still
// translates one chunk at a time.
type Orchestrator struct {
	sessions  *session.Store
	queue     chan *session.Session
	pipe      *Pipeline
	log       *slog.Logger
	workers   int
	queueSize int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(store *session.Store, pipe *Pipeline, workers, queueSize int, log *slog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Orchestrator{
		sessions:  store,
		queue:     make(chan *session.Session, queueSize),
		pipe:      pipe,
		log:       log,
		workers:   workers,
		queueSize: queueSize,
	}
}

// Start launches worker goroutines and the session sweeper.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case s := <-o.queue:
					o.run(workerCtx, s)
				}
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.sessions.Cleanup()
			}
		}
	}()
}

func (o *Orchestrator) run(ctx context.Context, s *session.Session) {
	if s.Context().Err() != nil {
		// Replaced or deleted while queued.
		return
	}
	err := o.pipe.Run(ctx, s, o.Renderer(s))
	if err != nil && !errors.Is(err, context.Canceled) {
		o.log.Warn("session run ended with error", "session_id", s.ID, "error", err)
	}
}

// Renderer publishes the session's rendered HTML to its subscribers.
func (o *Orchestrator) Renderer(s *session.Session) render.Renderer {
	return render.HTML{Publish: func(_ render.Update, html string) {
		o.sessions.Publish(s, session.Event{Type: session.EventRender, Snapshot: s.Snapshot(), HTML: html})
	}}
}

// Stop cancels running sessions and waits for the workers to exit.
func (o *Orchestrator) Stop() {
	o.sessions.CancelAll()
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit registers s, replacing any session with the same ID, and queues it.
func (o *Orchestrator) Submit(s *session.Session) error {
	o.sessions.Put(s)
	return o.enqueue(s)
}

// Retry requeues a failed session. Translation resumes at the failed chunk.
func (o *Orchestrator) Retry(id string) (*session.Session, error) {
	s := o.sessions.Get(id)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Status() != session.StatusFailed {
		return s, ErrNotRetryable
	}
	s.SetStatus(session.StatusQueued, "queued")
	return s, o.enqueue(s)
}

func (o *Orchestrator) enqueue(s *session.Session) error {
	select {
	case o.queue <- s:
		return nil
	default:
		s.Fail("queued", "server busy, try again later")
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.queueSize)
	}
}

// Sessions returns the session store.
func (o *Orchestrator) Sessions() *session.Store {
	return o.sessions
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
