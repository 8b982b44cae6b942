package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgallion1/pdftrans/internal/render"
	"github.com/dgallion1/pdftrans/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitStatus(t *testing.T, events <-chan session.Event, want session.Status) session.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "subscription closed")
			if ev.Snapshot.Status == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func TestOrchestratorRunsSubmittedSession(t *testing.T) {
	gen := &fakeGen{steps: []step{{fragments: []string{"**Hello**"}}}}
	store := session.NewStore(time.Hour)
	o := NewOrchestrator(store, newPipeline(pagesLoader{pages: pages("Hallo")}, gen), 2, 4, quietLog())
	o.Start(context.Background())
	defer o.Stop()

	s := newSession()
	events, unsub := store.Subscribe(s.ID)
	defer unsub()

	require.NoError(t, o.Submit(s))
	waitStatus(t, events, session.StatusCompleted)
	assert.Equal(t, "**Hello**", s.Accumulator().String())
}

func TestOrchestratorPublishesRenderedHTML(t *testing.T) {
	store := session.NewStore(time.Hour)
	o := NewOrchestrator(store, nil, 1, 1, quietLog())
	s := newSession()
	store.Put(s)
	events, unsub := store.Subscribe(s.ID)
	defer unsub()

	o.Renderer(s).Render(renderUpdate("**bold**"))

	ev := <-events
	assert.Equal(t, session.EventRender, ev.Type)
	assert.Contains(t, ev.HTML, "<strong>bold</strong>")
}

func TestOrchestratorRetry(t *testing.T) {
	gen := &fakeGen{steps: []step{
		{err: errors.New("model not loaded")},
		{fragments: []string{"ok"}},
	}}
	store := session.NewStore(time.Hour)
	o := NewOrchestrator(store, newPipeline(pagesLoader{pages: pages("Hallo")}, gen), 1, 4, quietLog())
	o.Start(context.Background())
	defer o.Stop()

	s := newSession()
	events, unsub := store.Subscribe(s.ID)
	defer unsub()

	require.NoError(t, o.Submit(s))
	waitStatus(t, events, session.StatusFailed)

	_, err := o.Retry(s.ID)
	require.NoError(t, err)
	waitStatus(t, events, session.StatusCompleted)
	assert.Equal(t, "ok", s.Accumulator().String())

	_, err = o.Retry(s.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = o.Retry("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestOrchestratorQueueFull(t *testing.T) {
	store := session.NewStore(time.Hour)
	o := NewOrchestrator(store, nil, 1, 1, quietLog())

	require.NoError(t, o.Submit(newSession()))
	s := newSession()
	err := o.Submit(s)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, session.StatusFailed, s.Status())
	assert.Equal(t, 1, o.QueueDepth())
}

func TestOrchestratorSkipsReplacedSession(t *testing.T) {
	gen := &fakeGen{steps: []step{{fragments: []string{"new"}}}}
	store := session.NewStore(time.Hour)
	o := NewOrchestrator(store, newPipeline(pagesLoader{pages: pages("Hallo")}, gen), 1, 4, quietLog())

	old := newSession()
	require.NoError(t, o.Submit(old))
	fresh := session.New(context.Background(), old.ID, old.File())
	require.NoError(t, o.Submit(fresh))

	events, unsub := store.Subscribe(fresh.ID)
	defer unsub()
	o.Start(context.Background())
	defer o.Stop()

	waitStatus(t, events, session.StatusCompleted)
	assert.Len(t, gen.calls(), 1, "replaced session never ran")
	assert.Equal(t, "", old.Accumulator().String())
}

func renderUpdate(text string) render.Update {
	return render.Update{Fragment: text, Text: text}
}
