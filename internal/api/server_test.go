package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/pdftrans/internal/chunker"
	"github.com/dgallion1/pdftrans/internal/config"
	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/session"
	"github.com/dgallion1/pdftrans/internal/translate"
	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

var fakePDF = []byte("%PDF-1.4\n% test\n")

type stubLoader struct{ text string }

func (l stubLoader) Load(r io.Reader, filename string) ([]document.Page, error) {
	return []document.Page{{Index: 0, Number: 1, Text: l.text, Source: filename}}, nil
}

// echoGen "translates" by streaming the words of a fixed reply.
type echoGen struct {
	mu    sync.Mutex
	reply []string
	err   error
	calls int
}

func (g *echoGen) Generate(ctx context.Context, req *api.GenerateRequest, fn api.GenerateResponseFunc) error {
	g.mu.Lock()
	g.calls++
	err := g.err
	g.mu.Unlock()
	if err != nil {
		return err
	}
	for _, w := range g.reply {
		if err := fn(api.GenerateResponse{Response: w}); err != nil {
			return err
		}
	}
	return fn(api.GenerateResponse{Done: true, DoneReason: "stop"})
}

func (g *echoGen) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

type testEnv struct {
	srv   *Server
	gen   *echoGen
	store *session.Store
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 1 << 20
	}
	gen := &echoGen{reply: []string{"Hello", " world"}}
	tr := translate.New(gen, translate.Config{Model: "llama3", MaxTokens: 200}, translate.NewLLMStats(time.Hour))
	pipe := pipeline.New(stubLoader{text: "Hallo Welt"}, chunker.DefaultConfig(), tr, log)
	store := session.NewStore(time.Hour)
	orch := pipeline.NewOrchestrator(store, pipe, 1, 4, log)

	ctx, cancel := context.WithCancel(context.Background())
	orch.Start(ctx)
	t.Cleanup(func() {
		orch.Stop()
		cancel()
	})
	return &testEnv{srv: NewServer(ctx, orch, tr, log, cfg), gen: gen, store: store}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, fields map[string]string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) waitStatus(t *testing.T, id string, want session.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := e.store.Get(id)
		return s != nil && s.Status() == want
	}, 2*time.Second, 5*time.Millisecond, "session %s never reached %s", id, want)
}

func TestIndexPage(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	rec := env.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	doc, err := html.Parse(rec.Body)
	require.NoError(t, err)

	var title string
	ids := map[string]*html.Node{}
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode {
			continue
		}
		if n.Data == "title" && n.FirstChild != nil {
			title = n.FirstChild.Data
		}
		for _, a := range n.Attr {
			if a.Key == "id" {
				ids[a.Val] = n
			}
		}
	}
	assert.Equal(t, "PDF Translator", title)
	for _, id := range []string{"title", "file", "spinner", "output", "retry"} {
		assert.Contains(t, ids, id)
	}
	assert.Equal(t, ".pdf,application/pdf", attr(ids["file"], "accept"))
	assert.Equal(t, "file", attr(ids["file"], "type"))
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	rec := env.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["ollama"])
}

func TestHealthReportsUnreachableOllama(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	client, err := translate.NewOllamaClient(url)
	require.NoError(t, err)

	env := newTestEnv(t, config.Config{})
	env.srv.translator = translate.New(client, translate.Config{Model: "llama3"}, nil)

	body := decode[map[string]string](t, env.get(t, "/health"))
	assert.Equal(t, "unreachable", body["ollama"])
}

func TestUploadTranslatesDocument(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	rec := env.upload(t, nil, map[string][]byte{"doc.pdf": fakePDF})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode[map[string]any](t, rec)
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/api/sessions/"+id+"/stream", body["stream_url"])

	env.waitStatus(t, id, session.StatusCompleted)

	view := decode[map[string]any](t, env.get(t, "/api/sessions/"+id))
	assert.Equal(t, "completed", view["status"])
	assert.Equal(t, "Hello world", view["text"])
	assert.Contains(t, view["html"], "<p>Hello world</p>")
	assert.Equal(t, "doc.pdf", view["filename"])
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t, config.Config{MaxUploadBytes: 64})

	tests := []struct {
		name   string
		fields map[string]string
		files  map[string][]byte
		want   int
	}{
		{"no file", nil, nil, http.StatusBadRequest},
		{"wrong extension", nil, map[string][]byte{"notes.txt": fakePDF}, http.StatusUnsupportedMediaType},
		{"missing magic", nil, map[string][]byte{"doc.pdf": []byte("hello")}, http.StatusUnsupportedMediaType},
		{"too large", nil, map[string][]byte{"doc.pdf": append(append([]byte{}, fakePDF...), bytes.Repeat([]byte("x"), 100)...)}, http.StatusRequestEntityTooLarge},
		{"two files", nil, map[string][]byte{"a.pdf": fakePDF, "b.pdf": fakePDF}, http.StatusBadRequest},
		{"unknown session", map[string]string{"session_id": "nope"}, map[string][]byte{"doc.pdf": fakePDF}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.upload(t, tt.fields, tt.files)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
	assert.Equal(t, 0, env.store.Len())
}

func TestReuploadReplacesSession(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	first := decode[map[string]any](t, env.upload(t, nil, map[string][]byte{"one.pdf": fakePDF}))
	id := first["session_id"].(string)
	env.waitStatus(t, id, session.StatusCompleted)
	old := env.store.Get(id)

	rec := env.upload(t, map[string]string{"session_id": id}, map[string][]byte{"two.pdf": fakePDF})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, id, decode[map[string]any](t, rec)["session_id"])

	env.waitStatus(t, id, session.StatusCompleted)
	current := env.store.Get(id)
	assert.NotSame(t, old, current)
	assert.Equal(t, "two.pdf", current.Filename)
	assert.Equal(t, "Hello world", current.Accumulator().String(), "accumulator starts over")
	assert.Error(t, old.Context().Err())
}

func TestRetryAndDelete(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	env.gen.setErr(io.ErrUnexpectedEOF)

	id := decode[map[string]any](t, env.upload(t, nil, map[string][]byte{"doc.pdf": fakePDF}))["session_id"].(string)
	env.waitStatus(t, id, session.StatusFailed)

	view := decode[map[string]any](t, env.get(t, "/api/sessions/"+id))
	assert.Contains(t, view["error"], "chunk 1 of 1")

	env.gen.setErr(nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/retry", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	env.waitStatus(t, id, session.StatusCompleted)

	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/retry", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions/missing/retry", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/sessions/"+id).Code)

	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamDeliversEvents(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	id := decode[map[string]any](t, env.upload(t, nil, map[string][]byte{"doc.pdf": fakePDF}))["session_id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/sessions/"+id+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var lastHTML string
	scanner := bufio.NewScanner(resp.Body)
	eventType := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev session.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			assert.Equal(t, eventType, ev.Type)
			if ev.Type == session.EventRender {
				lastHTML = ev.HTML
			}
			if ev.Snapshot.Status == session.StatusCompleted {
				assert.Contains(t, lastHTML, "Hello world")
				return
			}
		}
	}
	t.Fatalf("stream ended before completion: %v", scanner.Err())
}

func TestStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/sessions/missing/stream").Code)
}

func TestLLMStats(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	id := decode[map[string]any](t, env.upload(t, nil, map[string][]byte{"doc.pdf": fakePDF}))["session_id"].(string)
	env.waitStatus(t, id, session.StatusCompleted)

	body := decode[map[string]any](t, env.get(t, "/api/stats/llm"))
	assert.Equal(t, "llama3", body["model"])
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["count"])
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, config.Config{APIKey: "secret"})

	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/api/stats/llm").Code)
	assert.Equal(t, http.StatusUnauthorized, env.get(t, "/api/stats/llm?key=wrong").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/api/stats/llm?key=secret").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, env.get(t, "/health").Code)
	assert.Equal(t, http.StatusOK, env.get(t, "/").Code)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"doc.pdf":            "doc.pdf",
		"../../etc/x.pdf":    "x.pdf",
		`C:\docs\report.pdf`: "C:_docs_report.pdf",
		"":                   "unnamed",
		"a..b.pdf":           "a_b.pdf",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
