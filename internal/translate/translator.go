package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"
)

// Temperature is fixed so repeated runs over the same chunk agree.
const Temperature = 0

// Generator is the part of the Ollama client the translator uses.
type Generator interface {
	Generate(ctx context.Context, req *api.GenerateRequest, fn api.GenerateResponseFunc) error
}

// Config is the fixed inference configuration for a translator.
type Config struct {
	Model          string
	TargetLanguage string
	MaxTokens      int           // num_predict; 0 leaves the server default.
	Retries        int           // Extra attempts for retryable failures before the first fragment.
	ChunkTimeout   time.Duration // Upper bound for one chunk's stream; 0 disables.
}

// Translator streams chunk translations from a language model.
type Translator struct {
	gen     Generator
	cfg     Config
	stats   *LLMStats
	backoff func(attempt int) time.Duration
}

func New(gen Generator, cfg Config, stats *LLMStats) *Translator {
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "English"
	}
	return &Translator{
		gen:     gen,
		cfg:     cfg,
		stats:   stats,
		backoff: Backoff,
	}
}

// NewOllamaClient builds a client for the inference server at host.
// No client-level timeout is set: streams are bounded per chunk instead.
func NewOllamaClient(host string) (*api.Client, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q: want scheme://host:port", host)
	}
	return api.NewClient(u, &http.Client{}), nil
}

// Model returns the configured model name.
func (t *Translator) Model() string { return t.cfg.Model }

// MaxTokens returns the output token cap, 0 when unset.
func (t *Translator) MaxTokens() int { return t.cfg.MaxTokens }

// Stats returns the latency tracker, which may be nil.
func (t *Translator) Stats() *LLMStats { return t.stats }

// Ping checks that the inference server answers, when the generator supports it.
func (t *Translator) Ping(ctx context.Context) error {
	hb, ok := t.gen.(interface{ Heartbeat(context.Context) error })
	if !ok {
		return nil
	}
	return hb.Heartbeat(ctx)
}

var errStopped = errors.New("consumer stopped")

// ErrStreamConsumed is yielded when a stream is ranged over a second time.
var ErrStreamConsumed = errors.New("translation stream already consumed")

// Stream translates one chunk. The sequence yields fragments in generation
// order and can be ranged over once. A failure is yielded last as an
// *InferenceError; a translation cut off by the output cap is followed by a
// *TruncationError after its fragments.
func (t *Translator) Stream(ctx context.Context, chunkText string) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", ErrStreamConsumed)
			return
		}
		ctx := ctx
		if t.cfg.ChunkTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.cfg.ChunkTimeout)
			defer cancel()
		}

		req := t.request(chunkText)
		start := time.Now()
		var (
			last     api.GenerateResponse
			received int
			stopped  bool
			first    time.Duration
		)

		for attempt := 0; ; attempt++ {
			err := t.gen.Generate(ctx, req, func(resp api.GenerateResponse) error {
				last = resp
				if resp.Response == "" {
					return nil
				}
				if received == 0 {
					first = time.Since(start)
				}
				received++
				if !yield(resp.Response, nil) {
					stopped = true
					return errStopped
				}
				return nil
			})
			if stopped {
				return
			}
			if err == nil && !last.Done {
				err = io.ErrUnexpectedEOF
			}
			if err == nil {
				break
			}
			if received == 0 && attempt < t.cfg.Retries && IsRetryable(err) {
				select {
				case <-time.After(t.backoff(attempt)):
					continue
				case <-ctx.Done():
					err = ctx.Err()
				}
			}
			yield("", &InferenceError{Model: t.cfg.Model, Partial: received > 0, Err: err})
			return
		}

		if t.stats != nil {
			t.stats.Record(time.Since(start), first)
		}
		if last.DoneReason == "length" || (t.cfg.MaxTokens > 0 && last.EvalCount >= t.cfg.MaxTokens) {
			yield("", &TruncationError{Limit: t.cfg.MaxTokens, Generated: last.EvalCount})
		}
	}
}

func (t *Translator) request(chunkText string) *api.GenerateRequest {
	opts := map[string]any{
		"temperature": Temperature,
	}
	if t.cfg.MaxTokens > 0 {
		opts["num_predict"] = t.cfg.MaxTokens
	}
	return &api.GenerateRequest{
		Model:   t.cfg.Model,
		Prompt:  BuildPrompt(t.cfg.TargetLanguage, chunkText),
		Options: opts,
	}
}
