package translate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ollama/ollama/api"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", api.StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", api.StatusError{StatusCode: http.StatusInternalServerError}, true},
		{"unavailable wrapped", fmt.Errorf("generate: %w", api.StatusError{StatusCode: http.StatusServiceUnavailable}), true},
		{"not found", api.StatusError{StatusCode: http.StatusNotFound}, false},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"read", &net.OpError{Op: "read", Err: errors.New("reset")}, false},
		{"empty body", io.ErrUnexpectedEOF, true},
		{"html body", fmt.Errorf("unmarshal: %w", json.Unmarshal([]byte("<html>"), new(struct{}))), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffBounds(t *testing.T) {
	for attempt := range 8 {
		d := Backoff(attempt)
		base := min(time.Duration(1<<uint(attempt))*time.Second, 30*time.Second)
		if d < base || d >= base+base/2 {
			t.Fatalf("Backoff(%d) = %v, want [%v, %v)", attempt, d, base, base+base/2)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("German", "Hello")
	want := "\n- you are a professional translator\n- translate the provided content into German\n- only respond with the translation\nHello\n"
	if got != want {
		t.Fatalf("BuildPrompt() = %q, want %q", got, want)
	}
	if p := BuildPrompt("", "x"); p == "" || !strings.Contains(p, "into English") {
		t.Fatalf("expected English default, got %q", p)
	}
}
