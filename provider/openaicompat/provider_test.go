package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	quarry "github.com/quarryhq/quarry"
)

func TestComplete_Success(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []choice{{Message: &choiceMessage{Role: "assistant", Content: "cleaned text"}}},
			Usage:   &usage{PromptTokens: 120, CompletionTokens: 30},
		})
	}))
	defer srv.Close()

	p := NewProvider("sk-test", "gpt-4o-mini", srv.URL, WithTemperature(0.2))
	resp, err := p.Complete(context.Background(), quarry.CompletionRequest{
		System:    "You refine chunks.",
		Prompt:    "refine this",
		MaxTokens: 512,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "cleaned text" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 30 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	if got.Model != "gpt-4o-mini" || got.MaxTokens != 512 {
		t.Errorf("request = %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Errorf("temperature not forwarded: %+v", got.Temperature)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestComplete_RateLimitedWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))
	defer srv.Close()

	p := NewProvider("sk-test", "gpt-4o-mini", srv.URL)
	_, err := p.Complete(context.Background(), quarry.CompletionRequest{Prompt: "hi"})

	var httpErr *quarry.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *ErrHTTP, got %v", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", httpErr.Status)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", httpErr.RetryAfter)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL)
	_, err := p.Complete(context.Background(), quarry.CompletionRequest{Prompt: "hi"})

	var llmErr *quarry.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *ErrLLM for empty choices, got %v", err)
	}
}

func TestComplete_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("Authorization sent without an api key")
		}
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []choice{{Message: &choiceMessage{Content: "ok"}}},
		})
	}))
	defer srv.Close()

	// Local endpoints like Ollama take no key.
	p := NewProvider("", "llama3", srv.URL, WithName("ollama"))
	if p.Name() != "ollama" {
		t.Errorf("Name = %q", p.Name())
	}
	if _, err := p.Complete(context.Background(), quarry.CompletionRequest{Prompt: "hi"}); err != nil {
		t.Fatal(err)
	}
}

func TestComplete_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background connection read;
		// otherwise the client disconnect is never noticed, the request
		// context is never cancelled, and srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Complete(ctx, quarry.CompletionRequest{Prompt: "hi"}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
