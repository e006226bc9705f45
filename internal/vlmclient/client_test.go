package vlmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnalyzeParsesPlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Prompt != "describe" {
			t.Fatalf("unexpected prompt: %q", req.Prompt)
		}
		w.Write([]byte(`{"response": "a person walks by"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	res, err := c.Analyze(context.Background(), Request{Prompt: "describe"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Response != "a person walks by" {
		t.Fatalf("unexpected response: %q", res.Response)
	}
}

func TestAnalyzeStripsJSONFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("```json\n{\"answer\": \"yes, a red car\"}\n```"))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	res, err := c.Analyze(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Answer != "yes, a red car" {
		t.Fatalf("unexpected answer: %q", res.Answer)
	}
}

func TestAnalyzeNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	if _, err := c.Analyze(context.Background(), Request{}); err == nil {
		t.Fatalf("expected an error for a 500 response")
	}
}

func TestAnalyzeUnparsableBodyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	res, err := c.Analyze(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Raw != "not json at all" {
		t.Fatalf("expected raw body preserved, got %q", res.Raw)
	}
}
