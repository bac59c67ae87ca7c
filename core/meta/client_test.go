package meta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/info" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("url"); got != "https://example.com/watch?v=abc" {
			t.Errorf("unexpected url param %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"Midnight Drive","author":"Nova","thumbnail":"https://img.example.com/t.jpg"}`))
	}))
	defer srv.Close()

	info, err := NewClient(srv.URL).Lookup(context.Background(), "https://example.com/watch?v=abc")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if info.Title != "Midnight Drive" || info.Author != "Nova" || info.ThumbnailURL != "https://img.example.com/t.jpg" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestLookupMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"Midnight Drive","author":"","thumbnail":""}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Lookup(context.Background(), "https://example.com/x")
	if err == nil {
		t.Fatal("expected error for incomplete metadata")
	}
	if !strings.Contains(err.Error(), "incomplete metadata") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "author") || !strings.Contains(err.Error(), "thumbnail") {
		t.Fatalf("error should name the missing fields: %v", err)
	}
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Lookup(context.Background(), "https://example.com/x")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
