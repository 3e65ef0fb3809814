package resume

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/jobsync/internal/model"
)

func newTestParser(t *testing.T, handler http.HandlerFunc) *HTTPParser {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHTTPParser(ts.Client(), ts.URL+"/parse", nil)
}

func TestParse_Success(t *testing.T) {
	var gotBody, gotType string
	p := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"title":"Backend Engineer","full_name":"Taro","skills":["Go","SQL"]}`))
	})

	payload, err := p.Parse(context.Background(), []byte("plain text resume"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if gotBody != "plain text resume" {
		t.Errorf("body = %q", gotBody)
	}
	if gotType != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", gotType)
	}
	r, ok := payload.(*model.ResumePayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", payload)
	}
	if r.Title != "Backend Engineer" || len(r.Skills) != 2 {
		t.Errorf("unexpected payload: %+v", r)
	}
}

func TestParse_PDFContentType(t *testing.T) {
	var gotType string
	p := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"title":"CV"}`))
	})

	if _, err := p.Parse(context.Background(), []byte("%PDF-1.7\n...")); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if gotType != "application/pdf" {
		t.Errorf("Content-Type = %q, want application/pdf", gotType)
	}
}

func TestParse_ErrorStatus(t *testing.T) {
	p := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"unreadable document"}`))
	})

	_, err := p.Parse(context.Background(), []byte("x"))
	var parserErr *ParserError
	if !errors.As(err, &parserErr) {
		t.Fatalf("expected ParserError, got %v", err)
	}
	if parserErr.StatusCode != http.StatusUnprocessableEntity || parserErr.Message != "unreadable document" {
		t.Errorf("unexpected error: %+v", parserErr)
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	p := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if _, err := p.Parse(context.Background(), []byte("x")); err == nil {
		t.Error("expected error for empty parse result")
	}
}

func TestParse_ContextCanceled(t *testing.T) {
	p := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Parse(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
