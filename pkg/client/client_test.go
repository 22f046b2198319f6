package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"

	"github.com/timkendrick/shunt/pkg/models"
	"github.com/timkendrick/shunt/pkg/protocol"
	"github.com/timkendrick/shunt/pkg/retry"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL,
		Token:   "secret",
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func TestDelta_Success(t *testing.T) {
	var got protocol.DeltaRequest
	var auth string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/delta" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.DeltaResponse{
			Cursor: "c1",
			Reset:  true,
			Changes: []models.ChangeRecord{
				{Path: "/site", Entry: &models.FileNode{IsDir: true}},
			},
		})
	}))
	defer ts.Close()

	page, err := c.Delta(context.Background(), protocol.DeltaRequest{PathPrefix: "/site"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Cursor != "c1" || !page.Reset || page.HasMore {
		t.Errorf("unexpected page %+v", page)
	}
	if len(page.Changes) != 1 || !page.Changes[0].Entry.IsDir {
		t.Errorf("unexpected changes %+v", page.Changes)
	}
	if got.PathPrefix != "/site" || got.Cursor != "" {
		t.Errorf("server got request %+v", got)
	}
	if auth != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", auth)
	}
}

func TestDelta_Gzip(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("client did not accept gzip")
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		json.NewEncoder(gz).Encode(protocol.DeltaResponse{Cursor: "gz", HasMore: true})
		gz.Close()
	}))
	defer ts.Close()

	page, err := c.Delta(context.Background(), protocol.DeltaRequest{PathPrefix: "/p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Cursor != "gz" || !page.HasMore {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestDelta_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(protocol.DeltaResponse{Cursor: "ok"})
	}))
	defer ts.Close()

	page, err := c.Delta(context.Background(), protocol.DeltaRequest{PathPrefix: "/p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Cursor != "ok" {
		t.Errorf("expected cursor ok, got %q", page.Cursor)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if !c.IsOnline() {
		t.Error("client should be online after success")
	}
}

func TestDelta_RetriesThrottled(t *testing.T) {
	var calls atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(protocol.DeltaResponse{Cursor: "after"})
	}))
	defer ts.Close()

	if _, err := c.Delta(context.Background(), protocol.DeltaRequest{PathPrefix: "/p"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestDelta_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "bad cursor", Code: 400})
	}))
	defer ts.Close()

	_, err := c.Delta(context.Background(), protocol.DeltaRequest{Cursor: "junk", PathPrefix: "/p"})
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 400 || se.Message != "bad cursor" {
		t.Errorf("unexpected status error %+v", se)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDelta_MalformedBody(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer ts.Close()

	_, err := c.Delta(context.Background(), protocol.DeltaRequest{PathPrefix: "/p"})
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestDelta_Unreachable(t *testing.T) {
	c, ts := testClient(http.NotFoundHandler())
	ts.Close()

	_, err := c.Delta(context.Background(), protocol.DeltaRequest{PathPrefix: "/p"})
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if c.IsOnline() {
		t.Error("client should be offline")
	}
}

func TestDelta_BudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(protocol.DeltaResponse{})
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, CallsPerMinute: 2, Clock: clockwork.NewFakeClock()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if _, err := c.Delta(ctx, protocol.DeltaRequest{PathPrefix: "/a"}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	// the next token is 30s away, past the deadline
	if _, err := c.Delta(ctx, protocol.DeltaRequest{PathPrefix: "/a"}); !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("expected ErrBudgetExhausted, got %v", err)
	}
	if _, err := c.Delta(ctx, protocol.DeltaRequest{PathPrefix: "/b"}); err != nil {
		t.Errorf("other prefix should have its own budget: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 remote calls, got %d", calls.Load())
	}
}

func TestDelta_WaitsForBudget(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(protocol.DeltaResponse{Cursor: "c"})
	}))
	defer ts.Close()

	clock := clockwork.NewFakeClock()
	c := New(Config{BaseURL: ts.URL, CallsPerMinute: 2, Clock: clock})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Delta(ctx, protocol.DeltaRequest{PathPrefix: "/a"}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Delta(ctx, protocol.DeltaRequest{PathPrefix: "/a"})
		errCh <- err
	}()

	clock.BlockUntil(1)
	if calls.Load() != 2 {
		t.Fatalf("call went out before a token was available")
	}
	clock.Advance(30 * time.Second)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Delta still waiting after the bucket refilled")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 remote calls, got %d", calls.Load())
	}
}

func TestDelta_RetriesSpendBudget(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := New(Config{
		BaseURL:        ts.URL,
		CallsPerMinute: 2,
		Clock:          clockwork.NewFakeClock(),
		RetryConfig: retry.Config{
			MaxAttempts: 5,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Delta(ctx, protocol.DeltaRequest{PathPrefix: "/a"})
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("expected ErrBudgetExhausted, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 remote calls, got %d", calls.Load())
	}
}

func TestPing(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
