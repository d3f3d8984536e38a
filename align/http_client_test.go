package align

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func featureSetJSON(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(twoClustersPath)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func TestFetchFeatureSet_Success(t *testing.T) {
	body := featureSetJSON(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	fs, err := FetchFeatureSet(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchFeatureSet() error: %v", err)
	}
	if fs.Session != "two-clusters" {
		t.Errorf("Session = %q, want two-clusters", fs.Session)
	}
	if len(fs.Points) != 6 {
		t.Errorf("len(Points) = %d, want 6", len(fs.Points))
	}
}

func TestFetchFeatureSet_Zlib(t *testing.T) {
	body := zlibCompress(t, featureSetJSON(t))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	fs, err := FetchFeatureSet(context.Background(), srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("FetchFeatureSet() error: %v", err)
	}
	if len(fs.Points) != 6 {
		t.Errorf("len(Points) = %d, want 6", len(fs.Points))
	}
}

func TestFetchFeatureSet_EmptyURL(t *testing.T) {
	_, err := FetchFeatureSet(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "API URL is empty") {
		t.Fatalf("expected empty URL error, got %v", err)
	}
}

func TestFetchFeatureSet_ServerErrorRetries(t *testing.T) {
	body := featureSetJSON(t)
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	_, err := FetchFeatureSet(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("FetchFeatureSet() error: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestFetchFeatureSet_AllRetriesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := FetchFeatureSet(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(2),
		WithBaseBackoff(time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected error after all retries exhausted")
	}
	if !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFetchFeatureSet_NoRetryOnDecodeError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte("{invalid"))
	}))
	defer srv.Close()

	_, err := FetchFeatureSet(context.Background(), srv.URL,
		WithHTTPClient(srv.Client()),
		WithMaxRetries(3),
		WithBaseBackoff(time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestFetchFeatureSet_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchFeatureSet(ctx, srv.URL,
		WithHTTPClient(srv.Client()),
		WithBaseBackoff(time.Millisecond),
	)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestFetchFeatureSet_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := FetchFeatureSet(context.Background(), srv.URL,
		WithTimeout(10*time.Millisecond),
		WithMaxRetries(1),
	)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
