package stream

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sidechain/engine/internal/encode"
	"github.com/sidechain/engine/internal/types"
)

// wavBytes encodes a short clip for serving from test handlers.
func wavBytes(t *testing.T) []byte {
	t.Helper()
	in := make([]float32, 800)
	for i := range in {
		in[i] = 0.25 * float32(math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if _, err := encode.SaveFile(path, in, 1, 8000, types.WAV16); err != nil {
		t.Fatalf("SaveFile() = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestFetcherLoad(t *testing.T) {
	t.Parallel()

	data := wavBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	clip, err := NewFetcher().Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if clip.SampleRate != 8000 || clip.Channels != 1 {
		t.Errorf("clip format = %d Hz %d ch, want 8000 Hz 1 ch", clip.SampleRate, clip.Channels)
	}
	if got := clip.Frames(); got != 800 {
		t.Errorf("Frames() = %d, want 800", got)
	}
}

func TestFetcherNoRetryOnClientError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	var fetchErr *types.FetchError
	_, err := NewFetcher().Load(context.Background(), srv.URL)
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Load() = %v, want FetchError", err)
	}
	if fetchErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", fetchErr.Status)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1 (no retry on 4xx)", got)
	}
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	t.Parallel()

	data := wavBytes(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	clip, err := NewFetcher().Load(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if clip.Frames() != 800 {
		t.Errorf("Frames() = %d, want 800", clip.Frames())
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hit %d times, want 2", got)
	}
}

func TestFetcherGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher()
	f.retries = 2
	var fetchErr *types.FetchError
	if _, err := f.Load(context.Background(), srv.URL); !errors.As(err, &fetchErr) {
		t.Fatalf("Load() = %v, want FetchError", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hit %d times, want 3 (initial + 2 retries)", got)
	}
}

func TestFetcherContextCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if _, err := NewFetcher().Load(ctx, srv.URL); err == nil {
		t.Fatal("Load() with cancelled context succeeded")
	}
	// The retry delay must be cut short by the cancelled context.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Load() took %v, cancellation did not interrupt backoff", elapsed)
	}
}

func TestFetcherCoalescesConcurrentLoads(t *testing.T) {
	t.Parallel()

	data := wavBytes(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.Write(data)
	}))
	defer srv.Close()

	f := NewFetcher()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Load(context.Background(), srv.URL); err != nil {
				t.Errorf("Load() = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1 (coalesced)", got)
	}
}

func TestFetcherRejectsEmptyResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewFetcher()
	f.retries = 0
	var fetchErr *types.FetchError
	if _, err := f.Load(context.Background(), srv.URL); !errors.As(err, &fetchErr) {
		t.Fatalf("Load() on empty body = %v, want FetchError", err)
	}
}
