package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sidechain/engine/internal/types"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 3
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 5 * time.Second

	// maxClipBytes caps a single download (encoded size) so a bad URL
	// cannot exhaust memory.
	maxClipBytes = 100 << 20
)

// Fetcher downloads and decodes remote audio. Concurrent loads of the same
// URL are coalesced into a single download.
type Fetcher struct {
	client  *http.Client
	retries int
	group   singleflight.Group
}

// NewFetcher returns a Fetcher with sane timeouts and retry behavior.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: defaultTimeout},
		retries: defaultRetries,
	}
}

// Load fetches and decodes the clip at url. It implements Loader.
func (f *Fetcher) Load(ctx context.Context, url string) (*Clip, error) {
	v, err, shared := f.group.Do(url, func() (any, error) {
		data, err := f.fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		clip, err := Decode(url, data)
		if err != nil {
			return nil, err
		}
		slog.Info("clip loaded",
			"url", url,
			"encoded_bytes", len(data),
			"pcm_bytes", clip.Bytes(),
			"duration", clip.Duration())
		return clip, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("coalesced duplicate fetch", "url", url)
	}
	return v.(*Clip), nil
}

// fetch downloads url with exponential backoff on transient failures.
func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	delay := initialRetryDelay
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying fetch", "url", url, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, &types.FetchError{URL: url, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay = min(delay*2, maxRetryDelay)
		}

		data, retryable, err := f.attempt(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, url string) (data []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, &types.FetchError{URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, &types.FetchError{URL: url, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close response body", "url", url, "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		// Server errors are worth retrying, client errors are not.
		return nil, resp.StatusCode >= 500, &types.FetchError{URL: url, Status: resp.StatusCode}
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxClipBytes+1))
	if err != nil {
		return nil, true, &types.FetchError{URL: url, Err: err}
	}
	if len(data) > maxClipBytes {
		return nil, false, &types.FetchError{URL: url, Err: fmt.Errorf("clip exceeds %d bytes", maxClipBytes)}
	}
	if len(data) == 0 {
		return nil, true, &types.FetchError{URL: url, Err: fmt.Errorf("empty response")}
	}
	return data, false, nil
}
