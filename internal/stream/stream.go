// Package stream fetches remote audio clips and decodes them to PCM.
//
// It is the non-real-time half of playback: everything here may block,
// allocate and fail. Decoded clips are immutable once returned and safe to
// share read-only across threads.
package stream

import "context"

// Clip is a fully decoded audio clip: interleaved float32 PCM in [-1, 1].
// Immutable once published.
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the clip length in frames.
func (c *Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames()) / float64(c.SampleRate)
}

// Bytes returns the resident size of the decoded PCM.
func (c *Clip) Bytes() int64 {
	return int64(len(c.Samples)) * 4
}

// Loader produces decoded clips from URLs. Implemented by Fetcher;
// replaceable in tests.
type Loader interface {
	Load(ctx context.Context, url string) (*Clip, error)
}
