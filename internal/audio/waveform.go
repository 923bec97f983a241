package audio

import "sync"

// DefaultWaveformBuckets matches the width of the waveform preview the UI
// renders.
const DefaultWaveformBuckets = 400

// WaveformPeak is the min/max sample range of one downsampled bucket.
type WaveformPeak struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// WaveformExtractor incrementally downsamples captured audio into a fixed
// number of min/max buckets so a full preview is available at stop time
// without a second pass over the recording. Fed by the drain goroutine;
// Peaks may be called from any thread.
type WaveformExtractor struct {
	mu sync.Mutex

	peaks            []WaveformPeak
	samplesPerBucket int
	bucket           int
	bucketFill       int
	curMin, curMax   float32
}

// NewWaveformExtractor sizes the extractor for totalSamples mono frames
// spread across buckets.
func NewWaveformExtractor(buckets, totalSamples int) *WaveformExtractor {
	if buckets <= 0 {
		buckets = DefaultWaveformBuckets
	}
	w := &WaveformExtractor{peaks: make([]WaveformPeak, 0, buckets)}
	w.sizeLocked(buckets, totalSamples)
	return w
}

func (w *WaveformExtractor) sizeLocked(buckets, totalSamples int) {
	spb := totalSamples / buckets
	if spb < 1 {
		spb = 1
	}
	w.samplesPerBucket = spb
	w.peaks = w.peaks[:0]
	w.bucket = 0
	w.bucketFill = 0
	w.curMin = 0
	w.curMax = 0
}

// AddSamples folds one interleaved block into the peak array. Channels are
// averaged to a mono trace, matching the preview the UI draws.
func (w *WaveformExtractor) AddSamples(block []float32, channels int) {
	if channels <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	frames := len(block) / channels
	for i := 0; i < frames; i++ {
		var mono float32
		for ch := 0; ch < channels; ch++ {
			mono += block[i*channels+ch]
		}
		mono /= float32(channels)

		if w.bucketFill == 0 {
			w.curMin = mono
			w.curMax = mono
		} else {
			if mono < w.curMin {
				w.curMin = mono
			}
			if mono > w.curMax {
				w.curMax = mono
			}
		}
		w.bucketFill++

		if w.bucketFill >= w.samplesPerBucket {
			w.peaks = append(w.peaks, WaveformPeak{Min: w.curMin, Max: w.curMax})
			w.bucket++
			w.bucketFill = 0
		}
	}
}

// Flush closes the partially filled bucket, if any. Call once at stop time.
func (w *WaveformExtractor) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bucketFill > 0 {
		w.peaks = append(w.peaks, WaveformPeak{Min: w.curMin, Max: w.curMax})
		w.bucket++
		w.bucketFill = 0
	}
}

// Peaks returns a copy of the buckets filled so far.
func (w *WaveformExtractor) Peaks() []WaveformPeak {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WaveformPeak, len(w.peaks))
	copy(out, w.peaks)
	return out
}

// Reset re-sizes the extractor for a new recording of totalSamples frames.
func (w *WaveformExtractor) Reset(buckets, totalSamples int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if buckets <= 0 {
		buckets = DefaultWaveformBuckets
	}
	w.sizeLocked(buckets, totalSamples)
}
