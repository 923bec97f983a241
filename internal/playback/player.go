package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sidechain/engine/internal/audio"
	"github.com/sidechain/engine/internal/eventlog"
	"github.com/sidechain/engine/internal/stream"
	"github.com/sidechain/engine/internal/types"
)

// State tracks the player lifecycle.
type State string

const (
	// StateStopped indicates nothing is loaded or playback was stopped.
	StateStopped State = "stopped"
	// StateLoading indicates a clip is being fetched and decoded.
	StateLoading State = "loading"
	// StatePlaying indicates audio is being rendered.
	StatePlaying State = "playing"
	// StatePaused indicates playback is suspended at the current position.
	StatePaused State = "paused"
	// StateEnded indicates the clip played to its end.
	StateEnded State = "ended"
)

const (
	// progressInterval paces progress callbacks and preload checks.
	progressInterval = 50 * time.Millisecond

	// restartThreshold: PlayPrevious restarts the current entry rather than
	// jumping back when playback is further in than this.
	restartThreshold = 3 * time.Second
)

// track is the audio-thread view of a playing clip. The position is a
// fractional source frame stored as float64 bits so both threads can read it.
type track struct {
	url  string
	clip *stream.Clip
	pos  atomic.Uint64
	// ratio converts one host frame of progress into source frames.
	ratio float64
}

func (t *track) position() float64 {
	return math.Float64frombits(t.pos.Load())
}

func (t *track) setPosition(v float64) {
	t.pos.Store(math.Float64bits(v))
}

// Callbacks notify the embedding UI of player activity. All callbacks fire
// on background goroutines, never on the audio thread. Any field may be nil.
type Callbacks struct {
	OnStateChanged func(state State, url string)
	OnProgress     func(url string, progress float64)
	OnFinished     func(url string)
	OnError        func(url string, err error)
}

// Options configures a Player.
type Options struct {
	HostSampleRate int
	HostChannels   int
	// PreloadThreshold is the playback progress at which the next playlist
	// entry is fetched ahead of time.
	PreloadThreshold float64
	// LinearResample selects linear interpolation over nearest-neighbor.
	LinearResample bool
}

// Player streams remote clips into the host output. ProcessBlock runs on the
// audio thread and is lock-free; all control methods run on the message
// thread. Loading and decoding happen on background goroutines.
type Player struct {
	mu    sync.Mutex
	state State

	cache  *Cache
	loader stream.Loader
	events *eventlog.Logger
	cb     Callbacks

	hostRate     int
	hostChannels int
	preloadAt    float64
	linear       bool

	// Audio-thread shared state.
	playing  atomic.Bool
	muted    atomic.Bool
	volume   atomic.Uint32 // float32 bits
	current  atomic.Pointer[track]
	next     atomic.Pointer[track]
	finished atomic.Bool // clip ended with no queued successor
	advanced atomic.Bool // gapless swap happened on the audio thread
	meter    *audio.LevelMeter

	// Message-thread bookkeeping.
	currentURL     string
	playlist       []string
	playlistIdx    int
	preloadedFor   string
	loadSeq        atomic.Int64
	hostWasPlaying bool
	pausedByHost   bool

	tickStop chan struct{}
	tickDone chan struct{}
}

// NewPlayer creates a player rendering at the given host format.
func NewPlayer(opts Options, cache *Cache, loader stream.Loader, events *eventlog.Logger, cb Callbacks) *Player {
	if opts.HostChannels < 1 {
		opts.HostChannels = 1
	}
	if opts.HostChannels > audio.MaxChannels {
		opts.HostChannels = audio.MaxChannels
	}
	if opts.PreloadThreshold <= 0 || opts.PreloadThreshold >= 1 {
		opts.PreloadThreshold = 0.8
	}
	p := &Player{
		state:        StateStopped,
		cache:        cache,
		loader:       loader,
		events:       events,
		cb:           cb,
		hostRate:     opts.HostSampleRate,
		hostChannels: opts.HostChannels,
		preloadAt:    opts.PreloadThreshold,
		linear:       opts.LinearResample,
		meter:        audio.NewLevelMeter(),
		playlistIdx:  -1,
		tickStop:     make(chan struct{}),
		tickDone:     make(chan struct{}),
	}
	p.volume.Store(math.Float32bits(1.0))
	go p.tickLoop()
	return p
}

// Prepare updates the host format. Never called while playing.
func (p *Player) Prepare(sampleRate, channels int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if channels < 1 {
		channels = 1
	}
	if channels > audio.MaxChannels {
		channels = audio.MaxChannels
	}
	p.hostRate = sampleRate
	p.hostChannels = channels
	if tr := p.current.Load(); tr != nil && sampleRate > 0 {
		tr.ratio = float64(tr.clip.SampleRate) / float64(sampleRate)
	}
	if tr := p.next.Load(); tr != nil && sampleRate > 0 {
		tr.ratio = float64(tr.clip.SampleRate) / float64(sampleRate)
	}
}

// Close stops playback and the progress goroutine.
func (p *Player) Close() {
	p.Stop()
	close(p.tickStop)
	<-p.tickDone
}

// State returns the current player state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CurrentURL returns the URL of the loaded or loading clip.
func (p *Player) CurrentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentURL
}

// Meter returns the playback output level meter.
func (p *Player) Meter() *audio.LevelMeter {
	return p.meter
}

// Play loads and plays the clip at url. If the URL previously failed it
// returns the recorded error without refetching; ClearFailure resets that.
func (p *Player) Play(url string) error {
	if err := p.cache.Poisoned(url); err != nil {
		slog.Warn("refusing to replay failed url", "url", url, "error", err)
		return err
	}

	p.mu.Lock()
	if p.state == StatePaused && url == p.currentURL {
		p.mu.Unlock()
		return p.Resume()
	}
	p.stopLocked(false)
	p.currentURL = url
	p.syncPlaylistIndexLocked(url)

	if clip, ok := p.cache.Get(url); ok {
		p.startLocked(url, clip)
		p.mu.Unlock()
		return nil
	}

	p.setStateLocked(StateLoading)
	seq := p.loadSeq.Add(1)
	p.mu.Unlock()

	go p.loadAndStart(url, seq)
	return nil
}

// loadAndStart fetches, decodes and caches a clip, then starts it unless a
// newer load superseded this one.
func (p *Player) loadAndStart(url string, seq int64) {
	clip, err := p.loader.Load(context.Background(), url)
	if err != nil {
		p.cache.Poison(url, err)
		slog.Error("clip load failed", "url", url, "error", err)
		p.events.Log(eventlog.PlaybackFailed, "", &eventlog.PlaybackDetails{URL: url, Error: err.Error()})

		p.mu.Lock()
		stale := seq != p.loadSeq.Load()
		if !stale {
			p.setStateLocked(StateStopped)
		}
		p.mu.Unlock()
		if !stale && p.cb.OnError != nil {
			p.cb.OnError(url, err)
		}
		return
	}

	if err := p.cache.Put(url, clip); err != nil {
		slog.Warn("clip exceeds cache budget", "url", url, "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.loadSeq.Load() {
		// A newer Play or Stop superseded this load; the decode still
		// warmed the cache.
		return
	}
	p.startLocked(url, clip)
}

// startLocked publishes a new track to the audio thread and moves to Playing.
func (p *Player) startLocked(url string, clip *stream.Clip) {
	tr := &track{url: url, clip: clip}
	if p.hostRate > 0 {
		tr.ratio = float64(clip.SampleRate) / float64(p.hostRate)
	} else {
		tr.ratio = 1
	}

	p.cache.Pin(url)
	p.next.Store(nil)
	p.finished.Store(false)
	p.advanced.Store(false)
	p.current.Store(tr)
	p.currentURL = url
	p.preloadedFor = ""
	p.playing.Store(true)
	p.setStateLocked(StatePlaying)

	slog.Info("playback started", "url", url, "duration", clip.Duration(), "source_rate", clip.SampleRate)
	p.events.Log(eventlog.PlaybackStarted, "", &eventlog.PlaybackDetails{URL: url, Bytes: clip.Bytes()})
}

// Pause suspends playback, keeping the position.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying {
		return &types.StateError{Op: "pause", State: string(p.state)}
	}
	p.playing.Store(false)
	p.setStateLocked(StatePaused)
	return nil
}

// Resume continues paused playback.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePaused {
		return &types.StateError{Op: "resume", State: string(p.state)}
	}
	p.playing.Store(true)
	p.setStateLocked(StatePlaying)
	return nil
}

// TogglePlayPause pauses when playing, resumes when paused, and replays the
// current clip from the start when it has ended.
func (p *Player) TogglePlayPause() error {
	p.mu.Lock()
	state := p.state
	url := p.currentURL
	p.mu.Unlock()

	switch state {
	case StatePlaying:
		return p.Pause()
	case StatePaused:
		return p.Resume()
	case StateEnded:
		if url != "" {
			return p.Play(url)
		}
		return &types.StateError{Op: "toggle playback", State: string(state)}
	default:
		return &types.StateError{Op: "toggle playback", State: string(state)}
	}
}

// Stop halts playback and releases the current clip.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(true)
}

func (p *Player) stopLocked(notify bool) {
	p.loadSeq.Add(1) // invalidate in-flight loads
	wasActive := p.state != StateStopped

	p.playing.Store(false)
	p.current.Store(nil)
	p.next.Store(nil)
	p.finished.Store(false)
	p.advanced.Store(false)
	p.cache.Pin("")
	p.meter.Reset()
	p.pausedByHost = false

	if wasActive {
		url := p.currentURL
		p.setStateLocked(StateStopped)
		if notify {
			slog.Info("playback stopped", "url", url)
			p.events.Log(eventlog.PlaybackStopped, "", &eventlog.PlaybackDetails{URL: url})
		}
	}
}

// Seek moves the playhead to a normalized position in [0, 1]. Out-of-range
// values are clamped. No-op while loading or stopped.
func (p *Player) Seek(progress float64) {
	tr := p.current.Load()
	if tr == nil {
		return
	}
	progress = min(max(progress, 0), 1)
	tr.setPosition(progress * float64(tr.clip.Frames()))
}

// Position returns the playhead in seconds.
func (p *Player) Position() float64 {
	tr := p.current.Load()
	if tr == nil || tr.clip.SampleRate <= 0 {
		return 0
	}
	return tr.position() / float64(tr.clip.SampleRate)
}

// Duration returns the current clip length in seconds.
func (p *Player) Duration() float64 {
	tr := p.current.Load()
	if tr == nil {
		return 0
	}
	return tr.clip.Duration()
}

// Progress returns the normalized playhead position in [0, 1].
func (p *Player) Progress() float64 {
	tr := p.current.Load()
	if tr == nil {
		return 0
	}
	frames := float64(tr.clip.Frames())
	if frames <= 0 {
		return 0
	}
	return min(tr.position()/frames, 1)
}

// SetVolume sets the playback gain in [0, 1].
func (p *Player) SetVolume(v float32) {
	v = min(max(v, 0), 1)
	p.volume.Store(math.Float32bits(v))
}

// Volume returns the playback gain.
func (p *Player) Volume() float32 {
	return math.Float32frombits(p.volume.Load())
}

// SetMuted silences output without pausing; the playhead keeps advancing.
func (p *Player) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports whether output is muted.
func (p *Player) Muted() bool {
	return p.muted.Load()
}

// ClearFailure forgets a recorded load failure so url can be retried.
func (p *Player) ClearFailure(url string) {
	p.cache.ClearPoison(url)
}

// ProcessBlock mixes the current clip into an interleaved host buffer,
// resampling from the source rate. Audio thread only; lock-free and
// allocation-free. When the clip ends and a preloaded successor is queued,
// playback continues into it within the same block.
func (p *Player) ProcessBlock(out []float32) {
	if !p.playing.Load() {
		return
	}
	tr := p.current.Load()
	if tr == nil {
		return
	}

	var gain float32
	if !p.muted.Load() {
		gain = math.Float32frombits(p.volume.Load())
	}

	hostCh := p.hostChannels
	frames := len(out) / hostCh
	posBits := tr.pos.Load()
	pos := math.Float64frombits(posBits)
	src := tr.clip.Samples
	srcCh := tr.clip.Channels
	srcFrames := tr.clip.Frames()

render:
	for i := 0; i < frames; i++ {
		for pos >= float64(srcFrames) {
			nx := p.next.Swap(nil)
			if nx == nil {
				p.playing.Store(false)
				p.finished.Store(true)
				break render
			}
			// Hand off and render the successor's first frame into this
			// same slot; the transition must not leave a silent frame.
			tr.setPosition(float64(srcFrames))
			tr = nx
			p.current.Store(nx)
			p.advanced.Store(true)
			posBits = tr.pos.Load()
			pos = math.Float64frombits(posBits)
			src = tr.clip.Samples
			srcCh = tr.clip.Channels
			srcFrames = tr.clip.Frames()
		}

		idx := int(pos)
		frac := float32(pos - float64(idx))
		base := idx * srcCh
		nextBase := base
		if idx+1 < srcFrames {
			nextBase = base + srcCh
		}

		for ch := 0; ch < hostCh; ch++ {
			sch := ch % srcCh
			s := src[base+sch]
			if p.linear {
				s += (src[nextBase+sch] - s) * frac
			}
			out[i*hostCh+ch] += s * gain
		}
		pos += tr.ratio
	}

	// A Seek landing mid-block changed the stored position; it wins over
	// the block-end store.
	tr.pos.CompareAndSwap(posBits, math.Float64bits(pos))
	p.meter.Update(out[:frames*hostCh], hostCh)
}

// tickLoop runs progress callbacks, preload checks and end-of-clip
// transitions that the audio thread cannot perform itself.
func (p *Player) tickLoop() {
	defer close(p.tickDone)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.tickStop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Player) tick() {
	if p.advanced.Swap(false) {
		p.onAdvanced()
	}
	if p.finished.Swap(false) {
		p.onFinished()
	}

	p.mu.Lock()
	state := p.state
	url := p.currentURL
	p.mu.Unlock()
	if state != StatePlaying {
		return
	}

	progress := p.Progress()
	if p.cb.OnProgress != nil {
		p.cb.OnProgress(url, progress)
	}
	if progress >= p.preloadAt {
		p.maybePreloadNext()
	}
}

// onAdvanced runs after the audio thread swapped to the preloaded successor.
func (p *Player) onAdvanced() {
	tr := p.current.Load()
	if tr == nil {
		return
	}

	p.mu.Lock()
	prev := p.currentURL
	p.currentURL = tr.url
	p.syncPlaylistIndexLocked(tr.url)
	p.preloadedFor = ""
	p.cache.Pin(tr.url)
	p.setStateLocked(StatePlaying)
	p.mu.Unlock()

	slog.Info("advanced to next clip", "from", prev, "to", tr.url)
	p.events.Log(eventlog.PlaybackStarted, "", &eventlog.PlaybackDetails{URL: tr.url, Bytes: tr.clip.Bytes()})
	if p.cb.OnFinished != nil {
		p.cb.OnFinished(prev)
	}
}

// onFinished runs after the clip ended with nothing queued. If the playlist
// has a further entry that was not decoded in time, it is started the slow
// way; otherwise the player moves to Ended.
func (p *Player) onFinished() {
	p.mu.Lock()
	url := p.currentURL
	next, ok := p.nextPlaylistURLLocked()
	p.setStateLocked(StateEnded)
	p.mu.Unlock()

	slog.Info("playback finished", "url", url)
	if p.cb.OnFinished != nil {
		p.cb.OnFinished(url)
	}

	if ok && p.cache.Poisoned(next) == nil {
		if err := p.Play(next); err != nil {
			slog.Error("playlist advance failed", "url", next, "error", err)
		}
	}
}

// maybePreloadNext fetches the next playlist entry once per clip so the
// audio thread can switch to it gaplessly.
func (p *Player) maybePreloadNext() {
	p.mu.Lock()
	next, ok := p.nextPlaylistURLLocked()
	if !ok || p.preloadedFor == next {
		p.mu.Unlock()
		return
	}
	p.preloadedFor = next
	p.mu.Unlock()

	if p.cache.Poisoned(next) != nil {
		return
	}

	go func() {
		clip, ok := p.cache.Get(next)
		if !ok {
			var err error
			clip, err = p.loader.Load(context.Background(), next)
			if err != nil {
				p.cache.Poison(next, err)
				slog.Warn("preload failed", "url", next, "error", err)
				return
			}
			if err := p.cache.Put(next, clip); err != nil {
				slog.Warn("preloaded clip exceeds cache budget", "url", next, "error", err)
			}
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		// Queue for the gapless handoff only if the same clip is still
		// playing and expecting this successor.
		if p.state == StatePlaying && p.preloadedFor == next {
			tr := &track{url: next, clip: clip}
			if p.hostRate > 0 {
				tr.ratio = float64(clip.SampleRate) / float64(p.hostRate)
			} else {
				tr.ratio = 1
			}
			p.next.Store(tr)
			slog.Debug("next clip queued", "url", next)
		}
	}()
}

// SetPlaylist replaces the playlist. Playback of the current clip continues;
// the playlist position is matched to the current URL when present.
func (p *Player) SetPlaylist(urls []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playlist = append([]string(nil), urls...)
	p.playlistIdx = -1
	p.preloadedFor = ""
	p.next.Store(nil)
	p.syncPlaylistIndexLocked(p.currentURL)
}

// Playlist returns a copy of the playlist.
func (p *Player) Playlist() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.playlist...)
}

// PlayNext starts the next playlist entry.
func (p *Player) PlayNext() error {
	p.mu.Lock()
	next, ok := p.nextPlaylistURLLocked()
	p.mu.Unlock()
	if !ok {
		return &types.StateError{Op: "play next", State: "end of playlist"}
	}
	return p.Play(next)
}

// PlayPrevious starts the previous playlist entry, or restarts the current
// one when more than a few seconds in.
func (p *Player) PlayPrevious() error {
	p.mu.Lock()
	idx := p.playlistIdx
	url := p.currentURL
	p.mu.Unlock()

	if url != "" && p.Position() > restartThreshold.Seconds() {
		p.Seek(0)
		p.mu.Lock()
		resume := p.state == StatePaused || p.state == StateEnded
		p.mu.Unlock()
		if resume {
			return p.Play(url)
		}
		return nil
	}

	p.mu.Lock()
	var prev string
	ok := idx > 0 && idx <= len(p.playlist)
	if ok {
		prev = p.playlist[idx-1]
	}
	p.mu.Unlock()

	if !ok {
		if url != "" {
			p.Seek(0)
			return nil
		}
		return &types.StateError{Op: "play previous", State: "start of playlist"}
	}
	return p.Play(prev)
}

// nextPlaylistURLLocked returns the entry after the current playlist index.
func (p *Player) nextPlaylistURLLocked() (string, bool) {
	if p.playlistIdx < 0 || p.playlistIdx+1 >= len(p.playlist) {
		return "", false
	}
	return p.playlist[p.playlistIdx+1], true
}

func (p *Player) syncPlaylistIndexLocked(url string) {
	for i, u := range p.playlist {
		if u == url {
			p.playlistIdx = i
			return
		}
	}
	p.playlistIdx = -1
}

// OnHostTransportStarted yields to the host: preview playback pauses while
// the host transport rolls.
func (p *Player) OnHostTransportStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hostWasPlaying = p.state == StatePlaying
	if p.hostWasPlaying {
		p.playing.Store(false)
		p.setStateLocked(StatePaused)
		p.pausedByHost = true
		slog.Debug("paused for host transport")
	}
}

// OnHostTransportStopped resumes preview playback if the host interrupted it.
func (p *Player) OnHostTransportStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pausedByHost && p.state == StatePaused {
		p.playing.Store(true)
		p.setStateLocked(StatePlaying)
		slog.Debug("resumed after host transport")
	}
	p.pausedByHost = false
	p.hostWasPlaying = false
}

// setStateLocked transitions state and schedules the callback off-lock.
func (p *Player) setStateLocked(s State) {
	if p.state == s {
		return
	}
	p.state = s
	if p.cb.OnStateChanged != nil {
		url := p.currentURL
		go p.cb.OnStateChanged(s, url)
	}
}
