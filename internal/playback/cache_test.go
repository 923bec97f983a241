package playback

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sidechain/engine/internal/stream"
	"github.com/sidechain/engine/internal/types"
)

// clipOfBytes builds a clip whose decoded size is exactly n bytes.
func clipOfBytes(n int64) *stream.Clip {
	return &stream.Clip{
		Samples:    make([]float32, n/4),
		SampleRate: 48000,
		Channels:   1,
	}
}

func TestCacheGetPut(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	clip := clipOfBytes(400)
	if err := c.Put("a", clip); err != nil {
		t.Fatalf("Put() = %v", err)
	}

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Get() miss after Put")
	}
	if got != clip {
		t.Error("Get() returned a different clip")
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get() hit for unknown url")
	}
	if got := c.Bytes(); got != 400 {
		t.Errorf("Bytes() = %d, want 400", got)
	}
}

func TestCacheEvictsOldestOverBudget(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	for _, url := range []string{"a", "b", "c"} {
		if err := c.Put(url, clipOfBytes(400)); err != nil {
			t.Fatalf("Put(%s) = %v", url, err)
		}
	}

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry survived over-budget insert")
	}
	for _, url := range []string{"b", "c"} {
		if _, ok := c.Get(url); !ok {
			t.Errorf("entry %s evicted unexpectedly", url)
		}
	}
	if got := c.Bytes(); got != 800 {
		t.Errorf("Bytes() = %d, want 800", got)
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestCacheGetRefreshesRecency(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	c.Put("a", clipOfBytes(400))
	c.Put("b", clipOfBytes(400))

	// Touch a so b becomes the eviction candidate.
	c.Get("a")
	c.Put("c", clipOfBytes(400))

	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived")
	}
}

func TestCachePinnedEntryNeverEvicted(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	c.Put("playing", clipOfBytes(400))
	c.Pin("playing")

	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("other-%d", i), clipOfBytes(400))
	}

	if _, ok := c.Get("playing"); !ok {
		t.Fatal("pinned entry was evicted")
	}

	// Unpinning makes it evictable again.
	c.Pin("")
	for i := 5; i < 10; i++ {
		c.Put(fmt.Sprintf("other-%d", i), clipOfBytes(400))
	}
	if _, ok := c.Get("playing"); ok {
		t.Error("unpinned entry survived sustained pressure")
	}
}

func TestCachePinnedSurvivesEntryCountCap(t *testing.T) {
	t.Parallel()

	// A budget large enough that only the entry-count cap can evict.
	c := NewCache(1<<30, nil)
	c.Put("playing", clipOfBytes(400))
	c.Pin("playing")

	for i := 0; i < maxCacheEntries+8; i++ {
		c.Put(fmt.Sprintf("other-%d", i), clipOfBytes(400))
	}

	if _, ok := c.Get("playing"); !ok {
		t.Fatal("pinned entry was evicted at the entry-count cap")
	}
}

func TestCacheOversizeClip(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	err := c.Put("huge", clipOfBytes(4000))

	var capErr *types.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Put() = %v, want CapacityError", err)
	}
	if capErr.Bytes != 4000 || capErr.Budget != 1000 {
		t.Errorf("CapacityError = %+v", capErr)
	}

	// The clip is admitted anyway so playback can proceed.
	if _, ok := c.Get("huge"); !ok {
		t.Error("oversize clip was not admitted")
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestCacheOversizeEvictsEverythingElse(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	c.Put("a", clipOfBytes(400))
	c.Put("huge", clipOfBytes(4000))

	if _, ok := c.Get("a"); ok {
		t.Error("small entry survived an oversize insert")
	}
}

func TestCachePutReplacesExisting(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	c.Put("a", clipOfBytes(400))
	c.Put("a", clipOfBytes(600))

	if got := c.Bytes(); got != 600 {
		t.Errorf("Bytes() after replace = %d, want 600", got)
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Len() after replace = %d, want 1", got)
	}
}

func TestCacheEvict(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	c.Put("a", clipOfBytes(400))
	c.Evict("a")

	if _, ok := c.Get("a"); ok {
		t.Error("entry survived Evict")
	}
	if got := c.Bytes(); got != 0 {
		t.Errorf("Bytes() = %d, want 0", got)
	}
}

func TestCachePoison(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	wantErr := errors.New("decode exploded")
	c.Poison("bad", wantErr)

	if got := c.Poisoned("bad"); !errors.Is(got, wantErr) {
		t.Errorf("Poisoned() = %v, want %v", got, wantErr)
	}
	if got := c.Poisoned("good"); got != nil {
		t.Errorf("Poisoned() for clean url = %v", got)
	}

	c.ClearPoison("bad")
	if got := c.Poisoned("bad"); got != nil {
		t.Errorf("Poisoned() after ClearPoison = %v", got)
	}
}

func TestCacheClear(t *testing.T) {
	t.Parallel()

	c := NewCache(1000, nil)
	c.Put("a", clipOfBytes(400))
	c.Poison("bad", errors.New("x"))
	c.Clear()

	if got := c.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d", got)
	}
	if got := c.Bytes(); got != 0 {
		t.Errorf("Bytes() after Clear = %d", got)
	}
	if got := c.Poisoned("bad"); got != nil {
		t.Errorf("poison mark survived Clear: %v", got)
	}
}
