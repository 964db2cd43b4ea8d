package cache

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ragdesk/ragdesk/pkg/cache/jsonfile"
	"github.com/ragdesk/ragdesk/pkg/models"
)

type failingStore struct {
	puts atomic.Int64
}

func (f *failingStore) Load() (map[models.CacheKey]string, error) {
	return nil, errors.New("disk on fire")
}

func (f *failingStore) Put(models.CacheKey, string) error {
	f.puts.Add(1)
	return errors.New("disk full")
}

func (f *failingStore) Clear() error { return nil }
func (f *failingStore) Close() error { return nil }

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query_cache.json")
	return New(jsonfile.New(path)), path
}

func TestLifecycle(t *testing.T) {
	c, _ := newTestCache(t)
	key := models.NewCacheKey("What is the capital of France?", "llama3")

	if st := c.Get(key); st.Status != models.CacheAbsent {
		t.Fatalf("expected absent, got %s", st.Status)
	}
	if !c.TryBegin(key) {
		t.Fatal("first TryBegin should win")
	}
	if st := c.Get(key); st.Status != models.CacheInProgress {
		t.Fatalf("expected in_progress, got %s", st.Status)
	}
	if c.TryBegin(key) {
		t.Fatal("second TryBegin should lose")
	}
	if err := c.Complete(key, "Paris"); err != nil {
		t.Fatal(err)
	}
	st := c.Get(key)
	if st.Status != models.CacheCompleted || st.Response != "Paris" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if c.TryBegin(key) {
		t.Fatal("TryBegin on completed key should lose")
	}
}

func TestConcurrentTryBeginHasOneWinner(t *testing.T) {
	c, _ := newTestCache(t)
	key := models.NewCacheKey("same question", "llama3")

	const n = 64
	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if c.TryBegin(key) {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins.Load())
	}
}

func TestFailAllowsRetry(t *testing.T) {
	c, _ := newTestCache(t)
	key := models.NewCacheKey("q", "m")

	c.TryBegin(key)
	c.Fail(key)
	if st := c.Get(key); st.Status != models.CacheAbsent {
		t.Fatalf("expected absent after fail, got %s", st.Status)
	}
	if !c.TryBegin(key) {
		t.Fatal("expected retry to win after fail")
	}
}

func TestFailKeepsCompleted(t *testing.T) {
	c, _ := newTestCache(t)
	key := models.NewCacheKey("q", "m")
	c.TryBegin(key)
	_ = c.Complete(key, "done")

	c.Fail(key)
	if st := c.Get(key); st.Status != models.CacheCompleted {
		t.Errorf("fail must not drop a completed entry, got %s", st.Status)
	}
}

func TestCompleteIsImmutable(t *testing.T) {
	c, _ := newTestCache(t)
	key := models.NewCacheKey("q", "m")
	c.TryBegin(key)
	_ = c.Complete(key, "first")
	_ = c.Complete(key, "second")

	if got := c.Get(key).Response; got != "first" {
		t.Errorf("expected first response, got %q", got)
	}
}

func TestPersistsCompletedOnly(t *testing.T) {
	c, path := newTestCache(t)
	done := models.NewCacheKey("done", "m")
	pending := models.NewCacheKey("pending", "m")

	c.TryBegin(done)
	_ = c.Complete(done, "answer")
	c.TryBegin(pending)

	reloaded := New(jsonfile.New(path))
	if st := reloaded.Get(done); st.Status != models.CacheCompleted || st.Response != "answer" {
		t.Errorf("unexpected reloaded state: %+v", st)
	}
	if st := reloaded.Get(pending); st.Status != models.CacheAbsent {
		t.Errorf("in-progress entry must not survive restart, got %s", st.Status)
	}
}

func TestStoreFailuresDoNotBreakCache(t *testing.T) {
	store := &failingStore{}
	c := New(store)
	key := models.NewCacheKey("q", "m")

	c.TryBegin(key)
	if err := c.Complete(key, "kept in memory"); err == nil {
		t.Error("expected persistence error to be reported")
	}
	if st := c.Get(key); st.Response != "kept in memory" {
		t.Errorf("in-memory state should govern, got %+v", st)
	}
	if store.puts.Load() != 1 {
		t.Errorf("expected 1 put, got %d", store.puts.Load())
	}
}

func TestStatsAndClear(t *testing.T) {
	c, _ := newTestCache(t)
	a := models.NewCacheKey("a", "m")
	b := models.NewCacheKey("b", "m")

	c.TryBegin(a)
	_ = c.Complete(a, "x")
	c.TryBegin(b)

	c.Get(a)                              // hit
	c.Get(models.NewCacheKey("zz", "m")) // miss

	s := c.Stats()
	if s.Entries != 1 || s.InProgress != 1 || s.Hits != 1 || s.Misses != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	s = c.Stats()
	if s.Entries != 0 || s.InProgress != 1 {
		t.Errorf("clear should keep in-progress markers: %+v", s)
	}
}

func TestMemoryOnly(t *testing.T) {
	c := New(nil)
	key := models.NewCacheKey("q", "m")
	c.TryBegin(key)
	if err := c.Complete(key, "r"); err != nil {
		t.Fatal(err)
	}
	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
