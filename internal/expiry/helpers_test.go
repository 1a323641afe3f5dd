package expiry

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/keywatch/internal/kv"
	"github.com/rzbill/keywatch/internal/kv/pebblekv"
	"github.com/rzbill/keywatch/pkg/log"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock { return &manualClock{t: epoch} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// at moves the clock to epoch+d.
func (c *manualClock) at(d time.Duration) {
	c.mu.Lock()
	c.t = epoch.Add(d)
	c.mu.Unlock()
}

func quietLogger() log.Logger {
	return log.NewLogger(log.WithOutput(log.NullOutput{}))
}

// openStore opens an embedded store sharing clk. The background reaper is
// off so that expirations happen only when a test looks at a key.
func openStore(t *testing.T, clk Clock) *pebblekv.Store {
	t.Helper()
	s, err := pebblekv.Open(pebblekv.Options{
		DataDir:      t.TempDir(),
		ReapInterval: -1,
		Now:          clk.Now,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recordingSink struct {
	mu     sync.Mutex
	events []RemovalEvent
}

func (s *recordingSink) PublishRemoval(e RemovalEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) Events() []RemovalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemovalEvent(nil), s.events...)
}

// fakeClient is an in-memory kv.Client whose key presence and failures are
// driven by the test.
type fakeClient struct {
	mu        sync.Mutex
	present   map[string]bool
	zsets     map[string]map[string]int64
	existsErr error
	zremErr   error
	subErr    error
	subs      []*fakeSub
	checks    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{present: map[string]bool{}, zsets: map[string]map[string]int64{}}
}

func (f *fakeClient) Set(_ context.Context, key string, _ []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[key] = true
	return nil
}

func (f *fakeClient) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.present[key], nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) expire(key string) {
	f.mu.Lock()
	delete(f.present, key)
	f.mu.Unlock()
}

func (f *fakeClient) setExistsErr(err error) {
	f.mu.Lock()
	f.existsErr = err
	f.mu.Unlock()
}

func (f *fakeClient) ZAdd(_ context.Context, set, member string, score int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.zsets[set] == nil {
		f.zsets[set] = map[string]int64{}
	}
	f.zsets[set][member] = score
	return nil
}

func (f *fakeClient) ZRem(_ context.Context, set, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.zremErr != nil {
		return false, f.zremErr
	}
	if _, ok := f.zsets[set][member]; !ok {
		return false, nil
	}
	delete(f.zsets[set], member)
	return true, nil
}

func (f *fakeClient) ZRangeByScore(_ context.Context, set string, min, max int64, offset, count int) ([]kv.ScoredMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []kv.ScoredMember
	for m, s := range f.zsets[set] {
		if s >= min && s <= max {
			out = append(out, kv.ScoredMember{Member: m, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (f *fakeClient) ZScore(_ context.Context, set, member string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.zsets[set][member]
	return s, ok, nil
}

func (f *fakeClient) PSubscribe(_ context.Context, pattern string) (kv.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	s := &fakeSub{pattern: pattern, ch: make(chan kv.Message, 16)}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeClient) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeClient) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeSub struct {
	pattern string
	ch      chan kv.Message
	once    sync.Once
}

func (s *fakeSub) Messages() <-chan kv.Message { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

func (s *fakeSub) send(payload string) {
	s.ch <- kv.Message{Pattern: s.pattern, Channel: kv.ExpiredChannel(0), Payload: payload}
}

// countingRecorder counts observations.
type countingRecorder struct {
	mu        sync.Mutex
	watches   int
	indexed   int
	removals  map[Source]int
	errors    map[Source]int
	events    int
	malformed int
	filtered  int
	passes    []PassResult
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{removals: map[Source]int{}, errors: map[Source]int{}}
}

func (r *countingRecorder) WatchRegistered(indexed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watches++
	if indexed {
		r.indexed++
	}
}

func (r *countingRecorder) Removal(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removals[s]++
}

func (r *countingRecorder) CleanupError(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[s]++
}

func (r *countingRecorder) LiveEvent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events++
}

func (r *countingRecorder) LiveMalformed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.malformed++
}

func (r *countingRecorder) LiveFiltered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filtered++
}

func (r *countingRecorder) PassCompleted(p PassResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, p)
}

type recorderCounts struct {
	watches   int
	indexed   int
	events    int
	malformed int
	filtered  int
	passes    []PassResult
}

func (r *countingRecorder) snapshot() recorderCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorderCounts{
		watches:   r.watches,
		indexed:   r.indexed,
		events:    r.events,
		malformed: r.malformed,
		filtered:  r.filtered,
		passes:    append([]PassResult(nil), r.passes...),
	}
}

func (r *countingRecorder) removalsFor(s Source) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removals[s]
}
