package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/igwedaniel/sharkmon/internal/storage"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/igwedaniel/sharkmon/internal/viewstate"
	"github.com/sirupsen/logrus"
)

type fakePool struct {
	calls   atomic.Int32
	release chan struct{}
	data    *types.PoolData
	err     error
}

func (f *fakePool) PoolData(ctx context.Context) (*types.PoolData, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type fakeMiners struct {
	mu        sync.Mutex
	lookups   []string
	snapshots map[string]*types.MinerSnapshot
	block     chan struct{}
	board     *types.Leaderboard
}

func (f *fakeMiners) Lookup(ctx context.Context, address string) (*types.MinerSnapshot, error) {
	f.mu.Lock()
	f.lookups = append(f.lookups, address)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if snap, ok := f.snapshots[address]; ok {
		return snap, nil
	}
	return nil, &types.DataUnavailable{Resource: "miner", Kind: types.KindNotFound, Reason: "no data found", Err: types.ErrNotFound}
}

func (f *fakeMiners) Leaderboard(ctx context.Context, limit int) (*types.Leaderboard, error) {
	if f.board == nil {
		return &types.Leaderboard{}, nil
	}
	return f.board, nil
}

func (f *fakeMiners) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lookups...)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestScheduler(pool *fakePool, miners *fakeMiners, store storage.Storage, cfg Config) (*Scheduler, *viewstate.State) {
	view := viewstate.New()
	return New(pool, miners, view, store, nil, testLogger(), cfg), view
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func poolFixture() *types.PoolData {
	return &types.PoolData{
		Stats:  &types.PoolSnapshot{PoolHashrate: 2e9, ConnectedMiners: 5},
		Blocks: &types.BlockList{},
	}
}

func TestTick_PublishesPoolData(t *testing.T) {
	pool := &fakePool{data: poolFixture()}
	s, view := newTestScheduler(pool, &fakeMiners{}, nil, Config{})

	if !s.Tick(context.Background(), types.FeedPool) {
		t.Fatalf("expected tick to fetch")
	}
	v := view.Load()
	if v.Pool.Status != types.StatusUpdated || v.Pool.Data != pool.data {
		t.Fatalf("unexpected pool feed %+v", v.Pool)
	}
}

func TestTick_WhileFetchingIsNoop(t *testing.T) {
	pool := &fakePool{data: poolFixture(), release: make(chan struct{})}
	s, view := newTestScheduler(pool, &fakeMiners{}, nil, Config{})

	done := make(chan bool)
	go func() { done <- s.Tick(context.Background(), types.FeedPool) }()
	waitFor(t, "first fetch", func() bool { return pool.calls.Load() == 1 })

	if view.Load().Pool.Status != types.StatusFetching {
		t.Fatalf("expected FETCHING while in flight")
	}
	if s.Tick(context.Background(), types.FeedPool) {
		t.Fatalf("second tick should be a no-op")
	}
	if n := pool.calls.Load(); n != 1 {
		t.Fatalf("expected 1 request, got %d", n)
	}

	close(pool.release)
	if !<-done {
		t.Fatalf("first tick should report a fetch")
	}

	stats := s.GetStats()
	for _, f := range stats.Feeds {
		if f.Feed == types.FeedPool && (f.Ticks != 2 || f.SkippedTicks != 1 || f.Successes != 1) {
			t.Fatalf("unexpected pool stats %+v", f)
		}
	}
}

func TestTick_FailureKeepsSnapshot(t *testing.T) {
	pool := &fakePool{data: poolFixture()}
	s, view := newTestScheduler(pool, &fakeMiners{}, nil, Config{})
	s.Tick(context.Background(), types.FeedPool)

	pool.err = &types.DataUnavailable{Resource: "pool stats", Kind: types.KindTransport, Reason: "request timed out"}
	s.Tick(context.Background(), types.FeedPool)

	v := view.Load()
	if v.Pool.Status != types.StatusFailed || v.Pool.Data == nil {
		t.Fatalf("unexpected pool feed %+v", v.Pool)
	}
}

func TestTick_MinerFeedIsNotTimed(t *testing.T) {
	miners := &fakeMiners{}
	s, _ := newTestScheduler(&fakePool{}, miners, nil, Config{})
	if s.Tick(context.Background(), types.FeedMiner) {
		t.Fatalf("miner feed must not be ticked")
	}
	if len(miners.calls()) != 0 {
		t.Fatalf("unexpected lookups %v", miners.calls())
	}
}

func TestSubmitMiner_EmptyAddressNeverCallsSource(t *testing.T) {
	miners := &fakeMiners{}
	s, view := newTestScheduler(&fakePool{}, miners, nil, Config{})

	for _, addr := range []string{"", "   ", "\t"} {
		if err := s.SubmitMiner(context.Background(), addr); !errors.Is(err, ErrEmptyAddress) {
			t.Fatalf("SubmitMiner(%q) err=%v", addr, err)
		}
	}
	if len(miners.calls()) != 0 {
		t.Fatalf("source was called: %v", miners.calls())
	}
	if got := view.Load().Miner.Prompt; got != EmptyAddressPrompt {
		t.Fatalf("prompt=%q", got)
	}
}

func TestSubmitMiner_NotFoundClearsSnapshot(t *testing.T) {
	miners := &fakeMiners{snapshots: map[string]*types.MinerSnapshot{
		"9fa": {Address: "9fa", CurrentHashrate: 10},
	}}
	s, view := newTestScheduler(&fakePool{}, miners, nil, Config{})

	s.SubmitMiner(context.Background(), "9fa")
	waitFor(t, "first lookup", func() bool { return view.Load().Miner.Status == types.StatusUpdated })

	s.SubmitMiner(context.Background(), "9fmissing")
	waitFor(t, "not found", func() bool { return view.Load().Miner.Status == types.StatusFailed })

	v := view.Load()
	if v.Miner.Snapshot != nil || !v.Miner.NotFound {
		t.Fatalf("expected no snapshot after not found, got %+v", v.Miner)
	}
}

func TestSubmitMiner_SecondLookupReplacesFirst(t *testing.T) {
	first := &types.MinerSnapshot{
		Address:         "9fa",
		CurrentHashrate: 100,
		Workers:         []string{"rig1", "rig2"},
		LastPayment:     &types.Payment{Amount: 1},
	}
	second := &types.MinerSnapshot{Address: "9fb", CurrentHashrate: 5}
	miners := &fakeMiners{snapshots: map[string]*types.MinerSnapshot{"9fa": first, "9fb": second}}
	s, view := newTestScheduler(&fakePool{}, miners, nil, Config{})

	s.SubmitMiner(context.Background(), "9fa")
	waitFor(t, "first lookup", func() bool {
		snap := view.Load().Miner.Snapshot
		return snap != nil && snap.Address == "9fa"
	})
	s.SubmitMiner(context.Background(), "9fb")
	waitFor(t, "second lookup", func() bool {
		snap := view.Load().Miner.Snapshot
		return snap != nil && snap.Address == "9fb"
	})

	v := view.Load()
	if v.Miner.Snapshot != second {
		t.Fatalf("snapshot was merged instead of replaced: %+v", v.Miner.Snapshot)
	}
	if v.Miner.Snapshot.Workers != nil || v.Miner.Snapshot.LastPayment != nil {
		t.Fatalf("fields of the first lookup leaked: %+v", v.Miner.Snapshot)
	}
	if v.Miner.Requested != "9fb" || s.WatchedAddress() != "9fb" {
		t.Fatalf("requested=%q watched=%q", v.Miner.Requested, s.WatchedAddress())
	}
}

func TestSubmitMiner_PendingRunsAfterInFlight(t *testing.T) {
	block := make(chan struct{})
	miners := &fakeMiners{
		block: block,
		snapshots: map[string]*types.MinerSnapshot{
			"9fa": {Address: "9fa"},
			"9fc": {Address: "9fc"},
		},
	}
	s, view := newTestScheduler(&fakePool{}, miners, nil, Config{})

	s.SubmitMiner(context.Background(), "9fa")
	waitFor(t, "lookup in flight", func() bool { return len(miners.calls()) == 1 })

	// only the newest pending submission survives
	s.SubmitMiner(context.Background(), "9fb")
	s.SubmitMiner(context.Background(), "9fc")
	if n := len(miners.calls()); n != 1 {
		t.Fatalf("expected a single in-flight lookup, got %d", n)
	}

	close(block)
	waitFor(t, "pending lookup", func() bool {
		snap := view.Load().Miner.Snapshot
		return snap != nil && snap.Address == "9fc"
	})
	if got := miners.calls(); len(got) != 2 || got[1] != "9fc" {
		t.Fatalf("lookups=%v", got)
	}
}

func TestSubmitMiner_QueuedAddressIsPersisted(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStorage("sharkmon", time.Hour)
	block := make(chan struct{})
	defer close(block)
	miners := &fakeMiners{block: block}
	s, _ := newTestScheduler(&fakePool{}, miners, store, Config{})

	s.SubmitMiner(ctx, "9fa")
	waitFor(t, "lookup in flight", func() bool { return len(miners.calls()) == 1 })

	if err := s.SubmitMiner(ctx, "9fb"); err != nil {
		t.Fatalf("SubmitMiner err=%v", err)
	}
	if got, _ := store.GetWatchedAddress(ctx); got != "9fb" {
		t.Fatalf("persisted address=%q want 9fb", got)
	}
}

func TestSubmitMiner_AfterStop(t *testing.T) {
	miners := &fakeMiners{}
	s, _ := newTestScheduler(&fakePool{data: poolFixture()}, miners, nil, Config{
		PoolInterval:        time.Hour,
		LeaderboardInterval: time.Hour,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}

	if err := s.SubmitMiner(context.Background(), "9fa"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if got := miners.calls(); len(got) != 0 {
		t.Fatalf("lookup ran after Stop: %v", got)
	}
}

func TestSubmitMiner_ConcurrentWithStop(t *testing.T) {
	miners := &fakeMiners{snapshots: map[string]*types.MinerSnapshot{"9fa": {Address: "9fa"}}}
	s, _ := newTestScheduler(&fakePool{data: poolFixture()}, miners, nil, Config{
		PoolInterval:        time.Hour,
		LeaderboardInterval: time.Hour,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start err=%v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := s.SubmitMiner(context.Background(), "9fa"); err != nil && !errors.Is(err, ErrStopped) {
					t.Errorf("SubmitMiner err=%v", err)
				}
			}
		}()
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
	wg.Wait()
}

func TestRefreshMiner(t *testing.T) {
	miners := &fakeMiners{snapshots: map[string]*types.MinerSnapshot{"9fa": {Address: "9fa"}}}
	s, _ := newTestScheduler(&fakePool{}, miners, nil, Config{})

	if err := s.RefreshMiner(context.Background()); !errors.Is(err, ErrEmptyAddress) {
		t.Fatalf("expected ErrEmptyAddress without a watched address, got %v", err)
	}

	s.SubmitMiner(context.Background(), "9fa")
	waitFor(t, "first lookup", func() bool { return len(miners.calls()) == 1 })
	waitFor(t, "refresh", func() bool {
		s.RefreshMiner(context.Background())
		return len(miners.calls()) >= 2
	})
}

func TestStartStop(t *testing.T) {
	pool := &fakePool{data: poolFixture()}
	miners := &fakeMiners{
		board:     &types.Leaderboard{Miners: []types.MinerSummary{{Address: "9fa", Hashrate: 1}}},
		snapshots: map[string]*types.MinerSnapshot{"9fdefault": {Address: "9fdefault"}},
	}
	s, view := newTestScheduler(pool, miners, nil, Config{
		PoolInterval:        time.Hour,
		LeaderboardInterval: time.Hour,
		DefaultAddress:      "9fdefault",
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second Start should fail")
	}
	waitFor(t, "initial fetches", func() bool {
		v := view.Load()
		return v.Pool.Data != nil && v.Leaderboard.Data != nil && v.Miner.Snapshot != nil
	})

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop err=%v", err)
	}
	if s.IsRunning() {
		t.Fatalf("scheduler still running after Stop")
	}
}

func TestStart_RestoresCachedSnapshots(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStorage("sharkmon", time.Hour)
	store.SaveSnapshot(ctx, types.FeedPool, poolFixture())
	store.SetWatchedAddress(ctx, "9fcached")

	pool := &fakePool{release: make(chan struct{})}
	miners := &fakeMiners{block: make(chan struct{})}
	s, view := newTestScheduler(pool, miners, store, Config{PoolInterval: time.Hour, LeaderboardInterval: time.Hour})

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	defer s.Stop()

	v := view.Load()
	if v.Pool.Data == nil || !v.Pool.Restored || v.Pool.Data.Stats.PoolHashrate != 2e9 {
		t.Fatalf("cached pool snapshot not restored: %+v", v.Pool)
	}
	waitFor(t, "lookup of persisted address", func() bool {
		calls := miners.calls()
		return len(calls) == 1 && calls[0] == "9fcached"
	})
}

func TestFinish_SavesSuccessfulSnapshots(t *testing.T) {
	ctx := context.Background()
	store := storage.NewInMemoryStorage("sharkmon", time.Hour)
	pool := &fakePool{data: poolFixture()}
	s, _ := newTestScheduler(pool, &fakeMiners{}, store, Config{})

	s.Tick(ctx, types.FeedPool)

	var cached types.PoolData
	if _, err := store.LoadSnapshot(ctx, types.FeedPool, &cached); err != nil {
		t.Fatalf("LoadSnapshot err=%v", err)
	}
	if cached.Stats == nil || cached.Stats.ConnectedMiners != 5 {
		t.Fatalf("unexpected cached snapshot %+v", cached)
	}
}
