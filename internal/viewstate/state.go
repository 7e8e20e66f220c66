// Package viewstate holds the single shared view of all feeds. Writers
// build a new View and swap it in under a short lock; readers load the
// current pointer without locking and always see a consistent View.
package viewstate

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/igwedaniel/sharkmon/internal/types"
)

// FeedMeta is the refresh bookkeeping shared by every feed
type FeedMeta struct {
	Status    types.Status    `json:"status"`
	Seq       uint64          `json:"seq"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
	AttemptAt time.Time       `json:"attempt_at,omitempty"`
	Kind      types.ErrorKind `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Restored  bool            `json:"restored,omitempty"`
}

// Failed reports whether the last attempt failed
func (m FeedMeta) Failed() bool {
	return m.Status == types.StatusFailed
}

type PoolFeed struct {
	FeedMeta
	Data *types.PoolData `json:"data,omitempty"`
}

type LeaderboardFeed struct {
	FeedMeta
	Data *types.Leaderboard `json:"data,omitempty"`
}

// MinerFeed tracks the watched miner. Requested is the most recently
// submitted address; Snapshot keeps its own address, which differs from
// Requested while a lookup for a new address is running or has failed.
type MinerFeed struct {
	FeedMeta
	Requested string               `json:"requested,omitempty"`
	Snapshot  *types.MinerSnapshot `json:"snapshot,omitempty"`
	NotFound  bool                 `json:"not_found,omitempty"`
}

// View is an immutable picture of all feeds. A View returned by Load must
// not be modified.
type View struct {
	Version     uint64          `json:"version"`
	Pool        PoolFeed        `json:"pool"`
	Leaderboard LeaderboardFeed `json:"leaderboard"`
	Miner       MinerFeed       `json:"miner"`
}

// Meta returns the bookkeeping of feed
func (v *View) Meta(feed types.Feed) FeedMeta {
	switch feed {
	case types.FeedPool:
		return v.Pool.FeedMeta
	case types.FeedLeaderboard:
		return v.Leaderboard.FeedMeta
	case types.FeedMiner:
		return v.Miner.FeedMeta
	}
	return FeedMeta{}
}

// HasData reports whether feed currently holds a snapshot
func (v *View) HasData(feed types.Feed) bool {
	switch feed {
	case types.FeedPool:
		return v.Pool.Data != nil
	case types.FeedLeaderboard:
		return v.Leaderboard.Data != nil
	case types.FeedMiner:
		return v.Miner.Snapshot != nil
	}
	return false
}

// Stale reports whether the data shown for feed should carry a staleness
// warning: the last refresh failed, the data was restored from cache and
// not yet refreshed, or it is older than maxAge. The age rule only applies
// to the periodic feeds; the miner feed refreshes on demand. Feeds without
// data are never stale.
func (v *View) Stale(feed types.Feed, now time.Time, maxAge time.Duration) bool {
	if !v.HasData(feed) {
		return false
	}
	m := v.Meta(feed)
	if m.Failed() || m.Restored {
		return true
	}
	if feed == types.FeedMiner {
		return false
	}
	return maxAge > 0 && !m.UpdatedAt.IsZero() && now.Sub(m.UpdatedAt) > maxAge
}

// Outcome is the result of one fetch. Value must be *types.PoolData,
// *types.Leaderboard or *types.MinerSnapshot to match the feed.
type Outcome struct {
	Value   interface{}
	Err     error
	At      time.Time
	Address string
}

// Listener is called after a feed changed, outside of any lock
type Listener func(feed types.Feed)

type State struct {
	mu   sync.Mutex
	view atomic.Pointer[View]

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

func New() *State {
	s := &State{listeners: make(map[int]Listener)}
	idle := FeedMeta{Status: types.StatusIdle}
	s.view.Store(&View{
		Pool:        PoolFeed{FeedMeta: idle},
		Leaderboard: LeaderboardFeed{FeedMeta: idle},
		Miner:       MinerFeed{FeedMeta: idle},
	})
	return s
}

// Load returns the current View
func (s *State) Load() *View {
	return s.view.Load()
}

// Subscribe registers l and returns a function that removes it
func (s *State) Subscribe(l Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

// Publish applies a fetch outcome to feed. A success replaces the feed's
// snapshot wholesale. A failure keeps the last good snapshot and only
// records the error, except a miner NotFound which clears the snapshot.
func (s *State) Publish(feed types.Feed, out Outcome) error {
	if out.At.IsZero() {
		out.At = time.Now()
	}
	return s.update(feed, func(v *View) error {
		if out.Err != nil {
			return applyFailure(v, feed, out)
		}
		return applySuccess(v, feed, out)
	})
}

func applySuccess(v *View, feed types.Feed, out Outcome) error {
	meta := FeedMeta{Status: types.StatusUpdated, UpdatedAt: out.At, AttemptAt: out.At}
	switch feed {
	case types.FeedPool:
		data, ok := out.Value.(*types.PoolData)
		if !ok || data == nil {
			return fmt.Errorf("pool feed: unexpected value %T", out.Value)
		}
		meta.Seq = v.Pool.Seq + 1
		v.Pool = PoolFeed{FeedMeta: meta, Data: data}
	case types.FeedLeaderboard:
		data, ok := out.Value.(*types.Leaderboard)
		if !ok || data == nil {
			return fmt.Errorf("leaderboard feed: unexpected value %T", out.Value)
		}
		meta.Seq = v.Leaderboard.Seq + 1
		v.Leaderboard = LeaderboardFeed{FeedMeta: meta, Data: data}
	case types.FeedMiner:
		snap, ok := out.Value.(*types.MinerSnapshot)
		if !ok || snap == nil {
			return fmt.Errorf("miner feed: unexpected value %T", out.Value)
		}
		meta.Seq = v.Miner.Seq + 1
		requested := out.Address
		if requested == "" {
			requested = snap.Address
		}
		v.Miner = MinerFeed{FeedMeta: meta, Requested: requested, Snapshot: snap}
	default:
		return fmt.Errorf("unknown feed %q", feed)
	}
	return nil
}

func failedMeta(prev FeedMeta, out Outcome) FeedMeta {
	return FeedMeta{
		Status:    types.StatusFailed,
		Seq:       prev.Seq + 1,
		UpdatedAt: prev.UpdatedAt,
		AttemptAt: out.At,
		Kind:      types.KindOf(out.Err),
		Message:   out.Err.Error(),
		Restored:  prev.Restored,
	}
}

func applyFailure(v *View, feed types.Feed, out Outcome) error {
	switch feed {
	case types.FeedPool:
		v.Pool.FeedMeta = failedMeta(v.Pool.FeedMeta, out)
	case types.FeedLeaderboard:
		v.Leaderboard.FeedMeta = failedMeta(v.Leaderboard.FeedMeta, out)
	case types.FeedMiner:
		v.Miner.FeedMeta = failedMeta(v.Miner.FeedMeta, out)
		if out.Address != "" {
			v.Miner.Requested = out.Address
		}
		if types.IsNotFound(out.Err) {
			v.Miner.Snapshot = nil
			v.Miner.NotFound = true
			v.Miner.UpdatedAt = out.At
			v.Miner.Restored = false
		}
	default:
		return fmt.Errorf("unknown feed %q", feed)
	}
	return nil
}

// MarkFetching moves feed to FETCHING. For the miner feed, address is the
// address being looked up; it is ignored for other feeds.
func (s *State) MarkFetching(feed types.Feed, address string) error {
	now := time.Now()
	return s.update(feed, func(v *View) error {
		switch feed {
		case types.FeedPool:
			v.Pool.FeedMeta = fetchingMeta(v.Pool.FeedMeta, now)
		case types.FeedLeaderboard:
			v.Leaderboard.FeedMeta = fetchingMeta(v.Leaderboard.FeedMeta, now)
		case types.FeedMiner:
			v.Miner.FeedMeta = fetchingMeta(v.Miner.FeedMeta, now)
			v.Miner.Requested = address
			v.Miner.NotFound = false
		default:
			return fmt.Errorf("unknown feed %q", feed)
		}
		return nil
	})
}

func fetchingMeta(m FeedMeta, now time.Time) FeedMeta {
	m.Status = types.StatusFetching
	m.Seq++
	m.AttemptAt = now
	m.Prompt = ""
	return m
}

// Prompt attaches a user-facing message to feed without touching its data
func (s *State) Prompt(feed types.Feed, msg string) error {
	return s.update(feed, func(v *View) error {
		var m *FeedMeta
		switch feed {
		case types.FeedPool:
			m = &v.Pool.FeedMeta
		case types.FeedLeaderboard:
			m = &v.Leaderboard.FeedMeta
		case types.FeedMiner:
			m = &v.Miner.FeedMeta
		default:
			return fmt.Errorf("unknown feed %q", feed)
		}
		m.Prompt = msg
		m.Seq++
		return nil
	})
}

// Restore seeds feed with a cached snapshot saved at savedAt. It is a
// no-op when the feed already holds data.
func (s *State) Restore(feed types.Feed, value interface{}, savedAt time.Time) error {
	return s.update(feed, func(v *View) error {
		if v.HasData(feed) {
			return nil
		}
		meta := FeedMeta{Status: types.StatusIdle, Seq: v.Meta(feed).Seq + 1, UpdatedAt: savedAt, Restored: true}
		switch feed {
		case types.FeedPool:
			data, ok := value.(*types.PoolData)
			if !ok || data == nil {
				return fmt.Errorf("pool feed: unexpected value %T", value)
			}
			v.Pool = PoolFeed{FeedMeta: meta, Data: data}
		case types.FeedLeaderboard:
			data, ok := value.(*types.Leaderboard)
			if !ok || data == nil {
				return fmt.Errorf("leaderboard feed: unexpected value %T", value)
			}
			v.Leaderboard = LeaderboardFeed{FeedMeta: meta, Data: data}
		case types.FeedMiner:
			snap, ok := value.(*types.MinerSnapshot)
			if !ok || snap == nil {
				return fmt.Errorf("miner feed: unexpected value %T", value)
			}
			v.Miner = MinerFeed{FeedMeta: meta, Requested: snap.Address, Snapshot: snap}
		default:
			return fmt.Errorf("unknown feed %q", feed)
		}
		return nil
	})
}

// update copies the current View, lets fn modify the copy and swaps it in.
// Listeners run after the swap with no lock held.
func (s *State) update(feed types.Feed, fn func(v *View) error) error {
	s.mu.Lock()
	cur := s.view.Load()
	next := *cur
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return err
	}
	next.Version = cur.Version + 1
	s.view.Store(&next)
	s.mu.Unlock()

	s.notify(feed)
	return nil
}

func (s *State) notify(feed types.Feed) {
	s.lmu.RLock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.RUnlock()

	for _, l := range ls {
		l(feed)
	}
}
