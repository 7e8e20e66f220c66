// Package scheduler drives the dashboard feeds. Pool and leaderboard feeds
// are polled on fixed intervals; the miner feed runs when an address is
// submitted. Each feed has at most one fetch in flight and publishes its
// outcome into the shared view state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/igwedaniel/sharkmon/internal/datasource"
	"github.com/igwedaniel/sharkmon/internal/messaging"
	"github.com/igwedaniel/sharkmon/internal/storage"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/igwedaniel/sharkmon/internal/viewstate"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// EmptyAddressPrompt is shown when a lookup is submitted without an address
const EmptyAddressPrompt = "Please enter a miner address."

// ErrEmptyAddress is returned by SubmitMiner for a blank address
var ErrEmptyAddress = errors.New("miner address is empty")

// ErrStopped is returned by SubmitMiner once the scheduler has been stopped
var ErrStopped = errors.New("scheduler is stopped")

// Config contains the scheduler intervals and limits
type Config struct {
	PoolInterval        time.Duration `json:"pool_interval"`
	LeaderboardInterval time.Duration `json:"leaderboard_interval"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	FetchTimeout        time.Duration `json:"fetch_timeout"`
	LeaderboardSize     int           `json:"leaderboard_size"`
	DefaultAddress      string        `json:"default_address"`
}

type feedState struct {
	sem *semaphore.Weighted

	ticks        atomic.Uint64
	skippedTicks atomic.Uint64
	successes    atomic.Uint64
	failures     atomic.Uint64
	lastDuration atomic.Int64
}

type Scheduler struct {
	pool      datasource.PoolDataSource
	miners    datasource.MinerDataSource
	view      *viewstate.State
	storage   storage.Storage
	publisher messaging.Publisher
	logger    *logrus.Logger
	config    Config

	feeds map[types.Feed]*feedState

	isRunning bool
	stopped   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time

	minerMu sync.Mutex
	watched string
	pending string
}

// New creates a scheduler. storage and publisher may be nil.
func New(
	pool datasource.PoolDataSource,
	miners datasource.MinerDataSource,
	view *viewstate.State,
	store storage.Storage,
	publisher messaging.Publisher,
	logger *logrus.Logger,
	config Config,
) *Scheduler {
	if config.PoolInterval <= 0 {
		config.PoolInterval = 10 * time.Second
	}
	if config.LeaderboardInterval <= 0 {
		config.LeaderboardInterval = config.PoolInterval
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = time.Minute
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	if config.LeaderboardSize <= 0 {
		config.LeaderboardSize = 10
	}
	if publisher == nil {
		publisher = &messaging.NoOpPublisher{}
	}

	feeds := make(map[types.Feed]*feedState, len(types.AllFeeds))
	for _, f := range types.AllFeeds {
		feeds[f] = &feedState{sem: semaphore.NewWeighted(1)}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pool:      pool,
		miners:    miners,
		view:      view,
		storage:   store,
		publisher: publisher,
		logger:    logger,
		config:    config,
		feeds:     feeds,
		runCtx:    runCtx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		startTime: time.Now(),
	}
}

// Start restores cached snapshots and begins polling
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.isRunning = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("Starting refresh scheduler...")

	s.restoreFromCache(runCtx)

	s.wg.Add(1)
	go s.pollLoop(runCtx, types.FeedPool, s.config.PoolInterval)

	s.wg.Add(1)
	go s.pollLoop(runCtx, types.FeedLeaderboard, s.config.LeaderboardInterval)

	s.wg.Add(1)
	go s.healthMonitorLoop(runCtx)

	if address := s.initialAddress(runCtx); address != "" {
		if err := s.SubmitMiner(runCtx, address); err != nil {
			s.logger.Warnf("Initial miner lookup not submitted: %v", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"pool_interval":        s.config.PoolInterval,
		"leaderboard_interval": s.config.LeaderboardInterval,
		"fetch_timeout":        s.config.FetchTimeout,
	}).Info("Refresh scheduler started successfully")
	return nil
}

// Stop cancels in-flight fetches and waits for all loops to exit
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("Stopping refresh scheduler...")

	s.cancel()
	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info("Refresh scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// WatchedAddress returns the most recently submitted miner address
func (s *Scheduler) WatchedAddress() string {
	s.minerMu.Lock()
	defer s.minerMu.Unlock()
	return s.watched
}

func (s *Scheduler) GetStats() types.SchedulerStats {
	stats := types.SchedulerStats{
		IsRunning:      s.IsRunning(),
		WatchedAddress: s.WatchedAddress(),
	}
	s.mu.RLock()
	stats.Uptime = time.Since(s.startTime).Round(time.Second).String()
	s.mu.RUnlock()

	view := s.view.Load()
	for _, f := range types.AllFeeds {
		fs := s.feeds[f]
		stats.Feeds = append(stats.Feeds, types.FeedStats{
			Feed:         f,
			Status:       view.Meta(f).Status,
			Ticks:        fs.ticks.Load(),
			SkippedTicks: fs.skippedTicks.Load(),
			Successes:    fs.successes.Load(),
			Failures:     fs.failures.Load(),
			LastDuration: time.Duration(fs.lastDuration.Load()).String(),
		})
	}
	return stats
}

func (s *Scheduler) pollLoop(ctx context.Context, feed types.Feed, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.dispatch(ctx, feed)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatch(ctx, feed)
		}
	}
}

// dispatch runs Tick off the loop goroutine; overlapping ticks are counted
// as skipped by Tick
func (s *Scheduler) dispatch(ctx context.Context, feed types.Feed) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Tick(ctx, feed)
	}()
}

// Tick runs one refresh of a timed feed. It returns false without issuing
// a request when the feed already has a fetch in flight.
func (s *Scheduler) Tick(ctx context.Context, feed types.Feed) bool {
	fs, ok := s.feeds[feed]
	if !ok || feed == types.FeedMiner {
		return false
	}
	fs.ticks.Add(1)
	if !fs.sem.TryAcquire(1) {
		fs.skippedTicks.Add(1)
		s.logger.WithField("feed", feed).Debug("Tick skipped, fetch still in flight")
		return false
	}
	defer fs.sem.Release(1)

	if err := s.view.MarkFetching(feed, ""); err != nil {
		s.logger.Errorf("Failed to mark %s feed fetching: %v", feed, err)
	}

	fctx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	var (
		value interface{}
		err   error
	)
	switch feed {
	case types.FeedPool:
		var data *types.PoolData
		data, err = s.pool.PoolData(fctx)
		value = data
	case types.FeedLeaderboard:
		var board *types.Leaderboard
		board, err = s.miners.Leaderboard(fctx, s.config.LeaderboardSize)
		value = board
	}

	s.finish(feed, value, err, "", start)
	return true
}

// SubmitMiner starts a lookup for address. A blank address is rejected
// without touching the network. While a lookup is running the newest
// submission is kept and runs once the current one finishes. Submissions
// after Stop return ErrStopped.
func (s *Scheduler) SubmitMiner(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		if err := s.view.Prompt(types.FeedMiner, EmptyAddressPrompt); err != nil {
			s.logger.Errorf("Failed to prompt for miner address: %v", err)
		}
		return ErrEmptyAddress
	}
	if s.isStopped() {
		return ErrStopped
	}

	if s.storage != nil {
		if err := s.storage.SetWatchedAddress(ctx, address); err != nil {
			s.logger.Warnf("Failed to persist watched miner address: %v", err)
		}
	}

	fs := s.feeds[types.FeedMiner]
	fs.ticks.Add(1)

	s.minerMu.Lock()
	s.watched = address
	if !fs.sem.TryAcquire(1) {
		s.pending = address
		s.minerMu.Unlock()
		fs.skippedTicks.Add(1)
		s.logger.WithField("address", address).Debug("Miner lookup queued behind in-flight lookup")
		return nil
	}
	s.minerMu.Unlock()

	// Stop flips stopped under s.mu before it waits on s.wg
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		fs.sem.Release(1)
		return ErrStopped
	}
	s.wg.Add(1)
	runCtx := s.runCtx
	s.mu.RUnlock()

	go s.runMiner(runCtx, address)
	return nil
}

func (s *Scheduler) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// RefreshMiner re-runs the lookup for the watched address
func (s *Scheduler) RefreshMiner(ctx context.Context) error {
	return s.SubmitMiner(ctx, s.WatchedAddress())
}

// runMiner owns the miner semaphore until no submission is pending
func (s *Scheduler) runMiner(ctx context.Context, address string) {
	defer s.wg.Done()
	fs := s.feeds[types.FeedMiner]

	for {
		s.lookupMiner(ctx, address)

		s.minerMu.Lock()
		next := s.pending
		s.pending = ""
		if next == "" || ctx.Err() != nil {
			fs.sem.Release(1)
			s.minerMu.Unlock()
			return
		}
		s.minerMu.Unlock()
		address = next
	}
}

func (s *Scheduler) lookupMiner(ctx context.Context, address string) {
	if err := s.view.MarkFetching(types.FeedMiner, address); err != nil {
		s.logger.Errorf("Failed to mark miner feed fetching: %v", err)
	}

	fctx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.miners.Lookup(fctx, address)
	s.finish(types.FeedMiner, snap, err, address, start)
}

// finish publishes one outcome, updates counters and fans out to the
// cache and event publisher
func (s *Scheduler) finish(feed types.Feed, value interface{}, err error, address string, start time.Time) {
	fs := s.feeds[feed]
	duration := time.Since(start)
	fs.lastDuration.Store(int64(duration))

	outcome := viewstate.Outcome{Err: err, At: time.Now(), Address: address}
	if err == nil {
		outcome.Value = value
	}
	if perr := s.view.Publish(feed, outcome); perr != nil {
		s.logger.Errorf("Failed to publish %s outcome: %v", feed, perr)
		err = perr
	}

	fields := logrus.Fields{
		"feed":     feed,
		"duration": duration,
	}
	if address != "" {
		fields["address"] = address
	}

	event := &types.FeedEvent{
		Feed:      feed,
		Duration:  duration.String(),
		UpdatedAt: outcome.At,
	}
	if err != nil {
		fs.failures.Add(1)
		event.Status = types.StatusFailed
		event.Error = err.Error()
		fields["error"] = err.Error()
		fields["kind"] = types.KindOf(err)
		if types.IsNotFound(err) {
			s.logger.WithFields(fields).Info("No data found for miner address")
		} else {
			s.logger.WithFields(fields).Warn("Feed refresh failed")
		}
	} else {
		fs.successes.Add(1)
		event.Status = types.StatusUpdated
		event.Snapshot = value
		s.logger.WithFields(fields).Debug("Feed refreshed")
		s.saveSnapshot(feed, value)
	}

	pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if perr := s.publisher.PublishFeedEvent(pctx, event); perr != nil {
		s.logger.Warnf("Failed to publish %s feed event: %v", feed, perr)
	}
}

func (s *Scheduler) saveSnapshot(feed types.Feed, value interface{}) {
	if s.storage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.storage.SaveSnapshot(ctx, feed, value); err != nil {
		s.logger.Warnf("Failed to cache %s snapshot: %v", feed, err)
	}
}

// restoreFromCache seeds the view with the last saved pool and
// leaderboard snapshots so the dashboard has data before the first poll
func (s *Scheduler) restoreFromCache(ctx context.Context) {
	if s.storage == nil {
		return
	}

	restore := func(feed types.Feed, dest interface{}) {
		savedAt, err := s.storage.LoadSnapshot(ctx, feed, dest)
		if errors.Is(err, storage.ErrCacheMiss) {
			return
		}
		if err != nil {
			s.logger.Warnf("Failed to load cached %s snapshot: %v", feed, err)
			return
		}
		if err := s.view.Restore(feed, dest, savedAt); err != nil {
			s.logger.Warnf("Failed to restore cached %s snapshot: %v", feed, err)
			return
		}
		s.logger.WithFields(logrus.Fields{
			"feed":     feed,
			"saved_at": savedAt,
		}).Info("Restored cached snapshot")
	}

	restore(types.FeedPool, &types.PoolData{})
	restore(types.FeedLeaderboard, &types.Leaderboard{})
}

func (s *Scheduler) initialAddress(ctx context.Context) string {
	if address := strings.TrimSpace(s.config.DefaultAddress); address != "" {
		return address
	}
	if s.storage == nil {
		return ""
	}
	address, err := s.storage.GetWatchedAddress(ctx)
	if err != nil {
		s.logger.Warnf("Failed to load watched miner address: %v", err)
		return ""
	}
	return address
}

func (s *Scheduler) healthMonitorLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reportHealth()
		}
	}
}

// reportHealth logs per-feed counters
func (s *Scheduler) reportHealth() {
	stats := s.GetStats()
	for _, f := range stats.Feeds {
		s.logger.WithFields(logrus.Fields{
			"feed":          f.Feed,
			"status":        f.Status,
			"uptime":        stats.Uptime,
			"ticks":         f.Ticks,
			"skipped_ticks": f.SkippedTicks,
			"successes":     f.Successes,
			"failures":      f.Failures,
			"last_duration": f.LastDuration,
		}).Info("Feed health report")
	}
}
