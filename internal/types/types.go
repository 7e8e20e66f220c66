package types

import (
	"time"
)

// Feed identifies one independently scheduled data-refresh stream
type Feed string

const (
	FeedPool        Feed = "pool"
	FeedLeaderboard Feed = "leaderboard"
	FeedMiner       Feed = "miner"
)

// AllFeeds lists feeds in display order
var AllFeeds = []Feed{FeedPool, FeedLeaderboard, FeedMiner}

// Status is the per-feed refresh state
type Status string

const (
	StatusIdle     Status = "IDLE"
	StatusFetching Status = "FETCHING"
	StatusUpdated  Status = "UPDATED"
	StatusFailed   Status = "FAILED"
)

// PoolSnapshot is the most recent pool statistics sample
type PoolSnapshot struct {
	PoolHashrate         float64   `json:"pool_hashrate"`
	ConnectedMiners      int       `json:"connected_miners"`
	NetworkHashrate      float64   `json:"network_hashrate"`
	NetworkDifficulty    float64   `json:"network_difficulty"`
	BlockHeight          int64     `json:"block_height"`
	LastNetworkBlockTime time.Time `json:"last_network_block_time"`
	SampledAt            time.Time `json:"sampled_at"`
}

// Block represents a block found by the pool
type Block struct {
	Height     int64     `json:"height"`
	Difficulty float64   `json:"difficulty"`
	Created    time.Time `json:"created"`
	Miner      string    `json:"miner,omitempty"`
	Status     string    `json:"status,omitempty"`
	Reward     float64   `json:"reward,omitempty"`
}

// BlockList is an ordered list of found blocks
type BlockList struct {
	Blocks []Block `json:"blocks"`
}

func (bl *BlockList) Count() int {
	if bl == nil {
		return 0
	}
	return len(bl.Blocks)
}

// CountSince counts blocks created at or after t. Blocks without a
// timestamp are not counted.
func (bl *BlockList) CountSince(t time.Time) int {
	if bl == nil {
		return 0
	}
	n := 0
	for _, b := range bl.Blocks {
		if !b.Created.IsZero() && !b.Created.Before(t) {
			n++
		}
	}
	return n
}

// Latest returns the most recently created block, or nil
func (bl *BlockList) Latest() *Block {
	if bl == nil || len(bl.Blocks) == 0 {
		return nil
	}
	latest := bl.Blocks[0]
	for _, b := range bl.Blocks[1:] {
		if b.Created.After(latest.Created) || (b.Created.Equal(latest.Created) && b.Height > latest.Height) {
			latest = b
		}
	}
	return &latest
}

// PoolData is the pool feed's unit of publication. Stats and Blocks are
// always replaced together.
type PoolData struct {
	Stats  *PoolSnapshot `json:"stats"`
	Blocks *BlockList    `json:"blocks"`
}

// MinerShape records which upstream schema produced a MinerSnapshot
type MinerShape string

const (
	ShapeAggregate     MinerShape = "aggregate"
	ShapeWorkerRecords MinerShape = "worker_records"
)

// BlockFound is the last block credited to a miner
type BlockFound struct {
	Timestamp time.Time `json:"timestamp"`
	Height    int64     `json:"height"`
}

// Payment is the last payout to a miner
type Payment struct {
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date"`
}

// HashrateSample is one point of a miner's hashrate history
type HashrateSample struct {
	Created  time.Time `json:"created"`
	Hashrate float64   `json:"hashrate"`
}

// MinerSnapshot holds the stats of the watched miner address
type MinerSnapshot struct {
	Address         string           `json:"address"`
	CurrentHashrate float64          `json:"current_hashrate"`
	SharesPerSecond float64          `json:"shares_per_second"`
	WorkerCount     int              `json:"worker_count"`
	Workers         []string         `json:"workers,omitempty"`
	Balance         float64          `json:"balance"`
	LastBlockFound  *BlockFound      `json:"last_block_found,omitempty"`
	LastPayment     *Payment         `json:"last_payment,omitempty"`
	Samples         []HashrateSample `json:"samples,omitempty"`
	ObservedAt      time.Time        `json:"observed_at"`
	Shape           MinerShape       `json:"shape"`
}

// MinerSummary is one row of the miners leaderboard
type MinerSummary struct {
	Address         string  `json:"address"`
	Hashrate        float64 `json:"hashrate"`
	SharesPerSecond float64 `json:"shares_per_second"`
	Workers         int     `json:"workers"`
}

// Leaderboard is the leaderboard feed's unit of publication
type Leaderboard struct {
	Miners []MinerSummary `json:"miners"`
}

// Event represents a message to be published
type Event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
}

// FeedEvent is the payload of feed events
type FeedEvent struct {
	Feed      Feed        `json:"feed"`
	Status    Status      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Duration  string      `json:"duration"`
	Snapshot  interface{} `json:"snapshot,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// EventType constants
const (
	EventTypeFeedUpdated = "feed.updated"
	EventTypeFeedFailed  = "feed.failed"
)
