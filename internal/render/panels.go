package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/igwedaniel/sharkmon/internal/viewstate"
)

// NoMinerData is shown in the miner panel after a lookup found nothing
const NoMinerData = "No data found for this miner address"

// Options carries the static pool details and display settings
type Options struct {
	PoolName         string
	StratumHost      string
	StratumPort      int
	PoolFeePercent   float64
	PaymentThreshold string
	MaxStaleness     time.Duration
	LeaderboardSize  int
	Animation        bool
}

func line(label, value string) string {
	return label + ": " + value
}

// PoolStatsLines builds the Pool Stats panel
func PoolStatsLines(feed viewstate.PoolFeed, opts Options) []string {
	name := line("Pool", opts.PoolName)
	if feed.Data == nil || feed.Data.Stats == nil {
		return []string{line("Pool Hashrate", "No data"), line("Miners", "No data"), name}
	}
	s := feed.Data.Stats
	return []string{
		line("Pool Hashrate", FormatHashrate(s.PoolHashrate)),
		line("Miners", strconv.Itoa(s.ConnectedMiners)),
		name,
	}
}

// BlockchainLines builds the Blockchain panel
func BlockchainLines(feed viewstate.PoolFeed) []string {
	if feed.Data == nil || feed.Data.Stats == nil {
		return []string{
			line("Network Hashrate", "No data"),
			line("Network Difficulty", "No data"),
			line("Block Height", "No data"),
		}
	}
	s := feed.Data.Stats
	return []string{
		line("Network Hashrate", FormatHashrate(s.NetworkHashrate)),
		line("Network Difficulty", FormatDifficulty(s.NetworkDifficulty)),
		line("Block Height", strconv.FormatInt(s.BlockHeight, 10)),
	}
}

// ConnectionsLines builds the Connections panel from static settings
func ConnectionsLines(opts Options) []string {
	return []string{
		line("Pool URL", opts.StratumHost),
		line("Pool Port", strconv.Itoa(opts.StratumPort)),
	}
}

// LatestBlockLines builds the Latest Block panel from the network tip
func LatestBlockLines(feed viewstate.PoolFeed, now time.Time) []string {
	if feed.Data == nil || feed.Data.Stats == nil {
		return []string{line("Height", "No data"), line("Difficulty", "No data"), line("Last Found", "Never")}
	}
	s := feed.Data.Stats
	return []string{
		line("Height", strconv.FormatInt(s.BlockHeight, 10)),
		line("Difficulty", FormatDifficulty(s.NetworkDifficulty)),
		line("Last Found", FormatRelative(s.LastNetworkBlockTime, now)),
	}
}

// PerformanceLines builds the Pool Performance panel
func PerformanceLines(feed viewstate.PoolFeed, opts Options, now time.Time) []string {
	found, recent := "No data", "No data"
	if feed.Data != nil && feed.Data.Blocks != nil {
		found = strconv.Itoa(feed.Data.Blocks.Count())
		recent = strconv.Itoa(feed.Data.Blocks.CountSince(now.Add(-24 * time.Hour)))
	}
	return []string{
		line("Blocks Found", found),
		line("Blocks (24h)", recent),
		line("Pool Fee", strconv.FormatFloat(opts.PoolFeePercent, 'f', -1, 64)+"%"),
		line("Payment Threshold", opts.PaymentThreshold),
	}
}

// LeaderboardLines builds the Top Miners panel, showing at most limit rows
// when limit > 0
func LeaderboardLines(feed viewstate.LeaderboardFeed, limit int) []string {
	if feed.Data == nil {
		return []string{"No data"}
	}
	miners := feed.Data.Miners
	if len(miners) == 0 {
		return []string{"No active miners"}
	}
	if limit > 0 && len(miners) > limit {
		miners = miners[:limit]
	}
	lines := make([]string, 0, len(miners))
	for i, m := range miners {
		lines = append(lines, fmt.Sprintf("%2d. %s  %s", i+1, Abbreviate(m.Address, 6), FormatHashrate(m.Hashrate)))
	}
	return lines
}

// MinerLines builds the Your Miner panel
func MinerLines(feed viewstate.MinerFeed, now time.Time, sparkWidth int) []string {
	snap := feed.Snapshot
	if snap == nil {
		if feed.NotFound {
			return []string{NoMinerData}
		}
		return []string{
			line("Your Hashrate", "No data"),
			line("Active Workers", "No data"),
			line("Last Updated", "Never"),
		}
	}

	lines := []string{
		line("Address", Abbreviate(snap.Address, 8)),
		line("Your Hashrate", FormatHashrate(snap.CurrentHashrate)),
		line("Shares/s", strconv.FormatFloat(snap.SharesPerSecond, 'f', 2, 64)),
		line("Active Workers", strconv.Itoa(snap.WorkerCount)),
	}
	if snap.Shape == types.ShapeAggregate {
		lines = append(lines, line("Balance", FormatAmount(snap.Balance)))
	}
	if b := snap.LastBlockFound; b != nil {
		lines = append(lines, line("Last Block", fmt.Sprintf("%d (%s)", b.Height, FormatRelative(b.Timestamp, now))))
	}
	if p := snap.LastPayment; p != nil {
		lines = append(lines, line("Last Payment", fmt.Sprintf("%s (%s)", FormatAmount(p.Amount), FormatRelative(p.Date, now))))
	}
	updated := snap.ObservedAt
	if updated.IsZero() {
		updated = feed.UpdatedAt
	}
	lines = append(lines, line("Last Updated", FormatTimestamp(updated)))
	for _, w := range snap.Workers {
		lines = append(lines, line("Worker", w))
	}
	if spark := Sparkline(snap.Samples, sparkWidth); spark != "" {
		lines = append(lines, spark)
	}
	return lines
}

// StaleLine returns the warning shown under a panel whose data is stale or
// whose last refresh failed, or "" when none is due
func StaleLine(v *viewstate.View, feed types.Feed, now time.Time, maxAge time.Duration) string {
	m := v.Meta(feed)
	if feed == types.FeedMiner && v.Miner.NotFound {
		return ""
	}
	if !v.Stale(feed, now, maxAge) {
		if m.Failed() {
			return "⚠ " + m.Message
		}
		return ""
	}

	msg := "data is stale"
	if m.Failed() {
		msg = m.Message
	} else if m.Restored {
		msg = "showing cached data"
	}
	if m.UpdatedAt.IsZero() {
		return "⚠ " + msg
	}
	return fmt.Sprintf("⚠ %s (last update %s ago)", msg, FormatAge(now.Sub(m.UpdatedAt)))
}

// MinerStatusLine describes the miner lookup under the input box
func MinerStatusLine(feed viewstate.MinerFeed) string {
	if feed.Prompt != "" {
		return feed.Prompt
	}
	switch feed.Status {
	case types.StatusFetching:
		return "Fetching stats for miner: " + feed.Requested
	case types.StatusUpdated:
		return "Stats updated for miner: " + feed.Requested
	case types.StatusFailed:
		if feed.NotFound {
			return NoMinerData + "."
		}
		return "Error fetching miner stats: " + feed.Message
	}
	if feed.Restored && feed.Snapshot != nil {
		return "Showing cached stats for miner: " + feed.Snapshot.Address
	}
	return ""
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
