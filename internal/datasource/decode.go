package datasource

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/igwedaniel/sharkmon/internal/types"
)

// Response shapes. Every field is optional upstream; missing keys decode
// to zero values and are defaulted by the mapping functions below.

type poolStatsSample struct {
	PoolHashrate         float64 `json:"poolhashrate"`
	ConnectedMiners      float64 `json:"connectedminers"`
	NetworkHashrate      float64 `json:"networkhashrate"`
	NetworkDifficulty    float64 `json:"networkdifficulty"`
	BlockHeight          float64 `json:"blockheight"`
	LastNetworkBlockTime string  `json:"lastnetworkblocktime"`
	Created              string  `json:"created"`
}

type blockRecord struct {
	BlockHeight       float64 `json:"blockheight"`
	NetworkDifficulty float64 `json:"networkdifficulty"`
	Created           string  `json:"created"`
	Miner             string  `json:"miner"`
	Status            string  `json:"status"`
	Reward            float64 `json:"reward"`
}

// WorkerRecord is one row of the per-worker miner stats schema
type WorkerRecord struct {
	Miner           string  `json:"miner"`
	Worker          string  `json:"worker"`
	Hashrate        float64 `json:"hashrate"`
	SharesPerSecond float64 `json:"sharespersecond"`
	Created         string  `json:"created"`
}

type minerAggregate struct {
	Address         string  `json:"address"`
	Miner           string  `json:"miner"`
	CurrentHashrate float64 `json:"current_hashrate"`
	Hashrate        float64 `json:"hashrate"`
	SharesPerSecond float64 `json:"shares_per_second"`
	ActiveWorkers   float64 `json:"active_workers"`
	WorkerCount     float64 `json:"worker_count"`
	Balance         float64 `json:"balance"`
	LastBlockFound  *struct {
		Timestamp   string  `json:"timestamp"`
		BlockHeight float64 `json:"block_height"`
		Height      float64 `json:"height"`
	} `json:"last_block_found"`
	LastPayment *struct {
		Amount float64 `json:"amount"`
		Date   string  `json:"date"`
	} `json:"last_payment"`
	Created string `json:"created"`
}

type minerRow struct {
	Address         string  `json:"address"`
	Miner           string  `json:"miner"`
	Hashrate        float64 `json:"hashrate"`
	SharesPerSecond float64 `json:"shares_per_second"`
	SharesPerSec    float64 `json:"sharespersecond"`
	Workers         float64 `json:"workers"`
	WorkerCount     float64 `json:"worker_count"`
}

type sampleRecord struct {
	Created   string  `json:"created"`
	Timestamp string  `json:"timestamp"`
	Hashrate  float64 `json:"hashrate"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTime accepts the timestamp spellings seen across the pool APIs.
// Unparseable or empty input yields the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs > 1e12 {
			return time.UnixMilli(secs).UTC()
		}
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

func toInt(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(math.Round(f))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

// jsonKind reports the top-level JSON value type of body: '{', '[' or 0
func jsonKind(body []byte) byte {
	b := bytes.TrimSpace(body)
	if len(b) == 0 {
		return 0
	}
	switch b[0] {
	case '{', '[':
		return b[0]
	}
	return 0
}

var errNullBody = errors.New("null body")

func decode(body []byte, dest interface{}) error {
	if bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		return errNullBody
	}
	if err := sonic.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("unexpected response shape: %w", err)
	}
	return nil
}

func (s poolStatsSample) toSnapshot() *types.PoolSnapshot {
	return &types.PoolSnapshot{
		PoolHashrate:         s.PoolHashrate,
		ConnectedMiners:      toInt(s.ConnectedMiners),
		NetworkHashrate:      s.NetworkHashrate,
		NetworkDifficulty:    s.NetworkDifficulty,
		BlockHeight:          int64(toInt(s.BlockHeight)),
		LastNetworkBlockTime: parseTime(s.LastNetworkBlockTime),
		SampledAt:            parseTime(s.Created),
	}
}

func toBlockList(records []blockRecord) *types.BlockList {
	blocks := make([]types.Block, 0, len(records))
	for _, r := range records {
		blocks = append(blocks, types.Block{
			Height:     int64(toInt(r.BlockHeight)),
			Difficulty: r.NetworkDifficulty,
			Created:    parseTime(r.Created),
			Miner:      r.Miner,
			Status:     r.Status,
			Reward:     r.Reward,
		})
	}
	return &types.BlockList{Blocks: blocks}
}

func (a minerAggregate) toSnapshot(address string) *types.MinerSnapshot {
	snap := &types.MinerSnapshot{
		Address:         firstNonEmpty(a.Address, a.Miner, address),
		CurrentHashrate: firstNonZero(a.CurrentHashrate, a.Hashrate),
		SharesPerSecond: a.SharesPerSecond,
		WorkerCount:     toInt(firstNonZero(a.ActiveWorkers, a.WorkerCount)),
		Balance:         a.Balance,
		ObservedAt:      parseTime(a.Created),
		Shape:           types.ShapeAggregate,
	}
	if a.LastBlockFound != nil {
		snap.LastBlockFound = &types.BlockFound{
			Timestamp: parseTime(a.LastBlockFound.Timestamp),
			Height:    int64(toInt(firstNonZero(a.LastBlockFound.BlockHeight, a.LastBlockFound.Height))),
		}
	}
	if a.LastPayment != nil {
		snap.LastPayment = &types.Payment{
			Amount: a.LastPayment.Amount,
			Date:   parseTime(a.LastPayment.Date),
		}
	}
	return snap
}

// aggregateWorkerRecords folds the per-worker schema into one snapshot:
// only rows for address stamped with the latest created time count.
// It returns nil when address has no rows.
func aggregateWorkerRecords(address string, records []WorkerRecord) *types.MinerSnapshot {
	var latest time.Time
	var rows []WorkerRecord
	for _, r := range records {
		if r.Miner != "" && r.Miner != address {
			continue
		}
		created := parseTime(r.Created)
		switch {
		case rows == nil || created.After(latest):
			latest = created
			rows = []WorkerRecord{r}
		case created.Equal(latest):
			rows = append(rows, r)
		}
	}
	if len(rows) == 0 {
		return nil
	}

	snap := &types.MinerSnapshot{
		Address:    address,
		ObservedAt: latest,
		Shape:      types.ShapeWorkerRecords,
	}
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		snap.CurrentHashrate += r.Hashrate
		snap.SharesPerSecond += r.SharesPerSecond
		name := firstNonEmpty(r.Worker, "default")
		if !seen[name] {
			seen[name] = true
			snap.Workers = append(snap.Workers, name)
		}
	}
	snap.WorkerCount = len(rows)
	return snap
}

func (r minerRow) toSummary() types.MinerSummary {
	return types.MinerSummary{
		Address:         firstNonEmpty(r.Address, r.Miner),
		Hashrate:        r.Hashrate,
		SharesPerSecond: firstNonZero(r.SharesPerSecond, r.SharesPerSec),
		Workers:         toInt(firstNonZero(r.Workers, r.WorkerCount)),
	}
}

// workerNames accepts either a list of names or a list of worker objects
func workerNames(items []interface{}) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if v != "" {
				names = append(names, v)
			}
		case map[string]interface{}:
			for _, key := range []string{"worker", "name", "id"} {
				if s, ok := v[key].(string); ok && s != "" {
					names = append(names, s)
					break
				}
			}
		}
	}
	return names
}
