package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/igwedaniel/sharkmon/internal/apiclient"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BlockLookup finds the blocks credited to a miner address
type BlockLookup interface {
	MinerBlocks(ctx context.Context, address string) (*types.BlockList, error)
}

// StatsLookup aggregates a miner's stats from another upstream
type StatsLookup interface {
	MinerStats(ctx context.Context, address string) (*types.MinerSnapshot, error)
}

// MinerSource reads the sigscore miners API
type MinerSource struct {
	client   apiclient.Fetcher
	baseURL  string
	blocks   BlockLookup
	fallback StatsLookup
	logger   *logrus.Logger
}

func NewMinerSource(client apiclient.Fetcher, baseURL string, logger *logrus.Logger) (*MinerSource, error) {
	if _, err := apiclient.JoinURL(baseURL); err != nil {
		return nil, fmt.Errorf("sigscore api: %w", err)
	}
	return &MinerSource{client: client, baseURL: baseURL, logger: logger}, nil
}

// SetBlockLookup attaches the source used to fill in a miner's last block
// when the miners API does not report it
func (ms *MinerSource) SetBlockLookup(b BlockLookup) {
	ms.blocks = b
}

// SetStatsFallback attaches the source asked for a miner the miners API
// does not know
func (ms *MinerSource) SetStatsFallback(f StatsLookup) {
	ms.fallback = f
}

func (ms *MinerSource) url(segments ...string) string {
	u, _ := apiclient.JoinURL(ms.baseURL, segments...)
	return u
}

// Miner returns the stats for address from /miners/{address}. The body is
// either one pre-aggregated object or a list of per-worker rows; the shape
// is chosen from what the upstream actually sent.
func (ms *MinerSource) Miner(ctx context.Context, address string) (*types.MinerSnapshot, error) {
	body, err := ms.client.Fetch(ctx, ms.url("miners", address))
	if err != nil {
		if isHTTPStatus(err, http.StatusNotFound) {
			return nil, notFound("miner", "no data found for this miner address", types.ErrNotFound)
		}
		return nil, unavailable("miner", err)
	}

	switch jsonKind(body) {
	case '{':
		var raw map[string]interface{}
		if err := decode(body, &raw); err != nil {
			return nil, unavailable("miner", err)
		}
		if len(raw) == 0 {
			return nil, notFound("miner", "no data found for this miner address", types.ErrNotFound)
		}
		var agg minerAggregate
		if err := decode(body, &agg); err != nil {
			return nil, unavailable("miner", err)
		}
		return agg.toSnapshot(address), nil

	case '[':
		var records []WorkerRecord
		if err := decode(body, &records); err != nil {
			return nil, unavailable("miner", err)
		}
		snap := aggregateWorkerRecords(address, records)
		if snap == nil {
			return nil, notFound("miner", "no data found for this miner address", types.ErrNotFound)
		}
		return snap, nil

	default:
		if strings.TrimSpace(string(body)) == "null" {
			return nil, notFound("miner", "no data found for this miner address", types.ErrNotFound)
		}
		return nil, &types.DataUnavailable{Resource: "miner", Kind: types.KindDecode, Reason: "unexpected response shape"}
	}
}

// Workers returns the worker names of address
func (ms *MinerSource) Workers(ctx context.Context, address string) ([]string, error) {
	body, err := ms.client.Fetch(ctx, ms.url("miners", address, "workers"))
	if err != nil {
		return nil, unavailable("workers", err)
	}
	var items []interface{}
	if err := decode(body, &items); err != nil {
		if errors.Is(err, errNullBody) {
			return nil, nil
		}
		return nil, unavailable("workers", err)
	}
	return workerNames(items), nil
}

// Samples returns the hashrate history of address, oldest first
func (ms *MinerSource) Samples(ctx context.Context, address string) ([]types.HashrateSample, error) {
	body, err := ms.client.Fetch(ctx, ms.url("miners", address, "samples"))
	if err != nil {
		return nil, unavailable("samples", err)
	}
	var records []sampleRecord
	if err := decode(body, &records); err != nil {
		if errors.Is(err, errNullBody) {
			return nil, nil
		}
		return nil, unavailable("samples", err)
	}
	samples := make([]types.HashrateSample, 0, len(records))
	for _, r := range records {
		samples = append(samples, types.HashrateSample{
			Created:  parseTime(firstNonEmpty(r.Created, r.Timestamp)),
			Hashrate: r.Hashrate,
		})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Created.Before(samples[j].Created)
	})
	return samples, nil
}

// TopMiners returns /miners/top?limit=N
func (ms *MinerSource) TopMiners(ctx context.Context, limit int) ([]types.MinerSummary, error) {
	u := apiclient.WithQuery(ms.url("miners", "top"), url.Values{"limit": {strconv.Itoa(limit)}})
	return ms.minerRows(ctx, "top miners", u)
}

// LiveMiners returns /miners?limit=N&offset=M, or the unpaged /miners
// when limit <= 0
func (ms *MinerSource) LiveMiners(ctx context.Context, limit, offset int) ([]types.MinerSummary, error) {
	u := ms.url("miners")
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		u = apiclient.WithQuery(u, url.Values{
			"limit":  {strconv.Itoa(limit)},
			"offset": {strconv.Itoa(offset)},
		})
	}
	return ms.minerRows(ctx, "live miners", u)
}

func (ms *MinerSource) minerRows(ctx context.Context, resource, u string) ([]types.MinerSummary, error) {
	body, err := ms.client.Fetch(ctx, u)
	if err != nil {
		return nil, unavailable(resource, err)
	}
	var rows []minerRow
	if err := decode(body, &rows); err != nil {
		if errors.Is(err, errNullBody) {
			return nil, nil
		}
		return nil, unavailable(resource, err)
	}
	out := make([]types.MinerSummary, 0, len(rows))
	for _, r := range rows {
		s := r.toSummary()
		if s.Address == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Leaderboard returns the top miners. Upstreams without the top endpoint
// answer 404; those fall back to the paged live list sorted by hashrate.
func (ms *MinerSource) Leaderboard(ctx context.Context, limit int) (*types.Leaderboard, error) {
	if limit <= 0 {
		limit = 10
	}
	miners, err := ms.TopMiners(ctx, limit)
	if err != nil && isHTTPStatus(err, http.StatusNotFound) {
		miners, err = ms.LiveMiners(ctx, limit, 0)
		if err == nil {
			sort.SliceStable(miners, func(i, j int) bool {
				return miners[i].Hashrate > miners[j].Hashrate
			})
		}
	}
	if err != nil {
		return nil, err
	}
	if len(miners) > limit {
		miners = miners[:limit]
	}
	return &types.Leaderboard{Miners: miners}, nil
}

// Lookup returns one complete snapshot for address. When the miners API
// has no data, the stats fallback is tried before reporting NotFound.
// Workers, samples and the last found block are enrichment: their failures
// are logged and the snapshot is returned without them.
func (ms *MinerSource) Lookup(ctx context.Context, address string) (*types.MinerSnapshot, error) {
	snap, err := ms.Miner(ctx, address)
	if err != nil && types.IsNotFound(err) && ms.fallback != nil {
		alt, ferr := ms.fallback.MinerStats(ctx, address)
		switch {
		case ferr == nil:
			snap, err = alt, nil
		case !types.IsNotFound(ferr):
			ms.logEnrichment("minerstats", address, ferr)
		}
	}
	if err != nil {
		return nil, err
	}

	var (
		workers []string
		samples []types.HashrateSample
		blocks  *types.BlockList
	)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		if workers, err = ms.Workers(ctx, address); err != nil {
			ms.logEnrichment("workers", address, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if samples, err = ms.Samples(ctx, address); err != nil {
			ms.logEnrichment("samples", address, err)
		}
		return nil
	})
	if ms.blocks != nil && snap.LastBlockFound == nil {
		g.Go(func() error {
			var err error
			if blocks, err = ms.blocks.MinerBlocks(ctx, address); err != nil {
				ms.logEnrichment("blocks", address, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(snap.Workers) == 0 && len(workers) > 0 {
		snap.Workers = workers
	}
	if snap.WorkerCount == 0 {
		snap.WorkerCount = len(snap.Workers)
	}
	snap.Samples = samples
	if latest := blocks.Latest(); latest != nil {
		snap.LastBlockFound = &types.BlockFound{Timestamp: latest.Created, Height: latest.Height}
	}
	return snap, nil
}

func (ms *MinerSource) logEnrichment(what, address string, err error) {
	if ms.logger == nil {
		return
	}
	ms.logger.WithFields(logrus.Fields{
		"address": address,
		"part":    what,
		"error":   err.Error(),
	}).Debug("Miner enrichment unavailable")
}
