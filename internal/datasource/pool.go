package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/igwedaniel/sharkmon/internal/apiclient"
	"github.com/igwedaniel/sharkmon/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PoolSource reads the Miningcore statistics API
type PoolSource struct {
	client  apiclient.Fetcher
	baseURL string
	logger  *logrus.Logger
}

func NewPoolSource(client apiclient.Fetcher, baseURL string, logger *logrus.Logger) (*PoolSource, error) {
	if _, err := apiclient.JoinURL(baseURL); err != nil {
		return nil, fmt.Errorf("miningcore api: %w", err)
	}
	return &PoolSource{client: client, baseURL: baseURL, logger: logger}, nil
}

func (ps *PoolSource) url(segments ...string) string {
	u, _ := apiclient.JoinURL(ps.baseURL, segments...)
	return u
}

// PoolStats returns the most recent sample of /poolstats. The endpoint
// returns historical samples in order, so the last element is current.
func (ps *PoolSource) PoolStats(ctx context.Context) (*types.PoolSnapshot, error) {
	var samples []poolStatsSample
	body, err := ps.client.Fetch(ctx, ps.url("poolstats"))
	if err != nil {
		return nil, unavailable("pool stats", err)
	}
	if jsonKind(body) != '[' {
		return nil, &types.DataUnavailable{Resource: "pool stats", Kind: types.KindDecode, Reason: "expected a list of samples"}
	}
	if err := decode(body, &samples); err != nil {
		return nil, unavailable("pool stats", err)
	}
	if len(samples) == 0 {
		return nil, &types.DataUnavailable{Resource: "pool stats", Kind: types.KindDecode, Reason: "no samples returned"}
	}
	return samples[len(samples)-1].toSnapshot(), nil
}

// Blocks returns the blocks found by the pool
func (ps *PoolSource) Blocks(ctx context.Context) (*types.BlockList, error) {
	return ps.blocks(ctx, "blocks", ps.url("blocks"))
}

// MinerBlocks returns the blocks found by one miner address
func (ps *PoolSource) MinerBlocks(ctx context.Context, address string) (*types.BlockList, error) {
	return ps.blocks(ctx, "miner blocks", ps.url("blocks", address))
}

func (ps *PoolSource) blocks(ctx context.Context, resource, u string) (*types.BlockList, error) {
	body, err := ps.client.Fetch(ctx, u)
	if err != nil {
		return nil, unavailable(resource, err)
	}
	var records []blockRecord
	if err := decode(body, &records); err != nil {
		if errors.Is(err, errNullBody) {
			return &types.BlockList{}, nil
		}
		return nil, unavailable(resource, err)
	}
	return toBlockList(records), nil
}

// MinerStatsRecords returns /minerstats, one row per worker sample
func (ps *PoolSource) MinerStatsRecords(ctx context.Context) ([]WorkerRecord, error) {
	body, err := ps.client.Fetch(ctx, ps.url("minerstats"))
	if err != nil {
		return nil, unavailable("miner stats", err)
	}
	var records []WorkerRecord
	if err := decode(body, &records); err != nil {
		if errors.Is(err, errNullBody) {
			return nil, nil
		}
		return nil, unavailable("miner stats", err)
	}
	return records, nil
}

// MinerStats aggregates the /minerstats rows of one address
func (ps *PoolSource) MinerStats(ctx context.Context, address string) (*types.MinerSnapshot, error) {
	records, err := ps.MinerStatsRecords(ctx)
	if err != nil {
		return nil, err
	}
	snap := aggregateWorkerRecords(address, records)
	if snap == nil {
		return nil, notFound("miner stats", "no data found for this miner address", types.ErrNotFound)
	}
	return snap, nil
}

// PoolData fetches pool stats and blocks concurrently. Either failure
// fails the pair so that the two are always published together.
func (ps *PoolSource) PoolData(ctx context.Context) (*types.PoolData, error) {
	var (
		stats  *types.PoolSnapshot
		blocks *types.BlockList
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = ps.PoolStats(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		blocks, err = ps.Blocks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if ps.logger != nil {
			ps.logger.WithError(err).Debug("Pool data fetch failed")
		}
		return nil, err
	}

	return &types.PoolData{Stats: stats, Blocks: blocks}, nil
}
