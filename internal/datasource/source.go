// Package datasource provides typed accessors over the pool statistics
// APIs. Accessors never panic on upstream data: every failure is returned
// as a *types.DataUnavailable carrying a human-readable reason.
package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/igwedaniel/sharkmon/internal/types"
)

// PoolDataSource defines the pool-wide accessors the scheduler consumes
type PoolDataSource interface {
	// PoolData returns the current pool stats sample and block list together
	PoolData(ctx context.Context) (*types.PoolData, error)
}

// MinerDataSource defines the miner accessors the scheduler consumes
type MinerDataSource interface {
	// Lookup returns a complete snapshot for address or a NotFound outcome
	Lookup(ctx context.Context, address string) (*types.MinerSnapshot, error)

	// Leaderboard returns the top miners by hashrate
	Leaderboard(ctx context.Context, limit int) (*types.Leaderboard, error)
}

func unavailable(resource string, err error) error {
	if err == nil {
		return nil
	}
	var du *types.DataUnavailable
	if errors.As(err, &du) {
		return err
	}
	var fe *types.FetchError
	if errors.As(err, &fe) {
		reason := fe.Message
		if fe.Kind == types.KindHTTPStatus {
			reason = fmt.Sprintf("http status %d", fe.StatusCode)
		}
		return &types.DataUnavailable{Resource: resource, Kind: fe.Kind, Reason: reason, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &types.DataUnavailable{Resource: resource, Kind: types.KindTransport, Reason: err.Error(), Err: err}
	}
	return &types.DataUnavailable{Resource: resource, Kind: types.KindDecode, Reason: err.Error(), Err: err}
}

func notFound(resource, reason string, err error) error {
	return &types.DataUnavailable{Resource: resource, Kind: types.KindNotFound, Reason: reason, Err: err}
}

func isHTTPStatus(err error, code int) bool {
	var fe *types.FetchError
	return errors.As(err, &fe) && fe.Kind == types.KindHTTPStatus && fe.StatusCode == code
}
