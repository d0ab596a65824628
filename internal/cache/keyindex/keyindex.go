// Package keyindex tracks which cache keys belong to each project so
// ingest-driven invalidation can find them.
package keyindex

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spanlab/span-sample-gateway/internal/cache/redisstore"
)

type KeyIndex interface {
	// Keys returns the cache keys recorded for a project, in no
	// particular order.
	Keys(ctx context.Context, project int) ([]string, error)

	// Add records cache keys under a project. The index entry expires
	// with ttl so it never outlives the data it points at by much.
	Add(ctx context.Context, project int, keys []string, ttl time.Duration) error

	// Drop removes the whole index entry for a project.
	Drop(ctx context.Context, project int) error
}

// redisKeyIndex keeps one Redis set per project. SADD merges members
// server-side, so concurrent cache fills for the same project cannot
// drop each other's keys.
type redisKeyIndex struct {
	cli *redisstore.Client
}

func NewRedisIndex(cli *redisstore.Client) KeyIndex {
	return &redisKeyIndex{cli: cli}
}

func indexKey(project int) string {
	return "samples:idx:project:" + strconv.Itoa(project)
}

func (ki *redisKeyIndex) Keys(ctx context.Context, project int) ([]string, error) {
	ks, err := ki.cli.SMembers(ctx, indexKey(project))
	if err != nil {
		return nil, fmt.Errorf("keyindex redis SMEMBERS: %w", err)
	}
	if len(ks) == 0 {
		return nil, nil
	}
	return ks, nil
}

func (ki *redisKeyIndex) Add(ctx context.Context, project int, keys []string, ttl time.Duration) error {
	if len(keys) == 0 {
		return nil
	}
	if err := ki.cli.SAdd(ctx, indexKey(project), keys, ttl); err != nil {
		return fmt.Errorf("keyindex redis SADD: %w", err)
	}
	return nil
}

func (ki *redisKeyIndex) Drop(ctx context.Context, project int) error {
	if err := ki.cli.Del(ctx, indexKey(project)); err != nil {
		return fmt.Errorf("keyindex redis DEL: %w", err)
	}
	return nil
}
