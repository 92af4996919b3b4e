package ap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const statementKeyPrefix = "supplier_ledger:statement"

// StatementCache stores rendered statements in Redis under a per-supplier
// version that is bumped whenever the supplier's confirmed state changes.
type StatementCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatementCache instantiates the cache helper.
func NewStatementCache(client *redis.Client, ttl time.Duration) *StatementCache {
	return &StatementCache{client: client, ttl: ttl}
}

func versionKey(supplierID int64) string {
	return strings.Join([]string{statementKeyPrefix, "version", strconv.FormatInt(supplierID, 10)}, ":")
}

// Version returns the supplier's cache version, initialising when missing.
func (c *StatementCache) Version(ctx context.Context, supplierID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(supplierID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(supplierID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(supplierID)).Int64()
	}
	return ver, err
}

// Key composes the statement key with the current version.
func (c *StatementCache) Key(ctx context.Context, supplierID int64, from, to *time.Time) (string, error) {
	ver, err := c.Version(ctx, supplierID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s:%s:%d", statementKeyPrefix, supplierID, dateToken(from), dateToken(to), ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *StatementCache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c != nil && c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c != nil && c.client != nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

// Invalidate bumps the supplier's version so older entries are never read
// again; they expire on their own.
func (c *StatementCache) Invalidate(ctx context.Context, supplierID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(supplierID)).Err()
}

func dateToken(t *time.Time) string {
	if t == nil {
		return "all"
	}
	return dateOf(*t).Format(dateLayout)
}
