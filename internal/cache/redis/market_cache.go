package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/polyview/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultMarketTTL is how long a cached market outlives its refresh.
const DefaultMarketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized Market data and secondary indexes so a market can be found by
// any folded condition id, member id, or token id.
//
// Key schema:
//
//	market:{id}            - hash with field "data" containing JSON
//	market:alias:{id}      - string value of the market ID
//	market:token:{tokenID} - string value of the market ID
type MarketCache struct {
	c   *Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A zero
// ttl selects DefaultMarketTTL.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	return &MarketCache{c: c, ttl: ttl}
}

func (mc *MarketCache) marketKey(id string) string { return mc.c.key("market:", id) }
func (mc *MarketCache) aliasKey(id string) string  { return mc.c.key("market:alias:", id) }
func (mc *MarketCache) tokenKey(tok string) string { return mc.c.key("market:token:", tok) }

// Set stores one Market and its indexes.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	return mc.SetMany(ctx, []domain.Market{market})
}

// SetMany stores a batch of Markets in a single transaction.
func (mc *MarketCache) SetMany(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	pipe := mc.c.rdb.TxPipeline()
	for _, m := range markets {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: marshal market %s: %w", m.ID, err)
		}
		mc.queueSet(ctx, pipe, m, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set %d markets: %w", len(markets), err)
	}
	return nil
}

func (mc *MarketCache) queueSet(ctx context.Context, pipe redis.Pipeliner, m domain.Market, data []byte) {
	key := mc.marketKey(m.ID)
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)

	for _, alias := range append(append([]string{}, m.ConditionIDs...), m.MemberIDs...) {
		if alias == "" || alias == m.ID {
			continue
		}
		pipe.Set(ctx, mc.aliasKey(alias), m.ID, mc.ttl)
	}
	for _, tokenID := range m.TokenIDs() {
		pipe.Set(ctx, mc.tokenKey(tokenID), m.ID, mc.ttl)
	}
}

// Get retrieves a Market by its id or by the id of any market folded into it.
// It returns domain.ErrNotFound when neither exists.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := mc.get(ctx, id)
	if !errors.Is(err, domain.ErrNotFound) {
		return m, err
	}

	marketID, err := mc.c.rdb.Get(ctx, mc.aliasKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market alias %s: %w", id, err)
	}
	return mc.get(ctx, marketID)
}

// GetByToken looks up a Market by one of its outcome token ids.
// It returns domain.ErrNotFound if the token mapping or market does not exist.
func (mc *MarketCache) GetByToken(ctx context.Context, tokenID string) (domain.Market, error) {
	marketID, err := mc.c.rdb.Get(ctx, mc.tokenKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market by token %s: %w", tokenID, err)
	}

	return mc.get(ctx, marketID)
}

// Invalidate removes a Market and its index entries from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, id string) error {
	market, err := mc.get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}

	pipe := mc.c.rdb.TxPipeline()
	pipe.Del(ctx, mc.marketKey(id))

	// Index entries are only known when the market could be read.
	if err == nil {
		for _, alias := range append(append([]string{}, market.ConditionIDs...), market.MemberIDs...) {
			pipe.Del(ctx, mc.aliasKey(alias))
		}
		for _, tokenID := range market.TokenIDs() {
			pipe.Del(ctx, mc.tokenKey(tokenID))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

func (mc *MarketCache) get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.c.rdb.HGet(ctx, mc.marketKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
