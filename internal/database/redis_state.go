// Redis-backed tracker state so open positions survive restarts. When
// Redis is unavailable the store falls back to an in-memory cache and
// the engine keeps running without persistence.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"liqsweep-bot/internal/tracker"
)

const (
	// positionKeyPrefix is the prefix for individual position keys
	// Format: liqsweep:position:{symbol}
	positionKeyPrefix = "liqsweep:position"

	// positionSetKey holds the symbols with a live position
	positionSetKey = "liqsweep:positions:open"

	// positionTTL keeps stale keys from accumulating if a close is missed
	positionTTL = 7 * 24 * time.Hour
)

// RedisStateStore persists open positions in Redis with an in-memory
// fallback.
type RedisStateStore struct {
	client    *redis.Client
	logger    zerolog.Logger
	fallback  map[string]tracker.Position
	mu        sync.RWMutex
	available atomic.Bool
}

// NewRedisStateStore creates a state store. A nil client means
// memory-only mode.
func NewRedisStateStore(client *redis.Client, logger zerolog.Logger) *RedisStateStore {
	s := &RedisStateStore{
		client:   client,
		logger:   logger.With().Str("component", "redis-state").Logger(),
		fallback: make(map[string]tracker.Position),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory cache")
			s.available.Store(false)
		} else {
			s.logger.Info().Msg("redis connected")
			s.available.Store(true)
		}
	} else {
		s.available.Store(false)
	}

	return s
}

func (s *RedisStateStore) positionKey(symbol string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, symbol)
}

// SavePosition writes the position state, overwriting any previous
// snapshot for the symbol.
func (s *RedisStateStore) SavePosition(ctx context.Context, pos tracker.Position) error {
	s.mu.Lock()
	s.fallback[pos.Symbol] = pos
	s.mu.Unlock()

	if !s.available.Load() {
		return nil
	}

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.positionKey(pos.Symbol), data, positionTTL)
	pipe.SAdd(ctx, positionSetKey, pos.Symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.available.Store(false)
		s.logger.Warn().Err(err).Msg("redis write failed, falling back to memory")
		return nil
	}
	return nil
}

// DeletePosition removes the symbol's state after the position closes.
func (s *RedisStateStore) DeletePosition(ctx context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.fallback, symbol)
	s.mu.Unlock()

	if !s.available.Load() {
		return nil
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.positionKey(symbol))
	pipe.SRem(ctx, positionSetKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.available.Store(false)
		s.logger.Warn().Err(err).Msg("redis delete failed, falling back to memory")
	}
	return nil
}

// LoadPositions returns every persisted open position.
func (s *RedisStateStore) LoadPositions(ctx context.Context) ([]tracker.Position, error) {
	if !s.available.Load() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]tracker.Position, 0, len(s.fallback))
		for _, pos := range s.fallback {
			out = append(out, pos)
		}
		return out, nil
	}

	symbols, err := s.client.SMembers(ctx, positionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}

	var positions []tracker.Position
	for _, symbol := range symbols {
		data, err := s.client.Get(ctx, s.positionKey(symbol)).Bytes()
		if err == redis.Nil {
			// Key expired, drop the stale set member
			s.client.SRem(ctx, positionSetKey, symbol)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load position %s: %w", symbol, err)
		}

		var pos tracker.Position
		if err := json.Unmarshal(data, &pos); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("corrupt position state, skipping")
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// Available reports whether Redis is reachable.
func (s *RedisStateStore) Available() bool {
	return s.available.Load()
}
