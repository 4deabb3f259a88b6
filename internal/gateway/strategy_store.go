package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trendcross/config"

	goredis "github.com/go-redis/redis/v8"
)

// StrategyKey is the Redis key holding the dashboard's strategy parameters.
const StrategyKey = "gateway:strategy"

// StrategyChannel is the WS channel announcing strategy changes.
const StrategyChannel = "strategy"

// StrategyStore holds the strategy parameters used by API backtests and
// newly started live streams. Changes are persisted to Redis when a client
// is configured and broadcast to WS clients.
type StrategyStore struct {
	hub *Hub
	rdb *goredis.Client

	mu sync.RWMutex
	sc config.StrategyConfig
}

// NewStrategyStore creates a store seeded with initial. rdb may be nil.
func NewStrategyStore(hub *Hub, rdb *goredis.Client, initial config.StrategyConfig) *StrategyStore {
	return &StrategyStore{hub: hub, rdb: rdb, sc: initial}
}

// Load replaces the current parameters with the persisted ones, if any.
// A missing key keeps the seed.
func (s *StrategyStore) Load(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	raw, err := s.rdb.Get(ctx, StrategyKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load strategy: %w", err)
	}
	sc := s.Get()
	if err := json.Unmarshal(raw, &sc); err != nil {
		return fmt.Errorf("decode strategy: %w", err)
	}
	if err := sc.Validate(); err != nil {
		log.Printf("[api_gateway] ignoring stored strategy: %v", err)
		return nil
	}
	s.mu.Lock()
	s.sc = sc
	s.mu.Unlock()
	return nil
}

// Get returns the current parameters.
func (s *StrategyStore) Get() config.StrategyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sc
}

// Set validates and installs sc. A persistence failure is logged; the
// in-memory value still changes.
func (s *StrategyStore) Set(ctx context.Context, sc config.StrategyConfig) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sc = sc
	s.mu.Unlock()

	data, _ := json.Marshal(sc)
	if s.rdb != nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := s.rdb.Set(cctx, StrategyKey, data, 0).Err(); err != nil {
			log.Printf("[api_gateway] WARNING: failed to persist strategy: %v", err)
		}
		cancel()
	}
	if s.hub != nil {
		s.hub.Broadcaster.Broadcast(StrategyChannel, data, nil)
	}
	return nil
}
