// Package store defines the key-value persistence contract the engine uses
// to survive restarts. The engine never assumes a storage medium.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrPersistence = errors.New("persistence failure")

// Keys used by the engine.
const (
	KeyBotConfig      = "bot_config"
	KeyExecutionQueue = "execution_queue"
	KeyDecisions      = "decisions"
	KeyOrderLedger    = "order_ledger"
	KeyQuotaUsage     = "quota_usage"
	KeyPaperPortfolio = "paper_portfolio"
)

// Persistence loads and saves opaque values by key.
type Persistence interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
}

// SaveJSON encodes v and saves it under key.
func SaveJSON(ctx context.Context, p Persistence, key string, v any) error {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %v: %w", key, err, ErrPersistence)
	}
	if err := p.Save(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, wrap(err))
	}
	return nil
}

// LoadJSON decodes the value under key into v. found is false when nothing
// was stored yet.
func LoadJSON(ctx context.Context, p Persistence, key string, v any) (found bool, err error) {
	if p == nil {
		return false, nil
	}
	raw, ok, err := p.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, wrap(err))
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %v: %w", key, err, ErrPersistence)
	}
	return true, nil
}

func wrap(err error) error {
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%v: %w", err, ErrPersistence)
}

// Memory is an in-process Persistence used when no store path is
// configured, and in tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Close satisfies io.Closer so hosts can treat every backend alike.
func (m *Memory) Close() error { return nil }
