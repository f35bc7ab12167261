package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backing is durable storage of string values keyed by string.
//
// Implemented by Store (SQLite) and Memory.
type Backing interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Update atomically replaces the value under key with fn(old). ok
	// reports whether key existed. fn must not call back into the Backing.
	Update(ctx context.Context, key string, fn func(old string, ok bool) (string, error)) error
}

// LoadJSON decodes the document stored under key into v.
//
// A missing key or a document that does not decode leaves v untouched, so
// callers pre-fill v with the default value. Malformed data is logged and
// never returned as an error. Only a failing backing returns an error.
func LoadJSON(ctx context.Context, b Backing, logger *zap.Logger, key string, v any) error {
	raw, ok, err := b.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		if logger != nil {
			logger.Warn("malformed persisted document, using default",
				zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	return nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, b Backing, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("save %s: marshal: %w", key, err)
	}
	if err := b.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// UpdateJSON decodes the document under key into a zero T, lets fn modify it,
// and writes the result back in one atomic step. Malformed data is logged
// and replaced by the zero value, as LoadJSON does. An error from fn aborts
// the write and is returned unwrapped.
func UpdateJSON[T any](ctx context.Context, b Backing, logger *zap.Logger, key string, fn func(v *T) error) error {
	var fnErr error
	err := b.Update(ctx, key, func(old string, ok bool) (string, error) {
		var v T
		if ok && old != "" {
			if err := json.Unmarshal([]byte(old), &v); err != nil {
				if logger != nil {
					logger.Warn("malformed persisted document, using default",
						zap.String("key", key), zap.Error(err))
				}
				var zero T
				v = zero
			}
		}
		if err := fn(&v); err != nil {
			fnErr = err
			return "", err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal: %w", err)
		}
		return string(data), nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}

// Memory is a map-backed Backing. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	leases map[string]memoryLease
}

type memoryLease struct {
	holder string
	until  time.Time
}

// NewMemory creates an empty in-memory backing.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]string),
		leases: make(map[string]memoryLease),
	}
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Update runs fn under the write lock.
func (m *Memory) Update(_ context.Context, key string, fn func(old string, ok bool) (string, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.values[key]
	next, err := fn(old, ok)
	if err != nil {
		return err
	}
	m.values[key] = next
	return nil
}

// AcquireLease implements Leaser.
func (m *Memory) AcquireLease(_ context.Context, name, holder string, until, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[name]
	if ok && cur.holder != holder && cur.until.After(now) {
		return false, nil
	}
	m.leases[name] = memoryLease{holder: holder, until: until}
	return true, nil
}

// ReleaseLease implements Leaser.
func (m *Memory) ReleaseLease(_ context.Context, name, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[name]; ok && cur.holder == holder {
		delete(m.leases, name)
	}
	return nil
}
