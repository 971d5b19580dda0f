package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// KV is the persistent key-value storage the engine is built on.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// LoadJSON decodes the JSON document under key into dst. It returns false
// without touching dst when the key does not exist.
func LoadJSON(ctx context.Context, kv KV, key string, dst any) (bool, error) {
	b, ok, err := kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, fmt.Errorf("load %s: decode: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v as JSON under key.
func SaveJSON(ctx context.Context, kv KV, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("save %s: encode: %w", key, err)
	}
	if err := kv.Set(ctx, key, b); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
