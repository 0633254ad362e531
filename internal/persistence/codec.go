package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
	"github.com/smallbiznis/pantheon/internal/observability/metrics"
)

// SchemaVersion is bumped whenever a snapshot payload changes shape incompatibly.
const SchemaVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps v in a versioned envelope and snappy-compresses it.
func Encode(kind string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w: %v", kind, metrics.ErrCodec, err)
	}
	raw, err := json.Marshal(envelope{Version: SchemaVersion, Kind: kind, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w: %v", kind, metrics.ErrCodec, err)
	}
	return snappy.Encode(nil, raw), nil
}

// Decode reverses Encode. The kind and schema version must match.
func Decode(kind string, data []byte, v any) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("decode %s: %w: %v", kind, metrics.ErrCodec, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s: %w: %v", kind, metrics.ErrCodec, err)
	}
	if env.Version != SchemaVersion {
		return fmt.Errorf("decode %s: %w: unsupported schema version %d", kind, metrics.ErrCodec, env.Version)
	}
	if env.Kind != kind {
		return fmt.Errorf("decode %s: %w: payload holds %q", kind, metrics.ErrCodec, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w: %v", kind, metrics.ErrCodec, err)
	}
	return nil
}

// LoadInto fetches key and decodes it into v. It reports false when the key is absent.
func LoadInto(ctx context.Context, gw Gateway, key string, v any) (bool, error) {
	data, ok, err := gw.Load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := Decode(key, data, v); err != nil {
		return false, err
	}
	return true, nil
}

// StoreFrom encodes v and writes it under key.
func StoreFrom(ctx context.Context, gw Gateway, key string, v any) error {
	data, err := Encode(key, v)
	if err != nil {
		return err
	}
	return gw.Store(ctx, key, data)
}
