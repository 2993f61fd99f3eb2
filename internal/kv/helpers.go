package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Set overwrites the value at path.
func Set(ctx context.Context, s Store, path string, v []byte) error {
	return s.Commit(ctx, Put(path, v))
}

// Update writes every entry of partial below base in one commit. Keys of
// partial are paths relative to base.
func Update(ctx context.Context, s Store, base string, partial map[string][]byte) error {
	keys := make([]string, 0, len(partial))
	for k := range partial {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writes := make([]Write, 0, len(keys))
	for _, k := range keys {
		writes = append(writes, Put(Join(base, k), partial[k]))
	}
	return s.Commit(ctx, writes...)
}

// PushKey returns a fresh, time-ordered child key.
func PushKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate push key: %w", err)
	}
	return id.String(), nil
}

// GetJSON reads the value at path and decodes it into dst.
func GetJSON(ctx context.Context, s Store, path string, dst any) error {
	b, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// PutJSON encodes v and returns an unconditional write of it at path.
func PutJSON(path string, v any) (Write, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Write{}, fmt.Errorf("encode %s: %w", path, err)
	}
	return Put(path, b), nil
}
