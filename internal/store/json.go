// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/json"
	"errors"
)

// =============================================================================
// TYPED HELPERS
// =============================================================================

// GetJSON reads key and decodes it into a T.
func GetJSON[T any](ctx context.Context, s *Store, c Collection, key string) (T, error) {
	var v T
	raw, err := s.Get(ctx, c, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, newError(KindOperation, "decode", c, key, err)
	}
	return v, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s *Store, c Collection, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return newError(KindOperation, "encode", c, key, err)
	}
	return s.Put(ctx, c, key, raw)
}

// AddJSON encodes v and inserts it under key, failing if key exists.
func AddJSON(ctx context.Context, s *Store, c Collection, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return newError(KindOperation, "encode", c, key, err)
	}
	return s.Add(ctx, c, key, raw)
}

// UpdateJSON atomically decodes key, applies fn and stores the result.
// When the key is absent fn receives the zero T and exists=false.
// fn may return ErrSkipWrite to leave the value unchanged.
func UpdateJSON[T any](ctx context.Context, s *Store, c Collection, key string, fn func(cur T, exists bool) (T, error)) error {
	return s.Update(ctx, c, key, func(old []byte, exists bool) ([]byte, error) {
		var cur T
		if exists {
			if err := json.Unmarshal(old, &cur); err != nil {
				return nil, newError(KindOperation, "decode", c, key, err)
			}
		}
		next, err := fn(cur, exists)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return nil, newError(KindOperation, "encode", c, key, err)
		}
		return raw, nil
	})
}

// ListJSON decodes every value in c. Values that fail to decode are left out
// and their keys returned in skipped, so one bad record does not hide the
// rest of the collection.
func ListJSON[T any](ctx context.Context, s *Store, c Collection) (items map[string]T, skipped []string, err error) {
	raw, err := s.List(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	items = make(map[string]T, len(raw))
	for k, v := range raw {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			skipped = append(skipped, k)
			continue
		}
		items[k] = item
	}
	return items, skipped, nil
}

// Exists reports whether key is present in c.
func Exists(ctx context.Context, s *Store, c Collection, key string) (bool, error) {
	_, err := s.Get(ctx, c, key)
	if errors.Is(err, ErrItemNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
