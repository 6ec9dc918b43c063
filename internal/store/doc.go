// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Backends:
//
//   - OpenBolt: bbolt file, one bucket per collection (default)
//   - OpenSQLite: modernc SQLite file, one kv table
//   - OpenMemory: process memory, for tests and reduced mode
//
// Error kinds let callers tell an absent key (ErrItemNotFound) apart from a
// store that never opened (ErrNotInitialized) or a collection the backend
// does not have (ErrStorageMissing):
//
//	infos, err := store.GetJSON[[]Info](ctx, s, store.Meta, store.ChatListKey)
//	if errors.Is(err, store.ErrItemNotFound) {
//		// first run, no conversations yet
//	}
package store
