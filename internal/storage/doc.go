// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations in a SQLite database.
//
// One Store owns one database file. Conversations and turns map to two
// tables; turn order is an explicit sequence column, appended under a
// transaction so concurrent writers cannot interleave. Forks copy a turn
// prefix into a brand-new conversation row with fresh turn IDs, so the two
// branches share no mutable state.
package storage
