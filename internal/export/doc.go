// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export converts conversations to and from portable formats.
//
// Two formats are supported. JSON documents are round-trippable: Export then
// Import yields an equivalent conversation, including per-turn reasoning text
// and image references. Markdown is one-way and display-oriented; it carries
// answer text only.
package export
