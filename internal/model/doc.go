// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and turns.
//
// This package defines the core domain types used throughout the application
// for representing chat conversations and the turns within them.
//
// # Key Types
//
//   - Conversation: Container for a chat session with turns and metadata
//   - Turn: Single turn with role, answer text, optional reasoning text,
//     optional image reference, and timestamp
//   - Role: Turn role enumeration (user, assistant)
//   - Statistics: Timing and token counts collected during a generation
//
// # Streaming turns
//
// An assistant turn under generation is created with NewAssistantTurn and
// grows through AppendContent/AppendThinking until FinalizeStream seals it.
// Until then it is the only mutable turn in a conversation.
//
// # Forking
//
// Conversation.Fork copies a prefix of the turn sequence into a new
// conversation with independent ownership; the fork records its parent's ID
// but mutations never cross between the two.
package model
