// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream demultiplexes a live model output stream into two ordered
// sub-streams: reasoning text and answer text.
//
// Directive-mode models interleave both in plain text, delimiting reasoning
// with literal <think>...</think> tags that may be split at arbitrary byte
// offsets across chunks. TagDemux handles this with a three-state machine
// (Answering, InReasoning, DrainingTag) and a bounded look-back of
// len("</think>")-1 bytes, so classification is identical for every possible
// chunking of the same text.
//
// Parameter-mode models deliver reasoning as a separately labeled field per
// chunk; Passthrough simply forwards each field.
//
// Both implementations are one-shot: Flush ends the stream, and a new
// generation needs a new instance.
package stream
