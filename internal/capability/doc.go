// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capability classifies model capabilities for the chat pipeline.
//
// Given a model identifier the Classifier determines whether the model
// accepts image input and, if it discloses reasoning, which of two signaling
// protocols it uses:
//
//   - parameter: a boolean request flag; reasoning arrives as a separately
//     labeled response field
//   - directive: an inline /think control token; reasoning arrives embedded
//     in <think> tags within plain text
//
// Resolution is two-stage: the live /api/show capability list first, then a
// versioned keyword table (KeywordTable) when the endpoint fails or reports
// no signal. Classification never raises; the worst outcome is a verdict of
// "no vision, no reasoning" for a model unknown to both stages, in which case
// callers must not offer reasoning or image controls.
//
// Verdicts are cached per model for the process lifetime; only an explicit
// Refresh (the user's "refresh models" action) or a table swap invalidates
// them.
package capability
