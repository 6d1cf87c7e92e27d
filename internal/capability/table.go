// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capability classifies model capabilities for the chat pipeline.
package capability

import "strings"

// =============================================================================
// KEYWORD TABLE
// =============================================================================

// KeywordTable is the static fallback table used when the capability endpoint
// is unreachable or reports no signal. It is versioned, explicit data: the
// default ships below and a config file may override it wholesale.
type KeywordTable struct {
	// Version identifies the table revision for logging and config merge.
	Version int `toml:"version" json:"version"`

	// Thinking lists model-name substrings of families known to emit
	// <think> tagged reasoning when asked via an inline directive.
	Thinking []string `toml:"thinking" json:"thinking"`

	// Vision lists model-name substrings of families known to accept images.
	Vision []string `toml:"vision" json:"vision"`
}

// DefaultKeywordTable returns the built-in fallback table.
func DefaultKeywordTable() KeywordTable {
	return KeywordTable{
		Version: 1,
		Thinking: []string{
			"qwen3",
			"qwen2.5",
			"deepseek-r1",
			"deepseek-v3",
			"qwq",
		},
		Vision: []string{
			"llava",
			"bakllava",
			"llava-phi",
			"moondream",
			"cogvlm",
			"llama3.2-vision",
			"gemma3",
		},
	}
}

// MatchesThinking reports whether the model name matches a known
// directive-thinking family.
func (t KeywordTable) MatchesThinking(modelID string) bool {
	return matchesAny(modelID, t.Thinking)
}

// MatchesVision reports whether the model name matches a known vision family.
func (t KeywordTable) MatchesVision(modelID string) bool {
	return matchesAny(modelID, t.Vision)
}

// IsEmpty returns true if the table carries no keywords at all.
func (t KeywordTable) IsEmpty() bool {
	return len(t.Thinking) == 0 && len(t.Vision) == 0
}

func matchesAny(modelID string, keywords []string) bool {
	lower := strings.ToLower(modelID)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
