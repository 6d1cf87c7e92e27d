// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package capability classifies model capabilities for the chat pipeline.
package capability

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/ollamadesk/internal/ollama"
)

// =============================================================================
// CAPABILITY TYPES
// =============================================================================

// ReasoningMode identifies how a model's reasoning output is controlled.
type ReasoningMode int

const (
	// ReasoningNone means the model has no reasoning disclosure support.
	ReasoningNone ReasoningMode = iota

	// ReasoningParameter means the backend accepts a boolean request flag and
	// returns reasoning as a separately labeled response field.
	ReasoningParameter

	// ReasoningDirective means reasoning is requested with an inline /think
	// control token and arrives embedded in <think> tags within plain text.
	ReasoningDirective
)

// String returns the string representation of the reasoning mode.
func (m ReasoningMode) String() string {
	switch m {
	case ReasoningParameter:
		return "parameter"
	case ReasoningDirective:
		return "directive"
	default:
		return "none"
	}
}

// Source identifies where a capability verdict came from.
type Source int

const (
	// SourceAPIReported means the backend capability endpoint answered.
	SourceAPIReported Source = iota

	// SourceKeywordFallback means the verdict came from the static keyword
	// table because the endpoint failed or reported no signal.
	SourceKeywordFallback
)

// String returns the string representation of the source.
func (s Source) String() string {
	if s == SourceKeywordFallback {
		return "keyword_fallback"
	}
	return "api_reported"
}

// Capability is the immutable classification verdict for one model.
type Capability struct {
	Model     string
	Vision    bool
	Reasoning ReasoningMode
	Source    Source
}

// SupportsReasoning reports whether the model supports reasoning disclosure
// in any mode.
func (c Capability) SupportsReasoning() bool {
	return c.Reasoning != ReasoningNone
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// ModelShower is the slice of the backend client the classifier needs.
type ModelShower interface {
	ShowModel(ctx context.Context, name string) (*ollama.ShowModelResponse, error)
}

// Classifier resolves model capabilities in two stages: a live query against
// the backend capability endpoint, then the static keyword table when the
// query fails or reports nothing.
//
// Verdicts are cached for the process lifetime and invalidated only by an
// explicit Refresh. Classify never returns an error; a backend failure
// degrades to the keyword table.
type Classifier struct {
	client ModelShower

	mu    sync.RWMutex
	table KeywordTable
	cache map[string]Capability
}

// NewClassifier creates a classifier backed by client and the given table.
// A zero table falls back to DefaultKeywordTable.
func NewClassifier(client ModelShower, table KeywordTable) *Classifier {
	if table.IsEmpty() {
		table = DefaultKeywordTable()
	}
	return &Classifier{
		client: client,
		table:  table,
		cache:  make(map[string]Capability),
	}
}

// Classify returns the capability verdict for modelID, computing and caching
// it on first use. It never fails: backend errors fall through to the
// keyword table with Source = SourceKeywordFallback.
func (c *Classifier) Classify(ctx context.Context, modelID string) Capability {
	c.mu.RLock()
	if cached, ok := c.cache[modelID]; ok {
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	verdict := c.resolve(ctx, modelID)

	c.mu.Lock()
	c.cache[modelID] = verdict
	c.mu.Unlock()

	log.Debug().
		Str("model", modelID).
		Str("reasoning", verdict.Reasoning.String()).
		Bool("vision", verdict.Vision).
		Str("source", verdict.Source.String()).
		Msg("classified model")

	return verdict
}

// Lookup returns the cached verdict without triggering a backend query.
func (c *Classifier) Lookup(modelID string) (Capability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.cache[modelID]
	return cached, ok
}

// Refresh invalidates the cached verdicts for the given models and recomputes
// them. With no arguments it clears the entire cache. Latest refresh wins;
// concurrent refreshes are not coalesced.
func (c *Classifier) Refresh(ctx context.Context, modelIDs ...string) {
	c.mu.Lock()
	if len(modelIDs) == 0 {
		c.cache = make(map[string]Capability)
		c.mu.Unlock()
		return
	}
	for _, id := range modelIDs {
		delete(c.cache, id)
	}
	c.mu.Unlock()

	for _, id := range modelIDs {
		c.Classify(ctx, id)
	}
}

// SetTable swaps in a new keyword table (e.g. after a config reload) and
// clears the cache so stale keyword verdicts are recomputed.
func (c *Classifier) SetTable(table KeywordTable) {
	if table.IsEmpty() {
		table = DefaultKeywordTable()
	}

	c.mu.Lock()
	c.table = table
	c.cache = make(map[string]Capability)
	c.mu.Unlock()

	log.Debug().Int("version", table.Version).Msg("keyword table replaced")
}

// =============================================================================
// RESOLUTION
// =============================================================================

// resolve performs the two-stage classification.
func (c *Classifier) resolve(ctx context.Context, modelID string) Capability {
	verdict := Capability{Model: modelID}

	resp, err := c.client.ShowModel(ctx, modelID)
	if err != nil {
		log.Warn().Err(err).Str("model", modelID).Msg("capability query failed, using keyword fallback")
		return c.keywordVerdict(modelID)
	}

	if resp.HasCapability("vision") || hasVisionParams(resp.ModelInfo) {
		verdict.Vision = true
	}
	if resp.HasCapability("thinking") || resp.HasCapability("reasoning") {
		verdict.Reasoning = ReasoningParameter
	}

	// No signal at all from the endpoint: treat like a failed query.
	if !verdict.Vision && verdict.Reasoning == ReasoningNone {
		return c.keywordVerdict(modelID)
	}

	// The endpoint answered but reported no structured reasoning support;
	// known directive families still disclose reasoning via inline tags.
	if verdict.Reasoning == ReasoningNone {
		c.mu.RLock()
		matches := c.table.MatchesThinking(modelID)
		c.mu.RUnlock()
		if matches {
			verdict.Reasoning = ReasoningDirective
		}
	}

	verdict.Source = SourceAPIReported
	return verdict
}

// keywordVerdict builds a verdict from the static table alone.
func (c *Classifier) keywordVerdict(modelID string) Capability {
	c.mu.RLock()
	table := c.table
	c.mu.RUnlock()

	verdict := Capability{
		Model:  modelID,
		Source: SourceKeywordFallback,
		Vision: table.MatchesVision(modelID),
	}
	if table.MatchesThinking(modelID) {
		verdict.Reasoning = ReasoningDirective
	}
	return verdict
}

// hasVisionParams reports whether the raw model parameter map carries any
// vision-related key (e.g. "clip.vision.block_count").
func hasVisionParams(info map[string]interface{}) bool {
	for key := range info {
		if strings.Contains(strings.ToLower(key), "vision") {
			return true
		}
	}
	return false
}
