// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and turns.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn represents a single turn in a conversation.
//
// Turns are append-only within a conversation except for an in-progress
// assistant turn, which is mutable (via AppendContent/AppendThinking) until
// FinalizeStream is called.
type Turn struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"` // Reasoning text, shown separately from the answer

	// ImageRef is an opaque reference to an attached image (vision models).
	ImageRef string `json:"image_ref,omitempty"`

	// Interrupted marks a partial turn persisted after a stream failure.
	Interrupted bool `json:"interrupted,omitempty"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming bool            `json:"-"`
	contentBuf  strings.Builder `json:"-"`
	thinkingBuf strings.Builder `json:"-"`

	// Generation statistics (assistant turns)
	TokenCount    int           `json:"token_count,omitempty"`
	TTFT          time.Duration `json:"ttft_ns,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty"`
	TokensPerSec  float64       `json:"tokens_per_sec,omitempty"`
}

// NewTurn creates a new turn with a generated ID.
func NewTurn(role Role, content string) *Turn {
	return &Turn{
		ID:        generateTurnID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserTurn creates a new user turn, optionally carrying an image reference.
func NewUserTurn(content, imageRef string) *Turn {
	t := NewTurn(RoleUser, content)
	t.ImageRef = imageRef
	return t
}

// NewAssistantTurn creates a new streaming assistant turn.
func NewAssistantTurn() *Turn {
	return &Turn{
		ID:          generateTurnID(),
		Role:        RoleAssistant,
		CreatedAt:   time.Now(),
		IsStreaming: true,
	}
}

// =============================================================================
// TURN METHODS
// =============================================================================

// AppendContent appends answer text to a streaming turn.
func (t *Turn) AppendContent(delta string) {
	if t.IsStreaming {
		t.contentBuf.WriteString(delta)
	}
}

// AppendThinking appends reasoning text to a streaming turn.
func (t *Turn) AppendThinking(delta string) {
	if t.IsStreaming {
		t.thinkingBuf.WriteString(delta)
	}
}

// FinalizeStream completes streaming and records statistics.
func (t *Turn) FinalizeStream(stats *Statistics) {
	if !t.IsStreaming {
		return
	}

	t.Content = t.contentBuf.String()
	t.Thinking = t.thinkingBuf.String()
	t.contentBuf.Reset()
	t.thinkingBuf.Reset()
	t.IsStreaming = false

	if stats != nil {
		t.TTFT = stats.TTFT
		t.TotalDuration = stats.TotalDuration
		t.TokenCount = stats.CompletionTokens
		t.TokensPerSec = stats.TokensPerSecond
	}
}

// DisplayContent returns the answer text to display (streaming or final).
func (t *Turn) DisplayContent() string {
	if t.IsStreaming {
		return t.contentBuf.String()
	}
	return t.Content
}

// DisplayThinking returns the reasoning text to display (streaming or final).
func (t *Turn) DisplayThinking() string {
	if t.IsStreaming {
		return t.thinkingBuf.String()
	}
	return t.Thinking
}

// HasThinking reports whether the turn carries any reasoning text.
func (t *Turn) HasThinking() bool {
	return len(t.Thinking) > 0 || t.thinkingBuf.Len() > 0
}

// IsEmpty returns true if the turn has no answer content.
func (t *Turn) IsEmpty() bool {
	return len(t.Content) == 0 && t.contentBuf.Len() == 0
}

// Preview returns a truncated preview of the turn content.
// Uses rune-based truncation to handle Unicode correctly.
func (t *Turn) Preview(maxLen int) string {
	content := t.DisplayContent()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// Copy returns an independent copy of a finalized turn with a fresh ID.
// Streaming state is not carried over.
func (t *Turn) Copy() *Turn {
	return &Turn{
		ID:            generateTurnID(),
		Role:          t.Role,
		CreatedAt:     t.CreatedAt,
		Content:       t.Content,
		Thinking:      t.Thinking,
		ImageRef:      t.ImageRef,
		Interrupted:   t.Interrupted,
		TokenCount:    t.TokenCount,
		TTFT:          t.TTFT,
		TotalDuration: t.TotalDuration,
		TokensPerSec:  t.TokensPerSec,
	}
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing and token count information for a generation.
type Statistics struct {
	// Timestamps
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	// Token counts
	PromptTokens     int
	CompletionTokens int

	// Derived metrics (computed on Finalize)
	TTFT            time.Duration
	TotalDuration   time.Duration
	TokensPerSecond float64
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
	}
}

// RecordFirstToken records when the first token was received.
func (s *Statistics) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes the final statistics.
func (s *Statistics) Finalize(tokenCount int) {
	s.EndTime = time.Now()
	s.CompletionTokens = tokenCount
	s.TotalDuration = s.EndTime.Sub(s.StartTime)

	if s.TotalDuration > 0 {
		s.TokensPerSecond = float64(tokenCount) / s.TotalDuration.Seconds()
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateTurnID creates a unique turn ID.
func generateTurnID() string {
	return "turn_" + uuid.NewString()
}
