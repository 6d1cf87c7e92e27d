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
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a complete chat conversation with history and metadata.
//
// A conversation exclusively owns its turn sequence: turns are append-only
// except for the in-progress assistant turn, and forked conversations own
// independent copies of their prefix.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ParentID is set when the conversation was created via fork.
	ParentID string `json:"parent_id,omitempty"`

	// Turns
	Turns []*Turn `json:"turns"`

	// Model configuration
	Model string `json:"model"`

	// Pinned conversations sort ahead of the rest in listings.
	Pinned bool `json:"pinned,omitempty"`
}

// NewConversation creates a new conversation with a generated ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        generateConversationID(),
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     make([]*Turn, 0),
	}
}

// NewConversationWithModel creates a new conversation with a specific model.
func NewConversationWithModel(model string) *Conversation {
	conv := NewConversation()
	conv.Model = model
	return conv
}

// =============================================================================
// TURN MANAGEMENT
// =============================================================================

// AddTurn appends a turn to the conversation.
func (c *Conversation) AddTurn(t *Turn) {
	c.Turns = append(c.Turns, t)
	c.UpdatedAt = time.Now()
	c.updateTitle()
}

// LastTurn returns the most recent turn, or nil if empty.
func (c *Conversation) LastTurn() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return c.Turns[len(c.Turns)-1]
}

// LastAssistantTurn returns the most recent assistant turn.
func (c *Conversation) LastAssistantTurn() *Turn {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleAssistant {
			return c.Turns[i]
		}
	}
	return nil
}

// LastUserTurn returns the most recent user turn.
func (c *Conversation) LastUserTurn() *Turn {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleUser {
			return c.Turns[i]
		}
	}
	return nil
}

// TurnCount returns the number of turns.
func (c *Conversation) TurnCount() int {
	return len(c.Turns)
}

// IsEmpty returns true if there are no turns.
func (c *Conversation) IsEmpty() bool {
	return len(c.Turns) == 0
}

// =============================================================================
// FORK
// =============================================================================

// Fork creates a new conversation whose turn sequence is a verbatim copy of
// this conversation's turns up to and including uptoIndex. The copy is
// independently owned: mutating the fork never mutates the parent and vice
// versa. An uptoIndex past the end copies the whole sequence.
func (c *Conversation) Fork(uptoIndex int) *Conversation {
	if uptoIndex >= len(c.Turns) {
		uptoIndex = len(c.Turns) - 1
	}

	now := time.Now()
	fork := &Conversation{
		ID:        generateConversationID(),
		Title:     c.GetTitle() + " (Fork)",
		ParentID:  c.ID,
		Model:     c.Model,
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     make([]*Turn, 0, uptoIndex+1),
	}

	for i := 0; i <= uptoIndex && i >= 0; i++ {
		fork.Turns = append(fork.Turns, c.Turns[i].Copy())
	}

	return fork
}

// Clone creates a deep copy of the conversation, preserving identity.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		ParentID:  c.ParentID,
		Model:     c.Model,
		Pinned:    c.Pinned,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Turns:     make([]*Turn, len(c.Turns)),
	}

	for i, t := range c.Turns {
		cp := t.Copy()
		cp.ID = t.ID
		clone.Turns[i] = cp
	}

	return clone
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// updateTitle auto-generates a title from the first user turn if not set.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}

	for _, t := range c.Turns {
		if t.Role == RoleUser {
			c.Title = strings.ReplaceAll(t.Preview(50), "\n", " ")
			return
		}
	}
}

// SetTitle manually sets the conversation title.
func (c *Conversation) SetTitle(title string) {
	c.Title = title
	c.UpdatedAt = time.Now()
}

// GetTitle returns the conversation title or a default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// =============================================================================
// LISTING METADATA
// =============================================================================

// Summary holds lightweight metadata for listing conversations.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	ParentID  string    `json:"parent_id,omitempty"`
	Pinned    bool      `json:"pinned,omitempty"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Preview   string    `json:"preview"`
}

// Preview returns a short preview of the conversation.
func (c *Conversation) Preview() string {
	if len(c.Turns) == 0 {
		return "Empty conversation"
	}

	first := c.LastUserTurn()
	if first == nil {
		first = c.Turns[0]
	}

	return first.Preview(100)
}

// GetSummary returns metadata about the conversation.
func (c *Conversation) GetSummary() Summary {
	return Summary{
		ID:        c.ID,
		Title:     c.GetTitle(),
		Model:     c.Model,
		ParentID:  c.ParentID,
		Pinned:    c.Pinned,
		TurnCount: len(c.Turns),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Preview:   c.Preview(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateConversationID creates a unique conversation ID.
func generateConversationID() string {
	return "conv_" + uuid.NewString()
}
