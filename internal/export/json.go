// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/ollamadesk/internal/model"
)

// =============================================================================
// DOCUMENT FORMAT
// =============================================================================

// Document is the portable JSON form of a conversation. It carries display
// content only: no database IDs, no streaming state, no statistics, so a
// document written by one installation imports cleanly into any other.
type Document struct {
	ConversationTitle string         `json:"conversationTitle"`
	Turns             []DocumentTurn `json:"turns"`
}

// DocumentTurn is one turn of a Document.
type DocumentTurn struct {
	Role          string    `json:"role"`
	Text          string    `json:"text"`
	ReasoningText string    `json:"reasoningText,omitempty"`
	ImageRef      string    `json:"imageRef,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports conversations as round-trippable JSON documents.
type JSONExporter struct{}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{}
}

// Export converts the conversation to its Document form.
func (e *JSONExporter) Export(conv *model.Conversation) ([]byte, error) {
	doc := Document{
		ConversationTitle: conv.GetTitle(),
		Turns:             make([]DocumentTurn, 0, len(conv.Turns)),
	}

	for _, turn := range conv.Turns {
		doc.Turns = append(doc.Turns, DocumentTurn{
			Role:          turn.Role.String(),
			Text:          turn.Content,
			ReasoningText: turn.Thinking,
			ImageRef:      turn.ImageRef,
			CreatedAt:     turn.CreatedAt,
		})
	}

	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the JSON MIME type.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}

// =============================================================================
// IMPORT
// =============================================================================

// Import parses a Document and reconstructs a conversation with fresh IDs.
// A document exported by Export imports back to an equivalent conversation:
// same title, same turn sequence, same text, reasoning, and image references.
func Import(data []byte) (*model.Conversation, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse document")
	}

	conv := model.NewConversation()
	conv.SetTitle(doc.ConversationTitle)

	for _, dt := range doc.Turns {
		role := model.Role(dt.Role)
		if role != model.RoleUser && role != model.RoleAssistant {
			return nil, errors.Errorf("unknown role %q", dt.Role)
		}

		turn := model.NewTurn(role, dt.Text)
		turn.Thinking = dt.ReasoningText
		turn.ImageRef = dt.ImageRef
		if !dt.CreatedAt.IsZero() {
			turn.CreatedAt = dt.CreatedAt
		}
		conv.Turns = append(conv.Turns, turn)
	}

	return conv, nil
}
