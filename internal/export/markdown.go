// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"strings"
	"time"

	"github.com/jeranaias/ollamadesk/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations as human-readable Markdown.
// Markdown export is one-way: reasoning text and image attachments are
// omitted, so the output is not importable.
type MarkdownExporter struct {
	opts *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{opts: opts}
}

// Export renders the conversation as Markdown.
func (e *MarkdownExporter) Export(conv *model.Conversation) ([]byte, error) {
	var sb strings.Builder

	sb.WriteString("# " + conv.GetTitle() + "\n\n")
	if conv.Model != "" {
		sb.WriteString("Model: " + conv.Model + "\n\n")
	}
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, turn := range conv.Turns {
		sb.WriteString("**" + turn.Role.DisplayName() + "**")
		if e.opts.IncludeTimestamps {
			sb.WriteString(" (" + turn.CreatedAt.Format("15:04") + ")")
		}
		sb.WriteString(":\n\n")
		sb.WriteString(turn.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return []byte(sb.String()), nil
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the Markdown MIME type.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}
