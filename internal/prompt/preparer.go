// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds chat request payloads from conversation state.
package prompt

import (
	"encoding/base64"
	"os"

	"github.com/pkg/errors"

	"github.com/jeranaias/ollamadesk/internal/capability"
	"github.com/jeranaias/ollamadesk/internal/model"
	"github.com/jeranaias/ollamadesk/internal/ollama"
)

// =============================================================================
// REASONING DIRECTIVES
// =============================================================================

// Inline control tokens understood by directive-mode model families.
const (
	ThinkDirective   = "/think"
	NoThinkDirective = "/no_think"
)

// =============================================================================
// PREPARER
// =============================================================================

// Prepare constructs the exact request payload for one user turn.
//
// The full ordered turn history is included as role/content pairs; reasoning
// text from prior turns is never resent, only final answer text. Image
// handling is deliberately minimal: when the model supports vision and the
// submission carries an image reference, that single image is read and
// base64-encoded into the current message (the images field is base64-only;
// the opaque reference is what gets persisted, never the payload). Images
// from earlier turns stay in display history but are never resent, bounding
// payload size: the model only ever sees the most recently attached image.
//
// An unreadable image reference is an error: a vision submission silently
// degrading to text-only would be worse than failing it.
func Prepare(conv *model.Conversation, userText, imageRef string, cap capability.Capability, reasoningRequested bool) (ollama.ChatRequest, error) {
	req := ollama.ChatRequest{
		Model:    conv.Model,
		Messages: historyMessages(conv),
	}

	current := ollama.Message{
		Role:    "user",
		Content: userText,
	}

	switch cap.Reasoning {
	case capability.ReasoningParameter:
		// Structured toggle; message text stays untouched.
		think := reasoningRequested
		req.Think = &think

	case capability.ReasoningDirective:
		// Inline token on the current message only, never on history.
		directive := NoThinkDirective
		if reasoningRequested {
			directive = ThinkDirective
		}
		current.Content = directive + "\n" + current.Content
	}

	if cap.Vision && imageRef != "" {
		data, err := encodeImage(imageRef)
		if err != nil {
			return ollama.ChatRequest{}, err
		}
		current.Images = []string{data}
	}

	req.Messages = append(req.Messages, current)
	return req, nil
}

// encodeImage reads the referenced file and returns its base64 payload for
// the request's images field.
func encodeImage(ref string) (string, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", errors.Wrapf(err, "read image %s", ref)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// historyMessages flattens prior turns into backend messages. Only the final
// answer text of each turn is carried; reasoning text and attached images are
// dropped from resent history.
func historyMessages(conv *model.Conversation) []ollama.Message {
	messages := make([]ollama.Message, 0, len(conv.Turns)+1)

	for _, t := range conv.Turns {
		content := t.DisplayContent()
		if content == "" {
			continue
		}

		switch t.Role {
		case model.RoleUser:
			messages = append(messages, ollama.NewUserMessage(content))
		case model.RoleAssistant:
			messages = append(messages, ollama.NewAssistantMessage(content))
		}
	}

	return messages
}
