// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds chat request payloads from conversation state.
package prompt

import (
	"regexp"
	"strings"

	"github.com/jeranaias/ollamadesk/internal/capability"
	"github.com/jeranaias/ollamadesk/internal/ollama"
	"github.com/jeranaias/ollamadesk/internal/util"
)

// =============================================================================
// TITLE SUGGESTION
// =============================================================================

// thinkTagRE strips embedded reasoning spans from answer text before it is
// fed back to the model or shown as a title.
var thinkTagRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// maxExcerpt bounds how much of each message the title prompt quotes.
const maxExcerpt = 200

// titleInstruction is the system prompt for the title follow-up.
const titleInstruction = "Based on the conversation, generate a very short, concise title (maximum 5 words, no quotes). Respond with the title only."

// PrepareTitle builds the request for the automatic title suggestion that
// runs after a conversation's first exchange.
//
// Reasoning is forced off regardless of what the capability allows: a title
// is a latency-sensitive background call and deliberation adds nothing. For
// parameter-mode models the flag is set false; for directive-mode models the
// no-think token is prepended to the user message.
func PrepareTitle(userText, assistantText, titleModel string, cap capability.Capability) ollama.ChatRequest {
	content := "User: " + excerpt(userText) + "\n" +
		"Assistant: " + excerpt(StripThinkTags(assistantText)) + "\n\n" +
		"Title:"

	req := ollama.ChatRequest{Model: titleModel}

	switch cap.Reasoning {
	case capability.ReasoningParameter:
		think := false
		req.Think = &think
	case capability.ReasoningDirective:
		content = NoThinkDirective + "\n" + content
	}

	req.Messages = []ollama.Message{
		ollama.NewSystemMessage(titleInstruction),
		ollama.NewUserMessage(content),
	}
	return req
}

// CleanTitle normalizes a generated title: strips any reasoning spans the
// model emitted anyway, trims wrapping quotes and whitespace, and clamps the
// length for display.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(StripThinkTags(raw))
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	title = strings.ReplaceAll(title, "\n", " ")
	return util.TruncateRunes(title, 50)
}

// FallbackTitle derives a title from the user's message when generation
// fails.
func FallbackTitle(userText string) string {
	return util.TruncateRunes(strings.TrimSpace(userText), 33)
}

// StripThinkTags removes <think>...</think> spans from text.
func StripThinkTags(s string) string {
	return thinkTagRE.ReplaceAllString(s, "")
}

// excerpt truncates text for inclusion in the title prompt.
func excerpt(s string) string {
	return util.TruncateRunesNoEllipsis(strings.TrimSpace(s), maxExcerpt)
}
