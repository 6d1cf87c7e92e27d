// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds chat request payloads from conversation state.
//
// Prepare flattens the conversation history and injects the correct
// reasoning-control signal for the target model: a structured boolean for
// parameter-mode models, an inline /think or /no_think token (current message
// only) for directive-mode models, nothing for models without reasoning
// support. The pending image, if any and if the model has vision, is attached
// to the outgoing message; images from earlier turns are never resent.
//
// PrepareTitle builds the follow-up title-suggestion request with reasoning
// forced off in whichever way the model's protocol requires.
package prompt
