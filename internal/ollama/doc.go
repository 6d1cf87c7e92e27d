// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the Ollama
// API.
//
// The client talks to a locally running Ollama server over plain HTTP and
// covers the three endpoints the application needs:
//
//   - GET  /          health check (CheckRunning)
//   - GET  /api/tags  model listing (ListModels)
//   - POST /api/show  model details and capability list (ShowModel)
//   - POST /api/chat  streaming and non-streaming chat (ChatStream, Chat)
//
// # Streaming
//
// ChatStream parses the newline-delimited JSON response and invokes a
// StreamCallback per chunk, in arrival order. Each chunk carries Content and,
// for models that report reasoning as a structured field, Thinking. Timing
// and token statistics arrive on the final chunk and can be folded into a
// StreamStats.
//
// # Errors
//
// All failures are ClientError values categorized by ErrorType, with
// sentinels (ErrNotRunning, ErrTimeout, ErrModelNotFound) usable through
// errors.Is, and helpers IsNotRunning/IsTimeout/IsModelNotFound.
package ollama
