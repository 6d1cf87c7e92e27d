// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"strings"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role     string   `json:"role"`               // "user", "assistant", "system"
	Content  string   `json:"content"`            // The message content
	Thinking string   `json:"thinking,omitempty"` // Reasoning text (parameter-mode responses)
	Images   []string `json:"images,omitempty"`   // Base64-encoded images for vision models
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`             // Model name (e.g., "qwen3:8b")
	Messages []Message `json:"messages"`          // Conversation history
	Stream   bool      `json:"stream"`            // Enable streaming
	Think    *bool     `json:"think,omitempty"`   // Reasoning toggle for parameter-mode models
	Format   string    `json:"format,omitempty"`  // Response format (e.g., "json")
	Options  *Options  `json:"options,omitempty"` // Model parameters
}

// Options contains model parameters for inference.
type Options struct {
	Temperature   float64 `json:"temperature,omitempty"`    // 0.0-2.0, default 0.8
	TopK          int     `json:"top_k,omitempty"`          // Default 40
	TopP          float64 `json:"top_p,omitempty"`          // 0.0-1.0, default 0.9
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"` // Default 1.1

	NumCtx     int `json:"num_ctx,omitempty"`     // Context window size
	NumPredict int `json:"num_predict,omitempty"` // Max tokens to generate, -1 for unlimited

	Stop []string `json:"stop,omitempty"` // Stop sequences
	Seed int      `json:"seed,omitempty"` // Random seed
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo contains information about a model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ShowModelRequest is the request for /api/show endpoint.
type ShowModelRequest struct {
	Name string `json:"name"`
}

// ShowModelResponse is the response from /api/show endpoint.
// Capabilities lists what the model supports ("completion", "vision",
// "thinking"); ModelInfo carries raw architecture parameters keyed by name.
type ShowModelResponse struct {
	License      string                 `json:"license"`
	Modelfile    string                 `json:"modelfile"`
	Parameters   string                 `json:"parameters"`
	Template     string                 `json:"template"`
	Details      ModelDetails           `json:"details"`
	Capabilities []string               `json:"capabilities,omitempty"`
	ModelInfo    map[string]interface{} `json:"model_info,omitempty"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from a streaming response.
//
// Content and Thinking arrive independently: parameter-mode models populate
// Thinking as a separately labeled field, directive-mode models embed
// reasoning inside Content as <think>...</think> spans.
type StreamChunk struct {
	Content  string
	Thinking string

	// Populated on the final chunk only
	Done               bool
	DoneReason         string
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration
	PromptTokens       int
	CompletionTokens   int

	Model string
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// apiError represents an error body from the Ollama API.
type apiError struct {
	Error string `json:"error"`
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// HasCapability reports whether the capability list contains an entry whose
// name includes the given substring, case-insensitively.
func (r *ShowModelResponse) HasCapability(substr string) bool {
	substr = strings.ToLower(substr)
	for _, c := range r.Capabilities {
		if strings.Contains(strings.ToLower(c), substr) {
			return true
		}
	}
	return false
}
