// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate owns the lifecycle of in-flight generations.
package generate

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/ollamadesk/internal/stream"
)

// =============================================================================
// SESSION STATE
// =============================================================================

// State is the lifecycle state of a generation session.
type State int

const (
	StatePreparing State = iota
	StateStreaming
	StateFinalizing
	StateCompleted
	StateCancelled
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the handle for one in-flight generation. It is created by
// Coordinator.Submit and owned by the coordinator; observers receive
// read-only delta notifications, never the session's internals.
type Session struct {
	id             string
	conversationID string

	mu              sync.Mutex
	state           State
	cancelRequested bool
	cancel          context.CancelFunc
	answer          strings.Builder
	thinking        strings.Builder
	err             error
}

func newSession(conversationID string) *Session {
	return &Session{
		id:             "gen_" + uuid.NewString(),
		conversationID: conversationID,
		state:          StatePreparing,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ConversationID returns the conversation this session generates into.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// AnswerText returns the answer text accumulated so far.
func (s *Session) AnswerText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer.String()
}

// ThinkingText returns the reasoning text accumulated so far.
func (s *Session) ThinkingText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thinking.String()
}

// CancelRequested reports whether cancellation has been requested.
func (s *Session) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

// =============================================================================
// INTERNAL MUTATION (coordinator only)
// =============================================================================

// bindCancel attaches the context cancel for the session's network work.
func (s *Session) bindCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// setState transitions the session; terminal states also record err.
func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	if err != nil {
		s.err = err
	}
	s.mu.Unlock()
}

// append accumulates one demultiplexed delta and returns the running totals.
func (s *Session) append(d stream.Delta) (thinking, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thinking.WriteString(d.Thinking)
	s.answer.WriteString(d.Content)
	return s.thinking.String(), s.answer.String()
}

// hasOutput reports whether any content arrived.
func (s *Session) hasOutput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer.Len() > 0 || s.thinking.Len() > 0
}

// requestCancel aborts the in-flight network operation. Idempotent; a no-op
// once the session is Finalizing or terminal, because at that point the
// stream has already ended and partial text is being persisted.
func (s *Session) requestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelRequested || s.state == StateFinalizing || s.state.Terminal() {
		return
	}
	s.cancelRequested = true
	if s.cancel != nil {
		s.cancel()
	}
}
