// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate owns the lifecycle of in-flight generations.
package generate

import "sync"

// =============================================================================
// GENERATION GUARD
// =============================================================================

// Guard is the single gate consulted by actions that must not run while a
// generation is in flight: conversation switch, new-conversation creation,
// import, model change, model-list refresh. Composing the next message,
// reading history, and cancelling stay allowed regardless.
//
// The guard is owned by the Coordinator; collaborators hold a reference and
// query Active rather than tracking their own booleans.
type Guard struct {
	mu     sync.Mutex
	active int
}

// Active reports whether any generation session is currently in a non-terminal
// state (Preparing, Streaming, or Finalizing).
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active > 0
}

// acquire marks one session in flight.
func (g *Guard) acquire() {
	g.mu.Lock()
	g.active++
	g.mu.Unlock()
}

// release marks one session finished.
func (g *Guard) release() {
	g.mu.Lock()
	if g.active > 0 {
		g.active--
	}
	g.mu.Unlock()
}
