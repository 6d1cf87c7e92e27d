// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate owns the lifecycle of in-flight generations.
package generate

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/ollamadesk/internal/capability"
	"github.com/jeranaias/ollamadesk/internal/model"
	"github.com/jeranaias/ollamadesk/internal/ollama"
	"github.com/jeranaias/ollamadesk/internal/prompt"
	"github.com/jeranaias/ollamadesk/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrBusy is returned synchronously from Submit when a user-facing session is
// already active for the conversation. It is a rejection, not a fault: the
// first session is unaffected.
var ErrBusy = errors.New("a generation is already running for this conversation")

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Streamer is the slice of the backend client the coordinator needs.
type Streamer interface {
	ChatStream(ctx context.Context, request ollama.ChatRequest, callback ollama.StreamCallback) error
}

// Classifier resolves model capabilities; see the capability package.
type Classifier interface {
	Classify(ctx context.Context, modelID string) capability.Capability
}

// Store is the read/write contract the coordinator relies on for turns. It is
// implemented by the persistence collaborator (internal/storage).
type Store interface {
	LoadConversation(ctx context.Context, id string) (*model.Conversation, error)
	AppendTurn(ctx context.Context, conversationID string, turn *model.Turn) error
	SetTitle(ctx context.Context, conversationID, title string) error
}

// =============================================================================
// OBSERVER
// =============================================================================

// Delta is one read-only notification delivered to observers. It carries the
// increment plus the accumulated totals so far, in strict arrival order.
type Delta struct {
	ThinkingDelta string
	AnswerDelta   string
	Thinking      string // accumulated
	Answer        string // accumulated
}

// Observer receives session lifecycle notifications. Callbacks are invoked
// sequentially from the session's own goroutine, never concurrently, so
// observers need no locking of their own. Nil callbacks are skipped.
//
// OnComplete fires for Completed and Cancelled sessions; the turn is nil when
// a cancel landed before any output and nothing was persisted. OnError fires
// exactly once for Failed sessions.
type Observer struct {
	OnDelta    func(d Delta)
	OnComplete func(turn *model.Turn)
	OnError    func(err error)
}

func (o Observer) delta(d Delta) {
	if o.OnDelta != nil {
		o.OnDelta(d)
	}
}

func (o Observer) complete(turn *model.Turn) {
	if o.OnComplete != nil {
		o.OnComplete(turn)
	}
}

func (o Observer) fail(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator owns every in-flight generation: it starts sessions, feeds
// demultiplexed output to observers, exposes cancellation, and gates the
// operations the rest of the application may perform while a session runs.
type Coordinator struct {
	client     Streamer
	classifier Classifier
	store      Store
	guard      Guard

	// TitleModel generates title suggestions; empty reuses the conversation
	// model.
	titleModel string

	mu     sync.Mutex
	active map[string]*Session // keyed by conversation ID
}

// NewCoordinator creates a coordinator over the given collaborators.
func NewCoordinator(client Streamer, classifier Classifier, store Store, titleModel string) *Coordinator {
	return &Coordinator{
		client:     client,
		classifier: classifier,
		store:      store,
		titleModel: titleModel,
		active:     make(map[string]*Session),
	}
}

// Guard returns the generation guard for gating collaborator actions.
func (c *Coordinator) Guard() *Guard {
	return &c.guard
}

// GenerationActive reports whether any session is in flight.
func (c *Coordinator) GenerationActive() bool {
	return c.guard.Active()
}

// =============================================================================
// SUBMIT / CANCEL
// =============================================================================

// Submit starts a generation for one user turn and returns its session
// handle. It fails fast with ErrBusy when a user-facing session is already
// active for the same conversation; the running session is not altered.
//
// The returned session is already Preparing; deltas flow to obs until a
// terminal state is observed.
func (c *Coordinator) Submit(ctx context.Context, conversationID, userText, imageRef string, reasoningRequested bool, obs Observer) (*Session, error) {
	c.mu.Lock()
	if existing, ok := c.active[conversationID]; ok && !existing.State().Terminal() {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	sess := newSession(conversationID)
	c.active[conversationID] = sess
	c.mu.Unlock()

	c.guard.acquire()

	genCtx, cancel := context.WithCancel(ctx)
	sess.bindCancel(cancel)

	go func() {
		defer c.finish(sess, cancel)
		c.run(genCtx, sess, userText, imageRef, reasoningRequested, obs)
	}()

	return sess, nil
}

// Cancel requests cooperative cancellation of a session: the flag is checked
// between chunk-processing steps and the underlying network read is aborted.
// Partial text accumulated so far is kept. Idempotent; calling Cancel on an
// already-Finalizing or terminal session is a no-op.
func (c *Coordinator) Cancel(sess *Session) {
	if sess == nil {
		return
	}
	sess.requestCancel()
}

// finish releases the guard and retires the session from the active table.
func (c *Coordinator) finish(sess *Session, cancel context.CancelFunc) {
	cancel()
	c.guard.release()

	c.mu.Lock()
	if c.active[sess.conversationID] == sess {
		delete(c.active, sess.conversationID)
	}
	c.mu.Unlock()
}

// =============================================================================
// GENERATION PIPELINE
// =============================================================================

// run drives one session through Preparing → Streaming → Finalizing and into
// a terminal state.
func (c *Coordinator) run(ctx context.Context, sess *Session, userText, imageRef string, reasoningRequested bool, obs Observer) {
	// --- Preparing ---
	conv, err := c.store.LoadConversation(ctx, sess.conversationID)
	if err != nil {
		sess.setState(StateFailed, err)
		obs.fail(err)
		return
	}

	cap := c.classifier.Classify(ctx, conv.Model)
	req, err := prompt.Prepare(conv, userText, imageRef, cap, reasoningRequested)
	if err != nil {
		sess.setState(StateFailed, err)
		log.Warn().Err(err).Str("session", sess.id).Msg("request preparation failed")
		obs.fail(err)
		return
	}
	demux := demuxFor(cap)
	stats := model.NewStatistics()

	// --- Streaming ---
	sess.setState(StateStreaming, nil)
	log.Debug().
		Str("session", sess.id).
		Str("conversation", sess.conversationID).
		Str("model", conv.Model).
		Bool("reasoning", reasoningRequested).
		Msg("generation streaming")

	streamErr := c.client.ChatStream(ctx, req, func(chunk ollama.StreamChunk) {
		if chunk.Done {
			stats.PromptTokens = chunk.PromptTokens
			if chunk.CompletionTokens > 0 {
				stats.CompletionTokens = chunk.CompletionTokens
			}
		}
		c.emit(sess, obs, demux.Feed(chunk.Thinking, chunk.Content), stats)
	})

	// Drain held look-back bytes. A stream truncated inside a reasoning
	// section flushes its tail as reasoning and still completes.
	c.emit(sess, obs, demux.Flush(), stats)

	// --- Finalizing ---
	sess.setState(StateFinalizing, nil)
	stats.Finalize(stats.CompletionTokens)

	switch {
	case sess.CancelRequested():
		c.finalize(ctx, sess, obs, conv, userText, imageRef, stats, StateCancelled, nil)

	case streamErr != nil && !sess.hasOutput():
		// Nothing arrived: surface the error, persist nothing.
		sess.setState(StateFailed, streamErr)
		log.Warn().Err(streamErr).Str("session", sess.id).Msg("generation failed before first chunk")
		obs.fail(streamErr)

	case streamErr != nil:
		// Partial output: keep it, marked as interrupted.
		c.finalize(ctx, sess, obs, conv, userText, imageRef, stats, StateFailed, streamErr)

	default:
		c.finalize(ctx, sess, obs, conv, userText, imageRef, stats, StateCompleted, nil)
	}
}

// emit forwards demultiplexed deltas to the observer with running totals.
func (c *Coordinator) emit(sess *Session, obs Observer, deltas []stream.Delta, stats *model.Statistics) {
	for _, d := range deltas {
		if d.IsZero() {
			continue
		}
		stats.RecordFirstToken()
		thinking, answer := sess.append(d)
		obs.delta(Delta{
			ThinkingDelta: d.Thinking,
			AnswerDelta:   d.Content,
			Thinking:      thinking,
			Answer:        answer,
		})
	}
}

// finalize persists the exchange and drives the session to its terminal
// state. Persistence uses a fresh context: the generation context may already
// be cancelled, but the write must still go through.
func (c *Coordinator) finalize(ctx context.Context, sess *Session, obs Observer, conv *model.Conversation, userText, imageRef string, stats *model.Statistics, terminal State, cause error) {
	// A cancel before any output persists nothing, mirroring the
	// failed-before-first-chunk case. The observer still gets its terminal
	// notification; the nil turn marks that nothing was saved.
	if !sess.hasOutput() && terminal == StateCancelled {
		sess.setState(StateCancelled, nil)
		log.Debug().Str("session", sess.id).Msg("generation cancelled before output")
		obs.complete(nil)
		return
	}

	persistCtx := context.WithoutCancel(ctx)

	userTurn := model.NewUserTurn(userText, imageRef)
	if err := c.store.AppendTurn(persistCtx, sess.conversationID, userTurn); err != nil {
		sess.setState(StateFailed, err)
		obs.fail(err)
		return
	}

	turn := model.NewAssistantTurn()
	turn.AppendThinking(sess.ThinkingText())
	turn.AppendContent(sess.AnswerText())
	turn.FinalizeStream(stats)
	turn.Interrupted = terminal == StateFailed

	if err := c.store.AppendTurn(persistCtx, sess.conversationID, turn); err != nil {
		// The turn stays available in memory for retry; report, don't drop.
		sess.setState(StateFailed, err)
		obs.fail(err)
		return
	}

	sess.setState(terminal, cause)
	log.Debug().
		Str("session", sess.id).
		Str("state", terminal.String()).
		Int("answer_len", len(turn.Content)).
		Int("thinking_len", len(turn.Thinking)).
		Msg("generation finished")

	switch terminal {
	case StateCompleted, StateCancelled:
		obs.complete(turn)
	case StateFailed:
		obs.fail(cause)
	}
}

// demuxFor selects the demultiplexer for the model's reasoning protocol.
// Directive-mode output embeds tags in plain text; everything else is already
// labeled per field.
func demuxFor(cap capability.Capability) stream.Demux {
	if cap.Reasoning == capability.ReasoningDirective {
		return stream.NewTagDemux()
	}
	return stream.NewPassthrough()
}
