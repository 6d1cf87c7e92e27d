// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/ollamadesk/internal/capability"
	"github.com/jeranaias/ollamadesk/internal/model"
	"github.com/jeranaias/ollamadesk/internal/ollama"
)

// =============================================================================
// FAKES
// =============================================================================

// scriptedStreamer plays back a fixed chunk sequence. With blockAfter >= 0 it
// delivers that many chunks and then waits for context cancellation.
type scriptedStreamer struct {
	chunks     []ollama.StreamChunk
	err        error
	blockAfter int

	mu      sync.Mutex
	lastReq ollama.ChatRequest
}

func (s *scriptedStreamer) ChatStream(ctx context.Context, req ollama.ChatRequest, cb ollama.StreamCallback) error {
	s.mu.Lock()
	s.lastReq = req
	s.mu.Unlock()

	for i, chunk := range s.chunks {
		if s.blockAfter >= 0 && i == s.blockAfter {
			<-ctx.Done()
			return ctx.Err()
		}
		cb(chunk)
	}
	if s.err != nil {
		return s.err
	}
	if s.blockAfter >= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *scriptedStreamer) request() ollama.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

// staticClassifier returns the same verdict for every model.
type staticClassifier struct {
	verdict capability.Capability
}

func (c staticClassifier) Classify(ctx context.Context, modelID string) capability.Capability {
	c.verdict.Model = modelID
	return c.verdict
}

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	convs     map[string]*model.Conversation
	appendErr error
}

func newMemStore(convs ...*model.Conversation) *memStore {
	s := &memStore{convs: make(map[string]*model.Conversation)}
	for _, c := range convs {
		s.convs[c.ID] = c
	}
	return s
}

func (s *memStore) LoadConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, errors.New("conversation not found")
	}
	return conv.Clone(), nil
}

func (s *memStore) AppendTurn(ctx context.Context, conversationID string, turn *model.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	conv, ok := s.convs[conversationID]
	if !ok {
		return errors.New("conversation not found")
	}
	conv.Turns = append(conv.Turns, turn)
	return nil
}

func (s *memStore) SetTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return errors.New("conversation not found")
	}
	conv.Title = title
	return nil
}

func (s *memStore) turns(conversationID string) []*model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Turn(nil), s.convs[conversationID].Turns...)
}

// waitObserver collects deltas and signals termination.
type waitObserver struct {
	mu     sync.Mutex
	deltas []Delta
	turn   *model.Turn
	err    error
	done   chan struct{}
}

func newWaitObserver() *waitObserver {
	return &waitObserver{done: make(chan struct{})}
}

func (o *waitObserver) observer() Observer {
	return Observer{
		OnDelta: func(d Delta) {
			o.mu.Lock()
			o.deltas = append(o.deltas, d)
			o.mu.Unlock()
		},
		OnComplete: func(turn *model.Turn) {
			o.mu.Lock()
			o.turn = turn
			o.mu.Unlock()
			close(o.done)
		},
		OnError: func(err error) {
			o.mu.Lock()
			o.err = err
			o.mu.Unlock()
			close(o.done)
		},
	}
}

func (o *waitObserver) wait(t *testing.T) {
	t.Helper()
	select {
	case <-o.done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func waitTerminal(t *testing.T, sess *Session) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State().Terminal() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session stuck in state %v", sess.State())
}

func chunk(thinking, content string) ollama.StreamChunk {
	return ollama.StreamChunk{Thinking: thinking, Content: content}
}

func doneChunk(promptTokens, completionTokens int) ollama.StreamChunk {
	return ollama.StreamChunk{Done: true, PromptTokens: promptTokens, CompletionTokens: completionTokens}
}

// =============================================================================
// TESTS
// =============================================================================

func TestSubmitCompletesAndPersists(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{
		blockAfter: -1,
		chunks: []ollama.StreamChunk{
			chunk("let me think", ""),
			chunk("", "the "),
			chunk("", "answer"),
			doneChunk(10, 4),
		},
	}
	coord := NewCoordinator(streamer, staticClassifier{capability.Capability{Reasoning: capability.ReasoningParameter}}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "question", "", true, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.State() != StateCompleted {
		t.Errorf("State() = %v, want completed", sess.State())
	}
	if sess.AnswerText() != "the answer" || sess.ThinkingText() != "let me think" {
		t.Errorf("accumulated = %q / %q", sess.AnswerText(), sess.ThinkingText())
	}

	turns := store.turns(conv.ID)
	if len(turns) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(turns))
	}
	if turns[0].Role != model.RoleUser || turns[0].Content != "question" {
		t.Errorf("user turn = %+v", turns[0])
	}
	if turns[1].Role != model.RoleAssistant || turns[1].Content != "the answer" {
		t.Errorf("assistant turn = %+v", turns[1])
	}
	if turns[1].Thinking != "let me think" {
		t.Errorf("assistant thinking = %q", turns[1].Thinking)
	}
	if turns[1].Interrupted {
		t.Error("completed turn marked interrupted")
	}
	if turns[1].TokenCount != 4 {
		t.Errorf("TokenCount = %d, want 4", turns[1].TokenCount)
	}

	// Deltas arrived in order with accumulated totals.
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.deltas) != 3 {
		t.Fatalf("got %d deltas, want 3", len(obs.deltas))
	}
	last := obs.deltas[len(obs.deltas)-1]
	if last.Answer != "the answer" || last.Thinking != "let me think" {
		t.Errorf("final delta totals = %q / %q", last.Answer, last.Thinking)
	}
}

func TestSubmitDirectiveModeDemuxesTags(t *testing.T) {
	conv := model.NewConversationWithModel("qwq:32b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{
		blockAfter: -1,
		chunks: []ollama.StreamChunk{
			chunk("", "<th"),
			chunk("", "ink>hello wor"),
			chunk("", "ld</think>answer text"),
			doneChunk(0, 0),
		},
	}
	coord := NewCoordinator(streamer, staticClassifier{capability.Capability{Reasoning: capability.ReasoningDirective}}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "q", "", true, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.ThinkingText() != "hello world" {
		t.Errorf("ThinkingText() = %q, want %q", sess.ThinkingText(), "hello world")
	}
	if sess.AnswerText() != "answer text" {
		t.Errorf("AnswerText() = %q, want %q", sess.AnswerText(), "answer text")
	}
}

func TestSubmitUnterminatedReasoningStillCompletes(t *testing.T) {
	conv := model.NewConversationWithModel("qwq:32b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{
		blockAfter: -1,
		chunks: []ollama.StreamChunk{
			chunk("", "<think>cut off mid"),
			doneChunk(0, 0),
		},
	}
	coord := NewCoordinator(streamer, staticClassifier{capability.Capability{Reasoning: capability.ReasoningDirective}}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "q", "", true, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.State() != StateCompleted {
		t.Errorf("State() = %v, want completed", sess.State())
	}
	if sess.ThinkingText() != "cut off mid" {
		t.Errorf("ThinkingText() = %q", sess.ThinkingText())
	}
	turns := store.turns(conv.ID)
	if len(turns) != 2 || turns[1].Thinking != "cut off mid" {
		t.Errorf("persisted turns = %+v", turns)
	}
}

func TestSubmitBusyRejection(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{
		blockAfter: 1,
		chunks:     []ollama.StreamChunk{chunk("", "started")},
	}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")
	obs := newWaitObserver()

	first, err := coord.Submit(context.Background(), conv.ID, "one", "", false, obs.observer())
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	// Wait until the first session has produced output, then double-submit.
	deadline := time.Now().Add(5 * time.Second)
	for first.AnswerText() == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := coord.Submit(context.Background(), conv.ID, "two", "", false, Observer{}); !errors.Is(err, ErrBusy) {
		t.Errorf("second Submit() error = %v, want ErrBusy", err)
	}

	// The first session is unaffected by the rejection.
	if first.State().Terminal() {
		t.Error("rejected submit disturbed the running session")
	}

	coord.Cancel(first)
	obs.wait(t)
	waitTerminal(t, first)

	// After the slot frees, a new submit is accepted.
	streamer2 := &scriptedStreamer{blockAfter: -1, chunks: []ollama.StreamChunk{chunk("", "ok"), doneChunk(0, 0)}}
	coord2obs := newWaitObserver()
	coord.client = streamer2
	if _, err := coord.Submit(context.Background(), conv.ID, "three", "", false, coord2obs.observer()); err != nil {
		t.Errorf("Submit() after completion error = %v", err)
	}
	coord2obs.wait(t)
}

func TestCancelKeepsPartialOutput(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{
		blockAfter: 2,
		chunks:     []ollama.StreamChunk{chunk("", "partial "), chunk("", "text")},
	}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "q", "", false, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for sess.AnswerText() != "partial text" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	coord.Cancel(sess)
	coord.Cancel(sess) // idempotent
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.State() != StateCancelled {
		t.Errorf("State() = %v, want cancelled", sess.State())
	}
	turns := store.turns(conv.ID)
	if len(turns) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(turns))
	}
	if turns[1].Content != "partial text" {
		t.Errorf("partial turn content = %q", turns[1].Content)
	}
}

func TestCancelBeforeOutputPersistsNothing(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{blockAfter: 0}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "q", "", false, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Give the stream a moment to open, then cancel.
	deadline := time.Now().Add(5 * time.Second)
	for sess.State() == StatePreparing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	coord.Cancel(sess)
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.State() != StateCancelled {
		t.Errorf("State() = %v, want cancelled", sess.State())
	}
	if got := len(store.turns(conv.ID)); got != 0 {
		t.Errorf("persisted %d turns, want 0", got)
	}
	// The observer still learned about the terminal state; the nil turn marks
	// that nothing was persisted.
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.turn != nil {
		t.Errorf("OnComplete turn = %+v, want nil", obs.turn)
	}
}

func TestFailureBeforeOutput(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{blockAfter: -1, err: errors.New("connection reset")}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "q", "", false, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.State() != StateFailed {
		t.Errorf("State() = %v, want failed", sess.State())
	}
	if obs.err == nil {
		t.Error("OnError not called")
	}
	if got := len(store.turns(conv.ID)); got != 0 {
		t.Errorf("persisted %d turns, want 0", got)
	}
}

func TestFailureAfterOutputPersistsInterruptedTurn(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{
		blockAfter: -1,
		chunks:     []ollama.StreamChunk{chunk("", "half an ans")},
		err:        errors.New("stream torn down"),
	}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "q", "", false, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.State() != StateFailed {
		t.Errorf("State() = %v, want failed", sess.State())
	}
	turns := store.turns(conv.ID)
	if len(turns) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(turns))
	}
	if turns[1].Content != "half an ans" || !turns[1].Interrupted {
		t.Errorf("partial turn = %+v, want interrupted with partial text", turns[1])
	}
}

func TestGuardActiveDuringGeneration(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{blockAfter: 1, chunks: []ollama.StreamChunk{chunk("", "x")}}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")
	obs := newWaitObserver()

	if coord.GenerationActive() {
		t.Error("GenerationActive() = true before any submit")
	}

	sess, err := coord.Submit(context.Background(), conv.ID, "q", "", false, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !coord.GenerationActive() {
		t.Error("GenerationActive() = false during generation")
	}

	coord.Cancel(sess)
	obs.wait(t)
	waitTerminal(t, sess)

	deadline := time.Now().Add(5 * time.Second)
	for coord.GenerationActive() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if coord.GenerationActive() {
		t.Error("GenerationActive() = true after the session finished")
	}
}

func TestPersistenceFailureReportsError(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	store.appendErr = errors.New("disk full")
	streamer := &scriptedStreamer{
		blockAfter: -1,
		chunks:     []ollama.StreamChunk{chunk("", "fine answer"), doneChunk(0, 0)},
	}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "q", "", false, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.State() != StateFailed {
		t.Errorf("State() = %v, want failed", sess.State())
	}
	if obs.err == nil {
		t.Error("OnError not called for persistence failure")
	}
	// The streamed text is still available in memory.
	if sess.AnswerText() != "fine answer" {
		t.Errorf("AnswerText() = %q", sess.AnswerText())
	}
}

func TestSuggestTitle(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{
		blockAfter: -1,
		chunks:     []ollama.StreamChunk{chunk("", `"Rice Cooking Basics"`), doneChunk(0, 0)},
	}
	coord := NewCoordinator(streamer, staticClassifier{capability.Capability{Reasoning: capability.ReasoningParameter}}, store, "qwen3:0.6b")

	titleCh := make(chan string, 1)
	sess := coord.SuggestTitle(context.Background(), conv.ID, "how do I cook rice", "Rinse it first.", func(title string) {
		titleCh <- title
	})

	if title := <-titleCh; title != "Rice Cooking Basics" {
		t.Errorf("suggested title = %q", title)
	}
	waitTerminal(t, sess)
	if sess.State() != StateCompleted {
		t.Errorf("State() = %v, want completed", sess.State())
	}

	loaded, _ := store.LoadConversation(context.Background(), conv.ID)
	if loaded.Title != "Rice Cooking Basics" {
		t.Errorf("persisted title = %q", loaded.Title)
	}
	// The title model from configuration was used with reasoning off.
	req := streamer.request()
	if req.Model != "qwen3:0.6b" {
		t.Errorf("title request model = %q", req.Model)
	}
	if req.Think == nil || *req.Think {
		t.Error("title request left reasoning on")
	}
}

func TestSuggestTitleFallbackOnError(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{blockAfter: -1, err: errors.New("model crashed")}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")

	titleCh := make(chan string, 1)
	sess := coord.SuggestTitle(context.Background(), conv.ID, "what is the capital of France", "Paris.", func(title string) {
		titleCh <- title
	})

	if title := <-titleCh; title != "what is the capital of France" {
		t.Errorf("suggested title = %q, want the fallback", title)
	}
	waitTerminal(t, sess)
	loaded, _ := store.LoadConversation(context.Background(), conv.ID)
	if loaded.Title != "what is the capital of France" {
		t.Errorf("persisted title = %q", loaded.Title)
	}
}

func TestSuggestTitleCancellable(t *testing.T) {
	conv := model.NewConversationWithModel("qwen3:8b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{blockAfter: 0}
	coord := NewCoordinator(streamer, staticClassifier{}, store, "")

	titleCh := make(chan string, 1)
	sess := coord.SuggestTitle(context.Background(), conv.ID, "how do I cook rice", "Rinse it first.", func(title string) {
		titleCh <- title
	})

	// Wait for the title request to reach the model, then cancel it.
	deadline := time.After(2 * time.Second)
	for sess.State() != StateStreaming {
		select {
		case <-deadline:
			t.Fatal("title session never started streaming")
		case <-time.After(time.Millisecond):
		}
	}
	if !coord.GenerationActive() {
		t.Error("GenerationActive() = false while title request in flight")
	}
	coord.Cancel(sess)

	if title := <-titleCh; title != "" {
		t.Errorf("cancelled title suggestion delivered %q", title)
	}
	waitTerminal(t, sess)
	if sess.State() != StateCancelled {
		t.Errorf("State() = %v, want cancelled", sess.State())
	}
	loaded, _ := store.LoadConversation(context.Background(), conv.ID)
	if loaded.Title != "" {
		t.Errorf("cancelled title suggestion persisted %q", loaded.Title)
	}
	if coord.GenerationActive() {
		t.Error("GenerationActive() = true after title session ended")
	}
}

func TestSubmitUnreadableImageFails(t *testing.T) {
	conv := model.NewConversationWithModel("llava:13b")
	store := newMemStore(conv)
	streamer := &scriptedStreamer{blockAfter: -1}
	coord := NewCoordinator(streamer, staticClassifier{capability.Capability{Vision: true}}, store, "")
	obs := newWaitObserver()

	sess, err := coord.Submit(context.Background(), conv.ID, "what is in this picture", "/nonexistent/photo.png", false, obs.observer())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	obs.wait(t)
	waitTerminal(t, sess)

	if sess.State() != StateFailed {
		t.Errorf("State() = %v, want failed", sess.State())
	}
	if obs.err == nil {
		t.Error("OnError not called for unreadable image")
	}
	if len(store.turns(conv.ID)) != 0 {
		t.Error("failed preparation persisted a turn")
	}
}

func TestStateStringAndTerminal(t *testing.T) {
	if StateCompleted.String() != "completed" || !StateCompleted.Terminal() {
		t.Error("completed state wrong")
	}
	if StateStreaming.Terminal() {
		t.Error("streaming reported terminal")
	}
}
