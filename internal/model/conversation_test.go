// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

func TestAddTurnAutoTitle(t *testing.T) {
	conv := NewConversation()
	conv.AddTurn(NewUserTurn("how do I cook rice\nproperly", ""))

	if strings.Contains(conv.Title, "\n") {
		t.Errorf("title keeps newlines: %q", conv.Title)
	}
	if !strings.HasPrefix(conv.Title, "how do I cook rice") {
		t.Errorf("title = %q", conv.Title)
	}

	// First title sticks.
	conv.AddTurn(NewUserTurn("another question", ""))
	if !strings.HasPrefix(conv.Title, "how do I cook rice") {
		t.Errorf("title changed on later turn: %q", conv.Title)
	}
}

func TestAutoTitleClamped(t *testing.T) {
	conv := NewConversation()
	conv.AddTurn(NewUserTurn(strings.Repeat("q", 200), ""))
	if got := len([]rune(conv.Title)); got > 50 {
		t.Errorf("title length = %d, want <= 50", got)
	}
}

func TestGetTitleDefault(t *testing.T) {
	conv := NewConversation()
	if got := conv.GetTitle(); got != "New Conversation" {
		t.Errorf("GetTitle() = %q", got)
	}
}

func TestLastTurnHelpers(t *testing.T) {
	conv := NewConversation()
	if conv.LastTurn() != nil || conv.LastAssistantTurn() != nil {
		t.Error("helpers returned non-nil on empty conversation")
	}

	user := NewUserTurn("q", "")
	conv.AddTurn(user)
	assistant := NewAssistantTurn()
	assistant.AppendContent("a")
	assistant.FinalizeStream(nil)
	conv.AddTurn(assistant)

	if conv.LastTurn() != assistant {
		t.Error("LastTurn() wrong")
	}
	if conv.LastUserTurn() != user {
		t.Error("LastUserTurn() wrong")
	}
	if conv.LastAssistantTurn() != assistant {
		t.Error("LastAssistantTurn() wrong")
	}
	if conv.TurnCount() != 2 || conv.IsEmpty() {
		t.Error("count helpers wrong")
	}
}

func TestForkCopiesPrefix(t *testing.T) {
	conv := NewConversationWithModel("qwen3:8b")
	for _, content := range []string{"a", "b", "c", "d"} {
		conv.AddTurn(NewUserTurn(content, ""))
	}

	fork := conv.Fork(1)

	if fork.ID == conv.ID {
		t.Error("fork shares ID with parent")
	}
	if fork.ParentID != conv.ID {
		t.Errorf("ParentID = %q", fork.ParentID)
	}
	if fork.Model != "qwen3:8b" {
		t.Errorf("Model = %q", fork.Model)
	}
	if !strings.HasSuffix(fork.Title, " (Fork)") {
		t.Errorf("Title = %q", fork.Title)
	}
	if len(fork.Turns) != 2 {
		t.Fatalf("fork has %d turns, want 2", len(fork.Turns))
	}
	if fork.Turns[0].Content != "a" || fork.Turns[1].Content != "b" {
		t.Errorf("fork contents = %q, %q", fork.Turns[0].Content, fork.Turns[1].Content)
	}
}

func TestForkIsolation(t *testing.T) {
	conv := NewConversation()
	conv.AddTurn(NewUserTurn("original", ""))

	fork := conv.Fork(0)

	// Mutating either side must not leak into the other.
	fork.Turns[0].Content = "changed in fork"
	if conv.Turns[0].Content != "original" {
		t.Error("fork mutation reached the parent")
	}
	conv.AddTurn(NewUserTurn("parent only", ""))
	if len(fork.Turns) != 1 {
		t.Error("parent append reached the fork")
	}
	if fork.Turns[0].ID == conv.Turns[0].ID {
		t.Error("fork turn shares ID with parent turn")
	}
}

func TestForkIndexPastEnd(t *testing.T) {
	conv := NewConversation()
	conv.AddTurn(NewUserTurn("only", ""))

	fork := conv.Fork(10)
	if len(fork.Turns) != 1 {
		t.Errorf("fork has %d turns, want 1", len(fork.Turns))
	}
}

func TestClonePreservesIdentity(t *testing.T) {
	conv := NewConversation()
	conv.AddTurn(NewUserTurn("x", ""))

	clone := conv.Clone()
	if clone.ID != conv.ID {
		t.Error("clone changed conversation ID")
	}
	if clone.Turns[0].ID != conv.Turns[0].ID {
		t.Error("clone changed turn ID")
	}
	clone.Turns[0].Content = "mutated"
	if conv.Turns[0].Content != "x" {
		t.Error("clone shares turn memory with original")
	}
}

func TestGetSummary(t *testing.T) {
	conv := NewConversationWithModel("llava:13b")
	conv.AddTurn(NewUserTurn("what is in this picture", "img_9"))

	sum := conv.GetSummary()
	if sum.ID != conv.ID || sum.Model != "llava:13b" || sum.TurnCount != 1 {
		t.Errorf("GetSummary() = %+v", sum)
	}
	if sum.Preview == "" {
		t.Error("empty preview")
	}
}
