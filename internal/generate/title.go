// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/ollamadesk/internal/ollama"
	"github.com/jeranaias/ollamadesk/internal/prompt"
	"github.com/jeranaias/ollamadesk/internal/stream"
)

// SuggestTitle starts the generation that asks the model for a conversation
// title after the first exchange. It runs on its own goroutine through the
// same session lifecycle as any other generation, so the returned handle can
// be cancelled with Coordinator.Cancel and observed via State. It holds the
// generation guard but does not occupy the per-conversation slot, so the
// next user turn may be submitted while the title request is in flight.
//
// The suggestion path never surfaces errors: a failed or empty suggestion
// falls back to a truncation of the user's text and the conversation is
// titled either way. The result is delivered through onTitle exactly once;
// a cancelled session delivers "".
func (c *Coordinator) SuggestTitle(ctx context.Context, conversationID, userText, assistantText string, onTitle func(title string)) *Session {
	sess := newSession(conversationID)
	c.guard.acquire()

	genCtx, cancel := context.WithCancel(ctx)
	sess.bindCancel(cancel)

	go func() {
		defer func() {
			cancel()
			c.guard.release()
		}()
		c.runTitle(genCtx, sess, userText, assistantText, onTitle)
	}()

	return sess
}

// runTitle drives the title session from Preparing into a terminal state.
func (c *Coordinator) runTitle(ctx context.Context, sess *Session, userText, assistantText string, onTitle func(title string)) {
	deliver := func(title string) {
		if onTitle != nil {
			onTitle(title)
		}
	}

	conv, err := c.store.LoadConversation(ctx, sess.conversationID)
	if err != nil {
		sess.setState(StateFailed, err)
		log.Warn().Err(err).Str("conversation", sess.conversationID).Msg("title suggestion: load failed")
		deliver("")
		return
	}

	titleModel := c.titleModel
	if titleModel == "" {
		titleModel = conv.Model
	}

	cap := c.classifier.Classify(ctx, titleModel)
	req := prompt.PrepareTitle(userText, assistantText, titleModel, cap)

	// No tag demultiplexing: reasoning is forced off and any leaked tags are
	// stripped during cleaning.
	sess.setState(StateStreaming, nil)
	log.Debug().
		Str("session", sess.id).
		Str("conversation", sess.conversationID).
		Str("model", titleModel).
		Msg("title suggestion streaming")

	streamErr := c.client.ChatStream(ctx, req, func(chunk ollama.StreamChunk) {
		sess.append(stream.Delta{Content: chunk.Content})
	})

	sess.setState(StateFinalizing, nil)

	if sess.CancelRequested() {
		sess.setState(StateCancelled, nil)
		log.Debug().Str("session", sess.id).Msg("title suggestion cancelled")
		deliver("")
		return
	}

	title := prompt.CleanTitle(sess.AnswerText())
	if streamErr != nil || title == "" {
		if streamErr != nil {
			log.Warn().Err(streamErr).Str("model", titleModel).Msg("title suggestion failed, using fallback")
		}
		title = prompt.FallbackTitle(userText)
	}
	if title == "" {
		sess.setState(StateCompleted, nil)
		deliver("")
		return
	}

	if err := c.store.SetTitle(context.WithoutCancel(ctx), sess.conversationID, title); err != nil {
		log.Warn().Err(err).Str("conversation", sess.conversationID).Msg("title suggestion: persist failed")
	}
	sess.setState(StateCompleted, nil)
	deliver(title)
}
