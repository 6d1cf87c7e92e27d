// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream demultiplexes model output into reasoning and answer text.
package stream

import "strings"

// =============================================================================
// DELTA TYPE
// =============================================================================

// Delta is one increment of demultiplexed output. At most one field is set
// per delta except for pass-through chunks that carried both labeled fields.
type Delta struct {
	Thinking string
	Content  string
}

// IsZero returns true if the delta carries no text.
func (d Delta) IsZero() bool {
	return d.Thinking == "" && d.Content == ""
}

// =============================================================================
// DEMUX INTERFACE
// =============================================================================

// Demux splits a live chunk stream into ordered reasoning and answer deltas.
//
// Feed accepts the two fields a backend chunk may carry: a separately labeled
// thinking field (parameter-mode models) and plain content (which, for
// directive-mode models, may embed <think> tagged reasoning at arbitrary
// chunk boundaries). Flush drains whatever is still held once the stream
// ends. A Demux is one-shot: after Flush it accepts no further input, and a
// new stream requires a new instance.
type Demux interface {
	Feed(thinking, content string) []Delta
	Flush() []Delta
}

// =============================================================================
// TAG DEMULTIPLEXER (DIRECTIVE MODE)
// =============================================================================

// Tag literals for directive-mode reasoning. The look-back buffer is bounded
// by the longest tag length minus one: a longer unclassified tail would
// already have been matched or rejected.
const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// demuxState is the explicit scanner state.
type demuxState int

const (
	// stateAnswering scans plain answer text for an opening tag.
	stateAnswering demuxState = iota

	// stateInReasoning scans tag-interior text for the closing tag.
	stateInReasoning

	// stateDrainingTag holds a trailing partial tag match across a chunk
	// boundary; the next Feed re-attempts the match before any text commits.
	stateDrainingTag
)

// TagDemux is the directive-mode demultiplexer: a three-state machine over
// the chunk stream that classifies every byte as reasoning or answer text,
// insensitive to where the backend happens to split chunks.
type TagDemux struct {
	state   demuxState
	resume  demuxState // side DrainingTag returns to
	pending string     // unclassified tail, length < len(closeTag)
	closed  bool
}

// NewTagDemux creates a demultiplexer for tag-embedded reasoning.
func NewTagDemux() *TagDemux {
	return &TagDemux{state: stateAnswering}
}

// Feed consumes one raw chunk and returns the deltas it commits, in order.
// A labeled thinking field is passed through even in tag mode; directive
// models do not normally send one.
func (d *TagDemux) Feed(thinking, content string) []Delta {
	if d.closed {
		return nil
	}

	var out []Delta
	if thinking != "" {
		out = append(out, Delta{Thinking: thinking})
	}
	if content == "" {
		return out
	}

	buf := d.pending + content
	d.pending = ""
	if d.state == stateDrainingTag {
		d.state = d.resume
	}

	for buf != "" {
		switch d.state {
		case stateAnswering:
			if i := strings.Index(buf, openTag); i >= 0 {
				if i > 0 {
					out = append(out, Delta{Content: buf[:i]})
				}
				buf = buf[i+len(openTag):]
				d.state = stateInReasoning
				continue
			}
			buf = d.hold(buf, openTag, stateAnswering, &out)

		case stateInReasoning:
			if i := strings.Index(buf, closeTag); i >= 0 {
				if i > 0 {
					out = append(out, Delta{Thinking: buf[:i]})
				}
				buf = buf[i+len(closeTag):]
				d.state = stateAnswering
				continue
			}
			buf = d.hold(buf, closeTag, stateInReasoning, &out)
		}
	}

	return out
}

// hold emits everything in buf except a trailing partial match of tag, which
// is retained for the next chunk. Returns the (always empty) remaining buffer.
func (d *TagDemux) hold(buf, tag string, side demuxState, out *[]Delta) string {
	keep := partialTagSuffix(buf, tag)
	emit := buf[:len(buf)-keep]
	if emit != "" {
		if side == stateInReasoning {
			*out = append(*out, Delta{Thinking: emit})
		} else {
			*out = append(*out, Delta{Content: emit})
		}
	}
	if keep > 0 {
		d.pending = buf[len(buf)-keep:]
		d.resume = side
		d.state = stateDrainingTag
	}
	return ""
}

// Flush terminates the stream and drains the held tail. A stream that ends
// inside a reasoning section flushes the tail as reasoning text: truncated
// model output preserves partial reasoning rather than discarding it.
func (d *TagDemux) Flush() []Delta {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.pending == "" {
		return nil
	}

	tail := d.pending
	d.pending = ""

	side := d.state
	if side == stateDrainingTag {
		side = d.resume
	}
	if side == stateInReasoning {
		return []Delta{{Thinking: tail}}
	}
	return []Delta{{Content: tail}}
}

// InReasoning reports whether the scanner is currently inside a tag pair.
func (d *TagDemux) InReasoning() bool {
	if d.state == stateDrainingTag {
		return d.resume == stateInReasoning
	}
	return d.state == stateInReasoning
}

// partialTagSuffix returns the length of the longest proper prefix of tag
// that is a suffix of s. This is the look-back bound: at most len(tag)-1
// bytes stay unclassified across a chunk boundary.
func partialTagSuffix(s, tag string) int {
	max := len(tag) - 1
	if len(s) < max {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}

// =============================================================================
// PASS-THROUGH DEMULTIPLEXER (PARAMETER MODE)
// =============================================================================

// Passthrough is the parameter-mode demultiplexer. The backend already labels
// reasoning and answer as separate fields per chunk, so no tag scanning
// occurs; each field forwards to the corresponding delta unchanged.
type Passthrough struct {
	closed bool
}

// NewPassthrough creates a pass-through demultiplexer.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// Feed forwards labeled fields as a single delta.
func (p *Passthrough) Feed(thinking, content string) []Delta {
	if p.closed || (thinking == "" && content == "") {
		return nil
	}
	return []Delta{{Thinking: thinking, Content: content}}
}

// Flush terminates the stream. Nothing is ever held back.
func (p *Passthrough) Flush() []Delta {
	p.closed = true
	return nil
}
