// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generate coordinates streaming generations.
//
// A Coordinator owns one Session per in-flight generation. The session moves
// through Preparing, Streaming, and Finalizing into exactly one terminal
// state (Completed, Cancelled, or Failed), and observers receive its output
// as ordered deltas with accumulated totals. At most one user-facing session
// runs per conversation; a second Submit is rejected with ErrBusy.
//
// The package-level Guard answers "is anything generating right now" for the
// operations that must not run concurrently with a generation, such as
// switching conversations or changing the model.
package generate
