// Copyright 2026 The planwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package provider

import "errors"

var (
	// ErrProviderUnreachable indicates the invocation target does not exist.
	ErrProviderUnreachable = errors.New("provider unreachable")

	// ErrProviderTimeout indicates the call exceeded its wall-clock budget.
	ErrProviderTimeout = errors.New("provider timed out")

	// ErrProviderError indicates the provider ran but reported failure.
	ErrProviderError = errors.New("provider returned an error")

	// ErrProviderExhausted indicates quota or cooldown prevented any attempt.
	ErrProviderExhausted = errors.New("no provider available")

	// ErrUnknownProvider indicates an id that is not in the descriptor table.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Request is the payload handed to a provider.
type Request struct {
	// Kind labels the request in logs and the decision log, e.g. "intervention".
	Kind string
	// Prompt is the full text sent to the provider.
	Prompt string
}
