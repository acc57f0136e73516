package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unknown (session, conversation) pair. Store
// operations return it instead of panicking or inventing state.
var ErrNotFound = errors.New("conversation not found")

// PreconditionError reports a request rejected before any provider call:
// disclaimer not accepted, empty question, unknown model id.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// ProviderError wraps a model-gateway failure (timeout, network, malformed
// response) with the provider model it occurred on.
type ProviderError struct {
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrRetrievalUnavailable marks the retrieval backend as not initialized.
// Callers absorb it and degrade to an empty case list.
var ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

// VerdictParseError reports arbiter output that was not the required JSON
// object. Raw carries the arbiter text as diagnostic detail.
type VerdictParseError struct {
	Raw string
	Err error
}

func (e *VerdictParseError) Error() string {
	return fmt.Sprintf("arbiter verdict not parseable: %v", e.Err)
}

func (e *VerdictParseError) Unwrap() error { return e.Err }
