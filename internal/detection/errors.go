package detection

import (
	"errors"
	"fmt"
)

// Kind classifies how a detection attempt failed. The set is closed so the
// award pipeline can branch exhaustively without inspecting transport
// internals.
type Kind string

const (
	// KindInvalidInput means the request was malformed before any network
	// attempt; the caller must fix the input.
	KindInvalidInput Kind = "invalid_input"
	// KindServiceUnavailable means the area service could not be reached.
	KindServiceUnavailable Kind = "service_unavailable"
	// KindTimeout means the area service did not answer within the bound.
	KindTimeout Kind = "timeout"
	// KindRemoteError means the area service returned a structured error;
	// Detail carries its message verbatim.
	KindRemoteError Kind = "remote_error"
	// KindMalformedResponse means the response did not parse into a Result.
	KindMalformedResponse Kind = "malformed_response"
)

// Error is a detection failure with its classification.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("detection %s: %s", e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("detection %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("detection %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified detection failure.
func NewError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the failure kind from an error chain. Unclassified errors
// report as malformed responses since they violate the client contract.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindMalformedResponse
}
