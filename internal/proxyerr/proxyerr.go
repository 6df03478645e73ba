// Package proxyerr declares the error taxonomy shared between the mDNS
// engine, the handler glue, and the response shaper.
//
// Each sentinel represents a *kind*, not a concrete type, matching how the
// handler glue maps errors to DNS response codes: errors.Is is used at the
// boundary, and any lower-level error may be wrapped around one of these
// with %w.
package proxyerr

import "errors"

// ErrMalformedRequest means the transport could not parse the question.
// Surfaced as FORMERR with no records.
var ErrMalformedRequest = errors.New("malformed request")

// ErrOutOfScope means the classifier refused the question. Surfaced as
// NXDOMAIN with no records.
var ErrOutOfScope = errors.New("question out of scope")

// ErrLookupFailure means the mDNS layer returned a transport error (socket
// failure, daemon teardown). Surfaced as SERVFAIL with no records.
var ErrLookupFailure = errors.New("mdns lookup failure")
