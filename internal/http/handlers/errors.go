// Package handlers – error codes
//
// Stable, machine-readable codes carried in every error envelope. Generic
// codes mirror HTTP semantics; relay-specific ones name the failing
// collaborator so callers can tell "fix your request" from "try later".
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "unroutable",
//	  "message": "no route for routing key: \"106540352242922\""
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Relay-specific:
	ErrCodeMisconfigured       = "misconfigured"
	ErrCodeUnroutable          = "unroutable"
	ErrCodeUnsupportedType     = "unsupported_type"
	ErrCodeUpstreamRejected    = "upstream_rejected"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
)
