// Package services holds the relay's core: session provisioning, the inbound
// relay orchestrator and bot reply dispatch. This file centralizes the error
// taxonomy so handlers and tests can branch with errors.Is.
//
// Propagation policy:
//   - ErrMalformedEvent: acknowledged to the webhook source, never retried.
//   - ErrUnroutable: logged and dropped.
//   - ErrDuplicateCredential: recovered inside the provisioner by re-reading.
//   - ErrCredentialNotFound: a touch hit a missing row; provisioning is needed.
//   - ErrTransientTransport: the dedup entry is released so a redelivery can
//     try again.
//   - ErrAuth: surfaced after one token refresh and retry.
package services

import "errors"

var (
	// ErrMalformedEvent indicates an inbound event lacking id, sender or routing key.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnroutable indicates that no bot route exists for the routing key.
	ErrUnroutable = errors.New("no route for routing key")

	// ErrDuplicateCredential indicates a concurrent provisioner created the
	// credential first.
	ErrDuplicateCredential = errors.New("credential already exists")

	// ErrCredentialNotFound indicates a credential that was expected to exist
	// is absent.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrTransientTransport indicates a timeout, network error, throttling or
	// 5xx from an outbound call.
	ErrTransientTransport = errors.New("transient transport failure")

	// ErrAuth indicates that the bot gateway or the Cloud API rejected our
	// credentials.
	ErrAuth = errors.New("transport authentication failed")

	// ErrRejected indicates that an outbound call was refused for good (4xx).
	ErrRejected = errors.New("transport rejected request")

	// ErrInvalidReply indicates a bot reply with missing or inconsistent fields.
	ErrInvalidReply = errors.New("invalid bot reply")

	// ErrUnsupportedReply indicates a bot reply type the renderer cannot map.
	ErrUnsupportedReply = errors.New("unsupported bot reply type")
)
