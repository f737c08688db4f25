// Package errors provides standardized error handling patterns for Sockress.
//
// # Overview
//
// The package implements a three-class error classification system for the
// dual-transport pipeline: Transient (temporary, retryable — the client's
// HTTP-fallback decision rides on this class), Invalid (bad input or
// malformed envelopes, non-retryable), and Fatal (unrecoverable for the
// affected connection or component).
//
// # Error Classification
//
//   - Transient: lost sockets, request timeouts, full offline queues
//   - Invalid: protocol violations, oversized payloads, bad configuration
//   - Fatal: closed clients, rejected upgrade handshakes
//
// Classification integrates with Go's standard error handling, supporting
// errors.Is(), errors.As(), and wrapping chains.
//
// # Error Wrapping Pattern
//
// All wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Client", "send", "socket write")
//	errors.WrapInvalid(err, "Codec", "DecodeEnvelope", "unmarshal frame")
//	errors.WrapFatal(err, "Server", "Start", "bind listener")
//
// # Standard Error Variables
//
// Pre-defined variables cover the framework's failure modes: routing
// (ErrRouteNotFound, ErrNoHandlers), transport (ErrConnectionLost,
// ErrRequestTimeout, ErrTransportUnavailable, ErrUpgradeRejected,
// ErrQueueFull), protocol (ErrSocketProtocol, ErrPayloadTooLarge), and
// lifecycle (ErrAlreadyStarted, ErrClientClosed). Use these instead of
// ad-hoc messages so callers can branch with errors.Is.
//
// StatusCode maps any error to the HTTP status used when it surfaces as a
// terminal response (404 for unmatched routes, 413 for oversized bodies,
// 504 for timeouts, 400 for invalid input, 500 otherwise).
package errors
