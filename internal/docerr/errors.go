// Package docerr provides the unified error taxonomy for the collaborative
// document engine: every failure that crosses a session, store, revision, or
// event-bus boundary is represented as a *DocError so the caller can map it
// to a WebSocket close code, an SSE abort, or an HTTP status without string
// matching.
package docerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the category and specific cause of a DocError.
type Code string

const (
	// WebSocket / session protocol errors (1xxx)
	CodeProtocolViolation Code = "WS_1001_PROTOCOL_VIOLATION"
	CodeAuthTimeout       Code = "WS_1002_AUTH_TIMEOUT"
	CodeSlowConsumer      Code = "WS_1003_SLOW_CONSUMER"
	CodeMalformedUpdate   Code = "WS_1004_MALFORMED_UPDATE"
	CodeCapacityExceeded  Code = "WS_1005_CAPACITY_EXCEEDED"
	CodeHeartbeatTimeout  Code = "WS_1006_HEARTBEAT_TIMEOUT"
	CodeInternal          Code = "WS_1007_INTERNAL"
	CodeRateLimited       Code = "WS_1008_RATE_LIMITED"

	// Auth / permission errors (2xxx)
	CodeAuthFailure    Code = "AUTH_2001_FAILURE"
	CodePermissionRead Code = "AUTH_2002_READ_ONLY"
	CodePermissionNone Code = "AUTH_2003_NO_ACCESS"

	// Persistence errors (3xxx)
	CodeStorageUnavailable Code = "STORE_3001_UNAVAILABLE"
	CodeDocumentNotFound   Code = "STORE_3002_NOT_FOUND"
	CodeSnapshotConflict   Code = "STORE_3003_SNAPSHOT_CONFLICT"

	// Revision engine errors (4xxx)
	CodeRevisionNotFound Code = "REV_4001_NOT_FOUND"
	CodeRevisionFailed   Code = "REV_4002_SNAPSHOT_FAILED"
	CodeRestoreFailed    Code = "REV_4003_RESTORE_FAILED"

	// Event bus / SSE errors (5xxx)
	CodeSSEStalled      Code = "BUS_5001_STALLED"
	CodeTopicOverflow   Code = "BUS_5002_SUBSCRIBER_LIMIT"
	CodePublishDropped  Code = "BUS_5003_PUBLISH_DROPPED"
)

// DocError is a structured error carrying a taxonomy code, an HTTP status
// (for REST-adjacent surfaces like SSE subscribe), and a WebSocket close
// code (for session-boundary failures).
type DocError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	CloseCode  int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *DocError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DocError) Unwrap() error {
	return e.Err
}

// WithDetails attaches additional structured context and returns the
// receiver for chaining.
func (e *DocError) WithDetails(key string, value interface{}) *DocError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a DocError with no wrapped cause.
func New(code Code, message string, httpStatus, closeCode int) *DocError {
	return &DocError{Code: code, Message: message, HTTPStatus: httpStatus, CloseCode: closeCode}
}

// Wrap creates a DocError around an underlying cause.
func Wrap(code Code, message string, httpStatus, closeCode int, err error) *DocError {
	return &DocError{Code: code, Message: message, HTTPStatus: httpStatus, CloseCode: closeCode, Err: err}
}

// Session / protocol constructors. Close codes follow RFC 6455 private-use
// range 4000-4999 so clients can distinguish these from standard closes.
const (
	closeProtocolViolation = 4001
	closeAuthTimeout       = 4002
	closeSlowConsumer      = 4003
	closeMalformedUpdate   = 4004
	closeCapacityExceeded  = 4005
	closeHeartbeatTimeout  = 4006
	closeAuthFailure       = 4007
	closeRateLimited       = 4008
)

func ProtocolViolation(reason string) *DocError {
	return New(CodeProtocolViolation, reason, http.StatusBadRequest, closeProtocolViolation)
}

func AuthTimeout() *DocError {
	return New(CodeAuthTimeout, "no Auth frame received within grace period", http.StatusUnauthorized, closeAuthTimeout)
}

func AuthFailure(reason string) *DocError {
	return New(CodeAuthFailure, reason, http.StatusUnauthorized, closeAuthFailure)
}

func SlowConsumer(sessionID string) *DocError {
	return New(CodeSlowConsumer, "outbound queue exceeded after coalesce", http.StatusOK, closeSlowConsumer).
		WithDetails("session_id", sessionID)
}

func MalformedUpdate(err error) *DocError {
	return Wrap(CodeMalformedUpdate, "update payload rejected by CRDT replica", http.StatusBadRequest, closeMalformedUpdate, err)
}

func CapacityExceeded(resource string, limit int) *DocError {
	return New(CodeCapacityExceeded, "resource limit reached", http.StatusServiceUnavailable, closeCapacityExceeded).
		WithDetails("resource", resource).
		WithDetails("limit", limit)
}

func HeartbeatTimeout(misses int) *DocError {
	return New(CodeHeartbeatTimeout, "missed consecutive heartbeats", http.StatusRequestTimeout, closeHeartbeatTimeout).
		WithDetails("misses", misses)
}

func Internal(message string, err error) *DocError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, 1011, err)
}

func RateLimited(sessionID string) *DocError {
	return New(CodeRateLimited, "update rate exceeded", http.StatusTooManyRequests, closeRateLimited).
		WithDetails("session_id", sessionID)
}

// Storage constructors.

func StorageUnavailable(op string, err error) *DocError {
	return Wrap(CodeStorageUnavailable, "persistence layer unavailable", http.StatusServiceUnavailable, closeSlowConsumer, err).
		WithDetails("operation", op)
}

func DocumentNotFound(docID string) *DocError {
	return New(CodeDocumentNotFound, "document not found", http.StatusNotFound, closeProtocolViolation).
		WithDetails("document_id", docID)
}

func SnapshotConflict(docID string) *DocError {
	return New(CodeSnapshotConflict, "snapshot write would discard newer state", http.StatusConflict, 0).
		WithDetails("document_id", docID)
}

// Revision constructors.

func RevisionNotFound(docID string, number int) *DocError {
	return New(CodeRevisionNotFound, "revision not found", http.StatusNotFound, 0).
		WithDetails("document_id", docID).
		WithDetails("revision", number)
}

func RevisionFailed(docID string, err error) *DocError {
	return Wrap(CodeRevisionFailed, "revision snapshot failed", http.StatusInternalServerError, 0, err).
		WithDetails("document_id", docID)
}

func RestoreFailed(docID string, number int, err error) *DocError {
	return Wrap(CodeRestoreFailed, "restore failed", http.StatusInternalServerError, 0, err).
		WithDetails("document_id", docID).
		WithDetails("revision", number)
}

// Event bus / SSE constructors.

func SSEStalled(topic string) *DocError {
	return New(CodeSSEStalled, "subscriber buffer stalled past sse_stall_timeout", http.StatusRequestTimeout, 0).
		WithDetails("topic", topic)
}

func TopicOverflow(topic string, limit int) *DocError {
	return New(CodeTopicOverflow, "topic subscriber limit reached", http.StatusServiceUnavailable, 0).
		WithDetails("topic", topic).
		WithDetails("limit", limit)
}

func PublishDropped(topic string, err error) *DocError {
	return Wrap(CodePublishDropped, "publish handler failed", http.StatusOK, 0, err).
		WithDetails("topic", topic)
}

// Helper functions mirroring errors.As/errors.Is ergonomics.

// IsDocError reports whether err (or any error it wraps) is a *DocError.
func IsDocError(err error) bool {
	var de *DocError
	return errors.As(err, &de)
}

// AsDocError extracts a *DocError from an error chain, or nil.
func AsDocError(err error) *DocError {
	var de *DocError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// HTTPStatus returns the HTTP status code to report for err, defaulting to
// 500 when err is not a *DocError.
func HTTPStatus(err error) int {
	if de := AsDocError(err); de != nil {
		return de.HTTPStatus
	}
	return http.StatusInternalServerError
}
