// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package observeerr defines the error kinds shared by the ingestion,
// session, and query paths, and their HTTP status mapping.
//
// Components return *Error for conditions a caller must act on
// (malformed input, a missing referenced entity, a lifecycle conflict,
// an unknown id, a retryable store failure). Anything else is an
// internal error. Callers inspect kinds with errors.As or IsKind:
//
//	if observeerr.IsKind(err, observeerr.KindConflict) { ... }
package observeerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an Error.
type Kind string

const (
	// KindValidation is malformed input: a missing required field, an
	// unknown enumeration value, an empty or oversized batch.
	KindValidation Kind = "validation"

	// KindReference is a well-formed request naming an entity that
	// does not exist, such as an unknown project.
	KindReference Kind = "reference"

	// KindConflict is a lifecycle violation: starting a session id
	// that already exists, ending a session twice.
	KindConflict Kind = "conflict"

	// KindNotFound is a lookup of an unknown id.
	KindNotFound Kind = "not_found"

	// KindTransientStore is a storage failure that may succeed on
	// retry: write-lock contention, pool exhaustion.
	KindTransientStore Kind = "transient_store"

	// KindConnection is a failed write to a realtime subscriber. It is
	// never returned to API callers.
	KindConnection Kind = "connection"
)

// Error is a classified failure.
type Error struct {
	Kind Kind `json:"kind"`

	// Entity names the object involved ("session", "project 42",
	// "event"). Optional.
	Entity string `json:"entity,omitempty"`

	Message string `json:"message"`

	// Fields lists the offending input fields of a validation error.
	Fields []string `json:"fields,omitempty"`

	// Err is the underlying cause, if any. Not serialized.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	var builder strings.Builder
	builder.WriteString(string(e.Kind))
	if e.Entity != "" {
		builder.WriteString(" (")
		builder.WriteString(e.Entity)
		builder.WriteString(")")
	}
	builder.WriteString(": ")
	builder.WriteString(e.Message)
	if e.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(e.Err.Error())
	}
	return builder.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a KindValidation error listing the invalid fields.
func Validation(fields []string, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Fields: fields}
}

// Reference returns a KindReference error for a missing entity.
func Reference(entity string, format string, args ...any) *Error {
	return &Error{Kind: KindReference, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(entity string, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(entity string, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// TransientStore wraps a retryable storage failure.
func TransientStore(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTransientStore, Message: fmt.Sprintf(format, args...), Err: err}
}

// Connection wraps a subscriber write failure.
func Connection(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConnection, Message: fmt.Sprintf(format, args...), Err: err}
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// IsKind reports whether err's chain holds an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	classified, ok := As(err)
	return ok && classified.Kind == kind
}

// HTTPStatus maps err to a response status. Unclassified errors are
// 500.
func HTTPStatus(err error) int {
	classified, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch classified.Kind {
	case KindValidation, KindReference:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransientStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller should retry with backoff.
func Retryable(err error) bool {
	return IsKind(err, KindTransientStore)
}
