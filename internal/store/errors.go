// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Kind classifies store failures.
type Kind int

const (
	// KindOperation is a failed read or write on an initialized store.
	KindOperation Kind = iota
	// KindNotInitialized means the backend could not be opened, or the store
	// has been closed.
	KindNotInitialized
	// KindStorageMissing means the collection does not exist in the backend.
	KindStorageMissing
	// KindNotFound means the key is absent.
	KindNotFound
	// KindExists means Add found the key already present.
	KindExists
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNotInitialized:
		return "not initialized"
	case KindStorageMissing:
		return "storage missing"
	case KindNotFound:
		return "item not found"
	case KindExists:
		return "key exists"
	default:
		return "operation failed"
	}
}

// Error is returned by every store operation.
// It implements the error interface and can be compared using errors.Is
// against the sentinels below, which match on Kind.
type Error struct {
	Kind       Kind
	Op         string
	Collection Collection
	Key        string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "store"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Collection != "" {
		msg += " " + string(e.Collection)
		if e.Key != "" {
			msg += "/" + e.Key
		}
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotInitialized = &Error{Kind: KindNotInitialized}
	ErrStorageMissing = &Error{Kind: KindStorageMissing}
	ErrItemNotFound   = &Error{Kind: KindNotFound}
	ErrKeyExists      = &Error{Kind: KindExists}
)

// ErrSkipWrite may be returned from an UpdateFunc to leave the stored value
// untouched. Update then returns nil.
var ErrSkipWrite = errors.New("store: skip write")

// KindOf reports the Kind of err, or KindOperation for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOperation
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}

func newError(kind Kind, op string, c Collection, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Collection: c, Key: key, Err: err}
}

func opError(op string, c Collection, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return newError(KindOperation, op, c, key, err)
}

func missing(op string, c Collection) error {
	return newError(KindStorageMissing, op, c, "", fmt.Errorf("unknown collection %q", c))
}
