// Package faults defines the persistence error taxonomy and the error
// channel that broadcasts failures to subscribers.
package faults

import (
	"errors"
	"fmt"
)

// Code categorizes persistence errors.
type Code string

const (
	// CodeStoreOpen indicates the backing store could not be opened.
	CodeStoreOpen Code = "STORE_OPEN"

	// CodeSchemaMismatch indicates the store was created with a different
	// schema. It is a kind of store-open failure.
	CodeSchemaMismatch Code = "SCHEMA_MISMATCH"

	// CodeBusyLocation indicates the location is already open in this
	// process. It is a kind of store-open failure.
	CodeBusyLocation Code = "BUSY_LOCATION"

	// CodeSave indicates a context failed to propagate its changes.
	CodeSave Code = "SAVE"

	// CodeStoreReset indicates the store could not be destroyed or
	// recreated.
	CodeStoreReset Code = "STORE_RESET"
)

// Error is a persistence failure with its category and origin.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed, e.g. "open" or "commit".
	Op string

	// Role names the tier involved (root, main, scratch), if any.
	Role string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Role != "" && e.Op != "":
		msg = fmt.Sprintf("%s: %s %s", e.Code, e.Role, e.Op)
	case e.Op != "":
		msg = fmt.Sprintf("%s: %s", e.Code, e.Op)
	default:
		msg = string(e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StoreOpen wraps an open failure.
func StoreOpen(op string, err error) *Error {
	return &Error{Code: CodeStoreOpen, Op: op, Err: err}
}

// SchemaMismatch reports a store whose recorded schema hash differs.
func SchemaMismatch(location, want, got string) *Error {
	return &Error{
		Code: CodeSchemaMismatch,
		Op:   "open",
		Err:  fmt.Errorf("%s was created with schema %s, descriptor has %s", location, short(got), short(want)),
	}
}

// BusyLocation reports a second open of the same location.
func BusyLocation(location string) *Error {
	return &Error{
		Code: CodeBusyLocation,
		Op:   "open",
		Err:  fmt.Errorf("%s is already open", location),
	}
}

// Save wraps a save failure on the given tier. An error that is already
// a save error is returned unchanged so causes are not nested per tier.
func Save(role, op string, err error) error {
	var fe *Error
	if errors.As(err, &fe) && fe.Code == CodeSave {
		return err
	}
	return &Error{Code: CodeSave, Op: op, Role: role, Err: err}
}

// StoreReset wraps a reset failure.
func StoreReset(op string, err error) *Error {
	return &Error{Code: CodeStoreReset, Op: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsStoreOpen reports whether err is any store-open failure, including
// schema mismatch and busy location.
func IsStoreOpen(err error) bool {
	switch CodeOf(err) {
	case CodeStoreOpen, CodeSchemaMismatch, CodeBusyLocation:
		return true
	}
	return false
}

// IsSchemaMismatch reports whether err is a schema mismatch on open.
func IsSchemaMismatch(err error) bool {
	return CodeOf(err) == CodeSchemaMismatch
}

// IsBusyLocation reports whether err is a second open of a location.
func IsBusyLocation(err error) bool {
	return CodeOf(err) == CodeBusyLocation
}

// IsSave reports whether err is a save failure.
func IsSave(err error) bool {
	return CodeOf(err) == CodeSave
}

// IsStoreReset reports whether err is a reset failure.
func IsStoreReset(err error) bool {
	return CodeOf(err) == CodeStoreReset
}

func short(hash string) string {
	if hash == "" {
		return "<none>"
	}
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
