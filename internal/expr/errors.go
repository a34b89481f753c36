// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

// Error is a constant error kind. Kinds are wrapped with context when
// returned, use errors.Is to test for them.
type Error string

func (err Error) Error() string { return string(err) }

const (
	ErrDuplicateIdentifier Error = "duplicate parameter identifier"
	ErrUnknownParameter    Error = "unknown parameter"
	ErrTypeMismatch        Error = "parameter type mismatch"
	ErrUnboundParameter    Error = "unbound parameter"
	ErrEmptySequence       Error = "empty sequence"
	ErrTooManyParams       Error = "too many parameters"
)
