// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2025.10.12
//

package gopose

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Match with errors.Is.
var (
	// ErrParse is returned for a missing or malformed graph file, or a record referring to
	// a variable key that was never declared.
	ErrParse = errors.New("gopose: parse error")

	// ErrConstruction is returned for an invalid noise sigma, a duplicate or dangling key,
	// or a graph without any prior anchoring it.
	ErrConstruction = errors.New("gopose: invalid graph construction")

	// ErrSingularSystem is returned when the damped normal equations cannot be solved even
	// after the maximum damping escalation.
	ErrSingularSystem = errors.New("gopose: damped system is singular")

	// ErrSingularInformation is returned when the information matrix at the solution is not
	// positive definite for a variable's connected component.
	ErrSingularInformation = errors.New("gopose: information matrix is not positive definite")
)

// ParseError describes a failure while reading a graph file
type ParseError struct {
	Line int    // 1-based line number, 0 when the failure is not tied to a line
	Msg  string // What went wrong
	Err  error  // Underlying cause, if any
}

func (e *ParseError) Error() string {
	s := e.Msg
	if e.Line > 0 {
		s = fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return "gopose: parse error: " + s
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports ErrParse as a match so callers need not know the concrete type.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func newParseError(line int, err error, format string, a ...any) *ParseError {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, a...), Err: err}
}

func constructionErrorf(format string, a ...any) error {
	return errors.Wrapf(ErrConstruction, format, a...)
}
