// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package xerrs defines the error taxonomy shared by the scanner, codec,
// matcher and integration engine so callers can distinguish error classes
// with errors.Is/As instead of parsing message strings.
package xerrs

import (
	"errors"
	"fmt"
)

// Kind identifies one error class from the taxonomy.
type Kind int

const (
	Internal Kind = iota
	NotFound
	AccessDenied
	MalformedHeader
	TruncatedHeader
	UnsupportedFormat
	BadGeometry
	NoMatchingDark
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AccessDenied:
		return "AccessDenied"
	case MalformedHeader:
		return "MalformedHeader"
	case TruncatedHeader:
		return "TruncatedHeader"
	case UnsupportedFormat:
		return "UnsupportedFormat"
	case BadGeometry:
		return "BadGeometry"
	case NoMatchingDark:
		return "NoMatchingDark"
	case Cancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Error wraps an underlying cause with a taxonomy Kind and the path it
// occurred on, if any.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same Kind, so that
// errors.Is(err, xerrs.New(xerrs.NotFound, "", nil)) style matching works.
// A bare Kind is not an error value and cannot be passed to errors.Is;
// KindOf extracts the Kind instead.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a taxonomy error.
func New(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, or
// Internal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
