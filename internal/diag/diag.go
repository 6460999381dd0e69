// Copyright (c) 2024 The Falcon Contributors
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
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package diag implements the three error categories of spec.md §7:
// user-visible compilation errors, not-implemented paths, and internal
// invariant violations. It replaces the teacher's bare utils.Assert/
// utils.Fatal panics with a typed error the top-level driver can recover
// and report without losing the category.
package diag

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// Category distinguishes the three kinds of error spec.md §7 names.
type Category int

const (
	// UserError is a parse or compilation error from the external front end.
	UserError Category = iota
	// NotImplemented is a deliberately unsupported type/dialect/path.
	NotImplemented
	// Internal is an invariant violation: a bug in the core itself.
	Internal
)

func (c Category) String() string {
	switch c {
	case UserError:
		return "error"
	case NotImplemented:
		return "not implemented"
	case Internal:
		return "internal error"
	}
	return "unknown error"
}

// Error is the panic payload every category-2/3 condition raises; Recover
// turns it back into a returnable error at the pipeline boundary.
type Error struct {
	Category Category
	Message  string
	Dump     interface{} // optional: the IR object being processed when this fired
}

func (e *Error) Error() string {
	if e.Dump == nil {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("%s: %s\n%s", e.Category, e.Message, spew.Sdump(e.Dump))
}

// Assert panics with an Internal error if cond is false. This is the
// category-3 "invariant violation" path (e.g. dominator-set
// inconsistencies, a register that cannot be allocated, comparisons
// dispatched to a type with no code pattern).
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(&Error{Category: Internal, Message: fmt.Sprintf(format, args...)})
	}
}

// Fatal raises an Internal error unconditionally, optionally attaching the
// IR node/function under inspection so Recover's caller can dump it.
func Fatal(dump interface{}, format string, args ...interface{}) {
	panic(&Error{Category: Internal, Message: fmt.Sprintf(format, args...), Dump: dump})
}

// Unimplemented raises a category-2 "not implemented" condition (e.g. an
// unsupported assembly dialect, floating point codegen, 64-bit integers on
// a 32-bit target).
func Unimplemented(format string, args ...interface{}) {
	panic(&Error{Category: NotImplemented, Message: fmt.Sprintf(format, args...)})
}

// UserErrorf raises a category-1 user-visible compilation error.
func UserErrorf(format string, args ...interface{}) {
	panic(&Error{Category: UserError, Message: fmt.Sprintf(format, args...)})
}

// Recover converts a panicking *Error into a returned error; any other
// panic value is re-raised, since only diag.Error represents a condition
// this package's callers are prepared to report and exit on (spec.md §7:
// "there is no retry or partial-result recovery").
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(*Error); ok {
		*errp = e
		return
	}
	panic(r)
}
