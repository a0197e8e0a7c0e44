package parser

import (
	"errors"
	"fmt"
)

// Parse failure kinds. Every parser error wraps exactly one of these so
// callers can branch on the taxonomy without knowing the parser.
var (
	// ErrSyntax indicates input that is recognizably the expected format but
	// malformed at a specific position.
	ErrSyntax = errors.New("syntax error")

	// ErrIncomplete indicates input that ends before a required element, such
	// as a truncated report.
	ErrIncomplete = errors.New("incomplete input")

	// ErrUnknownFormat indicates input that does not resemble the expected
	// format at all.
	ErrUnknownFormat = errors.New("unknown format")
)

// ParseError locates a parse failure in the input. Line is 1-based and zero
// when unknown.
type ParseError struct {
	Kind     error
	Line     int
	Fragment string
	Detail   string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%v at line %d: %s", e.Kind, e.Line, e.Detail)
	}

	return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

func syntaxError(line int, fragment, detail string) error {
	return &ParseError{Kind: ErrSyntax, Line: line, Fragment: fragment, Detail: detail}
}

func incompleteError(detail string) error {
	return &ParseError{Kind: ErrIncomplete, Detail: detail}
}

func unknownFormatError(detail string) error {
	return &ParseError{Kind: ErrUnknownFormat, Detail: detail}
}
