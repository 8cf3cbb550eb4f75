// Package apperr defines the agent's tagged error type. Every failure that can
// reach a user carries a Kind, a stable message code with formatting parameters,
// and a severity the presentation layer can map to its own dialogs.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the error category, independent of transport or UI.
type Kind string

const (
	KindConfiguration       Kind = "configuration"
	KindUnsupportedKeystore Kind = "unsupported_keystore"
	KindKeystoreNotFound    Kind = "keystore_not_found"
	KindModuleInit          Kind = "module_init"
	KindTokenAccess         Kind = "token_access"
	KindNotFound            Kind = "not_found"
	KindTransport           Kind = "transport"
	KindEncoding            Kind = "encoding"
	KindDecoding            Kind = "decoding"
	KindVerification        Kind = "verification"
	KindInternal            Kind = "internal"
)

// Severity tells the presentation layer how loudly to report the error.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

// MarshalText renders the severity by name in JSON payloads.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// Error is a domain or infrastructure failure with a stable code.
type Error struct {
	Kind     Kind
	Code     string
	Params   []any
	Severity Severity
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
	} else {
		b.WriteString(string(e.Kind))
	}
	if len(e.Params) > 0 {
		parts := make([]string, len(e.Params))
		for i, p := range e.Params {
			parts[i] = fmt.Sprint(p)
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by kind so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind with severity SeverityError.
func New(kind Kind, code string, params ...any) *Error {
	return &Error{Kind: kind, Code: code, Params: params, Severity: SeverityError}
}

// Wrap creates an error of the given kind around a cause.
// If the cause already is an *Error its kind and severity are preserved.
func Wrap(err error, kind Kind, code string, params ...any) *Error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Kind: existing.Kind, Code: code, Params: params, Severity: existing.Severity, Err: err}
	}
	return &Error{Kind: kind, Code: code, Params: params, Severity: SeverityError, Err: err}
}

// WithSeverity returns a copy of e with the given severity.
func (e *Error) WithSeverity(s Severity) *Error {
	cp := *e
	cp.Severity = s
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HasKind reports whether err's chain carries an *Error of the given kind.
func HasKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrTransport     = &Error{Kind: KindTransport}
)
