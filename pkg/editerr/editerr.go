// Package editerr defines the error taxonomy shared by every edit component.
//
// Errors are classified once, at the point where they are raised (usually the
// Replicate adapter), and carry an explicit Kind. Callers such as the retry
// controller decide what to do by Kind, never by inspecting message text.
package editerr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies an error for retry and reporting decisions.
type Kind int

const (
	KindFatal Kind = iota
	KindValidation
	KindNotFound
	KindTransient
	KindParse
	KindTimeout
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindParse:
		return "parse"
	case KindTimeout:
		return "timeout"
	case KindUnsupported:
		return "unsupported"
	default:
		return "fatal"
	}
}

// Code returns the stable response code used by the tool and HTTP surfaces.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "invalid_parameters"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "service_unavailable"
	case KindParse:
		return "parse_error"
	case KindTimeout:
		return "timeout"
	case KindUnsupported:
		return "unsupported"
	default:
		return "service_error"
	}
}

// Error is the concrete error type for every classified failure.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Details    map[string]interface{}
	StatusCode int
	// RetryAfter is the server-suggested delay, if the service sent one.
	RetryAfter *time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited reports whether the error came from a 429 response.
func (e *Error) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// WithOp returns a copy of e annotated with a logical operation name. An
// existing name is kept as a prefix of the message.
func (e *Error) WithOp(op string) *Error {
	cp := *e
	if cp.Op != "" && cp.Op != op {
		cp.Message = cp.Op + ": " + cp.Message
	}
	cp.Op = op
	return &cp
}

func newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...interface{}) *Error {
	return newf(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...interface{}) *Error {
	return newf(KindNotFound, op, format, args...)
}

func Transient(op, format string, args ...interface{}) *Error {
	return newf(KindTransient, op, format, args...)
}

func Fatal(op, format string, args ...interface{}) *Error {
	return newf(KindFatal, op, format, args...)
}

func Timeout(op, format string, args ...interface{}) *Error {
	return newf(KindTimeout, op, format, args...)
}

func Unsupported(op, format string, args ...interface{}) *Error {
	return newf(KindUnsupported, op, format, args...)
}

// Parse builds a ParseError. It records the cleaned text length and a short
// tail so truncation can be told apart from malformed syntax.
func Parse(label string, cleaned string, cause error) *Error {
	tail := cleaned
	if r := []rune(tail); len(r) > 80 {
		tail = "..." + string(r[len(r)-80:])
	}
	return &Error{
		Kind:    KindParse,
		Op:      label,
		Message: fmt.Sprintf("could not parse structured response (%d chars, tail %q): %v", len(cleaned), tail, cause),
		Details: map[string]interface{}{
			"context": label,
			"length":  len(cleaned),
			"tail":    tail,
		},
		Err: cause,
	}
}

// Wrap classifies an arbitrary error. Already-classified errors keep their
// kind; everything else becomes Fatal.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.WithOp(op)
	}
	return &Error{Kind: KindFatal, Op: op, Message: err.Error(), Err: err}
}

// FromHTTPStatus classifies a non-success response from a remote service.
// Rejected requests (4xx other than 408 and 429) are Fatal, never Validation.
func FromHTTPStatus(op string, status int, body string, retryAfter *time.Duration) *Error {
	e := &Error{
		Op:         op,
		StatusCode: status,
		RetryAfter: retryAfter,
		Message:    fmt.Sprintf("API error (status %d): %s", status, strings.TrimSpace(body)),
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		e.Kind = KindTransient
	case status >= 500:
		e.Kind = KindTransient
	case status == http.StatusPaymentRequired:
		e.Kind = KindFatal
		e.Message = fmt.Sprintf("billing issue (status 402): %s", strings.TrimSpace(body))
	default:
		e.Kind = KindFatal
	}
	return e
}

// ParseRetryAfter parses a Retry-After header given as seconds or an HTTP date.
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// KindOf returns the kind of err, or KindFatal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func IsTransient(err error) bool { return Is(err, KindTransient) }

// IsRateLimited reports whether err carries a rate-limit signal.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.RateLimited()
}

// RetryAfterOf returns the server-suggested delay carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter != nil {
		return *e.RetryAfter, true
	}
	return 0, false
}
