package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrUnknownModel is returned when a table-priced vendor is asked for a model
// missing from the price table.
var ErrUnknownModel = errors.New("unknown model")

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindAuth             ErrorKind = "auth"
	KindRateLimit        ErrorKind = "rate_limit"
	KindNetwork          ErrorKind = "network"
	KindUnsupportedModel ErrorKind = "unsupported_model"
	KindBadResponse      ErrorKind = "bad_response"
	KindCancelled        ErrorKind = "cancelled"
)

// Error is a typed provider failure. A turn that receives one aborts without
// touching the session.
type Error struct {
	Kind   ErrorKind
	Vendor string
	Model  string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s:%s: %s", e.Vendor, e.Model, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on a later attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit || e.Kind == KindNetwork
}

// ConfigError reports an invalid model identifier or vendor setup.
type ConfigError struct {
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid model %q: %s", e.Value, e.Reason)
}

// IsKind reports whether err is a provider error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind == kind
}

// classify converts a vendor client error into a typed error.
func classify(ctx context.Context, vendor, model string, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	e := &Error{Vendor: vendor, Model: model, Err: err}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		e.Kind = KindCancelled
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		e.Kind = KindNetwork
		return e
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		e.Kind = KindNetwork
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "unauthorized", "authentication", "invalid api key", "invalid x-api-key"):
		e.Kind = KindAuth
	case containsAny(msg, "429", "rate limit", "rate_limit", "overloaded", "too many requests"):
		e.Kind = KindRateLimit
	case containsAny(msg, "model_not_found", "does not exist", "unknown model", "not_found_error"):
		e.Kind = KindUnsupportedModel
	case containsAny(msg, "connection refused", "connection reset", "eof", "timeout", "500", "502", "503", "504"):
		e.Kind = KindNetwork
	default:
		e.Kind = KindBadResponse
	}
	return e
}

// kindForStatus maps an HTTP status to an error kind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status == 404:
		return KindUnsupportedModel
	case status >= 500:
		return KindNetwork
	default:
		return KindBadResponse
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
