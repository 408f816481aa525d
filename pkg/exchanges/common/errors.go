package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrInsufficientCash  = errors.New("insufficient cash")
	ErrNoContract        = errors.New("no matching contract")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPriceUnavailable  = errors.New("price unavailable")
)

// ErrorKind groups broker failures by how the engine reacts to them.
type ErrorKind string

const (
	KindRejected        ErrorKind = "REJECTED"
	KindRateLimited     ErrorKind = "RATE_LIMITED"
	KindUnavailable     ErrorKind = "UNAVAILABLE"
	KindInvalidContract ErrorKind = "INVALID_CONTRACT"
)

// BrokerError wraps a broker failure with its classification.
type BrokerError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, strings.ToLower(string(e.Kind)), e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// Classify maps a raw error to a BrokerError. Already classified errors pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return err
	}
	return &BrokerError{Op: op, Kind: kindOf(err), Err: err}
}

// KindOf returns the classification of err, or "" when err is not a broker error.
func KindOf(err error) ErrorKind {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsUnavailable reports whether err indicates a connectivity problem.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

func kindOf(err error) ErrorKind {
	if errors.Is(err, ErrBrokerUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	if errors.Is(err, ErrNoContract) {
		return KindInvalidContract
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnavailable
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "connection") || strings.Contains(msg, "eof") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return KindUnavailable
	case strings.Contains(msg, "not found") && strings.Contains(msg, "asset"),
		strings.Contains(msg, "invalid contract"), strings.Contains(msg, "not tradable"):
		return KindInvalidContract
	}
	return KindRejected
}
