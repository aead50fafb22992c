package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies a rejection
type Kind string

const (
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindBusy          Kind = "busy"
	KindNotFound      Kind = "not_found"
)

// Machine-readable rejection reasons
const (
	ReasonInvalidInput    = "invalid_input"
	ReasonBelowMinimum    = "amount_below_minimum"
	ReasonNotStarted      = "not_started"
	ReasonExpired         = "expired"
	ReasonClosed          = "closed"
	ReasonCancelled       = "cancelled"
	ReasonSellerCannotBid = "seller_cannot_bid"
	ReasonNotSeller       = "not_seller"
	ReasonBidsExist       = "bids exist"
	ReasonVersionConflict = "version_conflict"
	ReasonGateTimeout     = "gate_timeout"
	ReasonAuctionNotFound = "auction_not_found"
)

// RejectionError is returned synchronously for every refused operation.
// MinimumRequired is set for amount and conflict rejections so the caller
// can resubmit without fetching the auction again.
type RejectionError struct {
	Kind            Kind
	Reason          string
	Detail          string
	MinimumRequired *decimal.Decimal
}

func (e *RejectionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.MinimumRequired != nil {
		msg += ", minimum required " + e.MinimumRequired.String()
	}
	return msg
}

// Is matches sentinels by kind, and by reason when the sentinel has one
func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Retryable reports whether resubmitting the same request can succeed
func (e *RejectionError) Retryable() bool {
	return e.Kind == KindConflict || e.Kind == KindBusy
}

var (
	ErrValidation    = &RejectionError{Kind: KindValidation}
	ErrState         = &RejectionError{Kind: KindState}
	ErrAuthorization = &RejectionError{Kind: KindAuthorization}
	ErrConflict      = &RejectionError{Kind: KindConflict}
	ErrBusy          = &RejectionError{Kind: KindBusy}
	ErrNotFound      = &RejectionError{Kind: KindNotFound}

	ErrExpired   = &RejectionError{Kind: KindState, Reason: ReasonExpired}
	ErrBidsExist = &RejectionError{Kind: KindState, Reason: ReasonBidsExist}
)

// IsRetryable reports whether err is a conflict or busy rejection
func IsRetryable(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej) && rej.Retryable()
}

// AsRejection extracts a RejectionError from err
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	ok := errors.As(err, &rej)
	return rej, ok
}

func reject(kind Kind, reason string) *RejectionError {
	return &RejectionError{Kind: kind, Reason: reason}
}

func invalid(format string, args ...any) *RejectionError {
	return &RejectionError{Kind: KindValidation, Reason: ReasonInvalidInput, Detail: fmt.Sprintf(format, args...)}
}

func withMinimum(kind Kind, reason string, min decimal.Decimal) *RejectionError {
	return &RejectionError{Kind: kind, Reason: reason, MinimumRequired: &min}
}

func notFound() *RejectionError {
	return reject(KindNotFound, ReasonAuctionNotFound)
}
