package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotEligible       = errors.New("not eligible to respond")
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrLastAdmin         = errors.New("cannot revoke the last admin")
	ErrBusy              = errors.New("busy, try again later")

	// ErrDispatch wraps a transport failure for a single recipient.
	ErrDispatch = errors.New("dispatch failed")
)

// DispatchError carries the recipient of a failed send.
type DispatchError struct {
	UserID UserID
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %d: %v", e.UserID, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrDispatch, e.Err} }

func NewDispatchError(uid UserID, err error) error {
	return &DispatchError{UserID: uid, Err: err}
}
