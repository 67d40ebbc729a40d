package directory

import (
	"errors"
	"fmt"
)

var (
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	ErrDeleteFailed         = errors.New("delete failed")
	ErrUserNotFound         = errors.New("user not found")
)

// UnavailableError reports a read or update that did not succeed. Status is zero when the
// request never got a response (timeout, connection refused).
type UnavailableError struct {
	Op     string
	Status int
	Cause  error
}

func (e *UnavailableError) Error() string {
	msg := "directory " + e.Op
	if e.Status > 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *UnavailableError) Is(target error) bool { return target == ErrDirectoryUnavailable }
func (e *UnavailableError) Unwrap() error        { return e.Cause }
func (e *UnavailableError) StatusCode() int      { return e.Status }

// DeleteFailedError is a delete that neither succeeded nor hit a 404.
type DeleteFailedError struct {
	UserID string
	Status int
	Body   string
	Cause  error
}

func (e *DeleteFailedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("delete user %s: status %d: %s", e.UserID, e.Status, e.Body)
	}
	return fmt.Sprintf("delete user %s: %v", e.UserID, e.Cause)
}

func (e *DeleteFailedError) Is(target error) bool { return target == ErrDeleteFailed }
func (e *DeleteFailedError) Unwrap() error        { return e.Cause }
func (e *DeleteFailedError) StatusCode() int      { return e.Status }
