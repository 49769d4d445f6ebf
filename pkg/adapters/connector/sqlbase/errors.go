package sqlbase

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/healthsync/connector-engine/pkg/apperrors"
)

// Sanitized messages returned to callers in place of driver text.
const (
	MsgUniqueViolation = "duplicate value violates a unique constraint"
	MsgForeignKey      = "referenced record does not exist"
	MsgTableMissing    = "target table does not exist"
	MsgAuth            = "authentication failed"
	MsgUnreachable     = "database server is unreachable"
	MsgTimeout         = "database operation timed out"
	MsgUnknown         = "database operation failed"
)

// classifyTransport recognizes failures that look the same for every driver.
func classifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return ClassUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassUnreachable
	}
	return ClassUnknown
}

// Classify maps a driver error to its class, letting the dialect decide first.
func Classify(d Dialect, err error) ErrorClass {
	if class := d.ClassifyError(err); class != ClassUnknown {
		return class
	}
	return classifyTransport(err)
}

// Sanitize converts a driver error into an application error that carries no
// driver text. The original error is kept only for connectivity failures, as
// an unwrap target for context errors.
func Sanitize(d Dialect, err error) error {
	if err == nil {
		return nil
	}
	switch Classify(d, err) {
	case ClassUniqueViolation:
		return apperrors.Conflict(MsgUniqueViolation)
	case ClassForeignKeyViolation:
		return apperrors.Validation(MsgForeignKey)
	case ClassTableMissing:
		return apperrors.Validation(MsgTableMissing)
	case ClassAuth:
		return apperrors.Connectivity(apperrors.CategoryAuth, MsgAuth, nil)
	case ClassUnreachable:
		return apperrors.Connectivity(apperrors.CategoryUnreachable, MsgUnreachable, nil)
	case ClassTimeout:
		return apperrors.Connectivity(apperrors.CategoryTimeout, MsgTimeout, context.DeadlineExceeded)
	}
	return errors.New(MsgUnknown)
}

// Category returns the label stored in a TestResult for a failed test.
func Category(class ErrorClass) string {
	switch class {
	case ClassAuth:
		return apperrors.CategoryAuth
	case ClassUnreachable:
		return apperrors.CategoryUnreachable
	case ClassTimeout:
		return apperrors.CategoryTimeout
	}
	return apperrors.CategoryRemote
}

func messageFor(class ErrorClass) string {
	switch class {
	case ClassUniqueViolation:
		return MsgUniqueViolation
	case ClassForeignKeyViolation:
		return MsgForeignKey
	case ClassTableMissing:
		return MsgTableMissing
	case ClassAuth:
		return MsgAuth
	case ClassUnreachable:
		return MsgUnreachable
	case ClassTimeout:
		return MsgTimeout
	}
	return MsgUnknown
}
