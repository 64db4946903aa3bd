// Package apperr defines the small error taxonomy surfaced to callers.
//
// Errors are gRPC status errors so they keep a stable code while wrapped;
// the wire form uses the kebab-case names clients already depend on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type wireCode struct {
	code       string
	status     string
	httpStatus int
}

var wireCodes = map[codes.Code]wireCode{
	codes.Unauthenticated:    {"unauthenticated", "UNAUTHENTICATED", http.StatusUnauthorized},
	codes.InvalidArgument:    {"invalid-argument", "INVALID_ARGUMENT", http.StatusBadRequest},
	codes.PermissionDenied:   {"permission-denied", "PERMISSION_DENIED", http.StatusForbidden},
	codes.FailedPrecondition: {"failed-precondition", "FAILED_PRECONDITION", http.StatusPreconditionFailed},
	codes.Internal:           {"internal", "INTERNAL", http.StatusInternalServerError},
}

// Unauthenticated reports a missing caller identity.
func Unauthenticated(msg string) error {
	return status.Error(codes.Unauthenticated, msg)
}

// InvalidArgument reports a caller-correctable validation failure.
func InvalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// PermissionDenied reports an authorization failure.
func PermissionDenied(msg string) error {
	return status.Error(codes.PermissionDenied, msg)
}

// FailedPrecondition reports a business-rule violation.
func FailedPrecondition(format string, args ...any) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}

// Internal wraps an unexpected failure. Errors that already carry a
// taxonomy code are returned unchanged.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := known(err); ok {
		return err
	}
	return status.Errorf(codes.Internal, "internal error: %s", err.Error())
}

// Is reports whether err carries the given code.
func Is(err error, code codes.Code) bool {
	c, ok := known(err)
	return ok && c == code
}

// Code returns the kebab-case wire code for err; unknown errors are "internal".
func Code(err error) string {
	return lookup(err).code
}

// StatusName returns the upper-snake status name for err.
func StatusName(err error) string {
	return lookup(err).status
}

// HTTPStatus maps err to the HTTP status used by the callable transport.
func HTTPStatus(err error) int {
	return lookup(err).httpStatus
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if st, ok := status.FromError(err); ok {
		return st.Message()
	}
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus().Message()
	}
	return err.Error()
}

// Errorf is a convenience for building a coded error from a format string.
func Errorf(code codes.Code, format string, args ...any) error {
	if _, ok := wireCodes[code]; !ok {
		panic(fmt.Sprintf("apperr: unsupported code %s", code))
	}
	return status.Errorf(code, format, args...)
}

func known(err error) (codes.Code, bool) {
	if err == nil {
		return codes.OK, false
	}
	var se interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &se) {
		return codes.Unknown, false
	}
	c := se.GRPCStatus().Code()
	_, ok := wireCodes[c]
	return c, ok
}

func lookup(err error) wireCode {
	if c, ok := known(err); ok {
		return wireCodes[c]
	}
	return wireCodes[codes.Internal]
}
