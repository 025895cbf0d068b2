// internal/pkg/errs/errs.go
package errs

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Infrastructure and consistency failures. Business failures are BusinessError values below.
var (
	ErrResourceTimeout   = errors.New("resource timeout")
	ErrReservedUnderflow = errors.New("reserved underflow")
	ErrAdjustFailed      = errors.New("adjust failed")
	ErrSagaFailed        = errors.New("saga failed")
	ErrPublishFailed     = errors.New("publish failed")
	ErrNotFound          = errors.New("not found")
)

// Code is a stable, client-facing business error code.
type Code string

const (
	CodeCartEmpty            Code = "CART_EMPTY"
	CodeInsufficientPoints   Code = "INSUFFICIENT_POINTS"
	CodeInsufficientStock    Code = "INSUFFICIENT_STOCK"
	CodePointsExceedTotal    Code = "POINTS_EXCEED_TOTAL"
	CodePaymentRequestFailed Code = "PAYMENT_REQUEST_FAILED"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
)

// BusinessError is a user-visible failure of the workflow. Two BusinessErrors match
// under errors.Is when their codes are equal, so callers can compare against the
// package-level values regardless of the message.
type BusinessError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *BusinessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error { return e.Cause }

func (e *BusinessError) Is(target error) bool {
	t, ok := target.(*BusinessError)
	return ok && t.Code == e.Code
}

// With returns a copy of the business error carrying a more specific message and cause.
func (e *BusinessError) With(msg string, cause error) *BusinessError {
	return &BusinessError{Code: e.Code, Message: msg, Cause: cause}
}

var (
	ErrCartEmpty            = &BusinessError{Code: CodeCartEmpty, Message: "cart is empty"}
	ErrInsufficientPoints   = &BusinessError{Code: CodeInsufficientPoints, Message: "insufficient points"}
	ErrInsufficientStock    = &BusinessError{Code: CodeInsufficientStock, Message: "insufficient stock"}
	ErrPointsExceedTotal    = &BusinessError{Code: CodePointsExceedTotal, Message: "points exceed order total"}
	ErrPaymentRequestFailed = &BusinessError{Code: CodePaymentRequestFailed, Message: "payment request failed"}
	ErrInvalidRequest       = &BusinessError{Code: CodeInvalidRequest, Message: "invalid request"}
)

// TimeoutError is raised when a lock or a correlated reply is not obtained in time.
type TimeoutError struct {
	Resource string
	Wait     time.Duration
	Cause    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Wait, e.Resource)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrResourceTimeout }

func (e *TimeoutError) Unwrap() error { return e.Cause }

// CompensationFailure records one undo action that could not be completed.
type CompensationFailure struct {
	Name string
	Err  error
}

// SagaError wraps the step failure that aborted a saga, after compensation ran.
type SagaError struct {
	SagaID string
	Cause  error
	Failed []CompensationFailure
}

func (e *SagaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "saga %s failed: %v", e.SagaID, e.Cause)
	if len(e.Failed) > 0 {
		names := make([]string, 0, len(e.Failed))
		for _, f := range e.Failed {
			names = append(names, f.Name)
		}
		fmt.Fprintf(&b, " (unreverted: %s)", strings.Join(names, ", "))
	}
	return b.String()
}

func (e *SagaError) Is(target error) bool { return target == ErrSagaFailed }

func (e *SagaError) Unwrap() error { return e.Cause }
