package errs

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// Problem is the JSON body returned to HTTP clients on failure.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

var businessStatus = map[Code]int{
	CodeCartEmpty:            http.StatusBadRequest,
	CodeInsufficientPoints:   http.StatusConflict,
	CodeInsufficientStock:    http.StatusConflict,
	CodePointsExceedTotal:    http.StatusBadRequest,
	CodePaymentRequestFailed: http.StatusBadGateway,
	CodeInvalidRequest:       http.StatusBadRequest,
}

// Describe maps an error to an HTTP status and a client-safe problem body.
// Business failures keep their code; infrastructure failures are reported generically.
func Describe(err error) (int, Problem) {
	var be *BusinessError
	if errors.As(err, &be) {
		status, ok := businessStatus[be.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		return status, Problem{Code: string(be.Code), Message: be.Message}
	}

	switch {
	case errors.Is(err, ErrResourceTimeout):
		return http.StatusServiceUnavailable, Problem{
			Code:      "RESOURCE_TIMEOUT",
			Message:   "the service is busy, please retry shortly",
			Retryable: true,
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, Problem{Code: "NOT_FOUND", Message: "resource not found"}
	case errors.Is(err, ErrAdjustFailed):
		return http.StatusConflict, Problem{Code: "ADJUST_FAILED", Message: "stock adjustment rejected"}
	default:
		return http.StatusInternalServerError, Problem{
			Code:      "INTERNAL",
			Message:   "internal error, please retry later",
			Retryable: true,
		}
	}
}

// HTTPStatus is Describe without the body.
func HTTPStatus(err error) int {
	status, _ := Describe(err)
	return status
}

// WriteProblem writes err as a JSON problem with its mapped status.
func WriteProblem(w http.ResponseWriter, err error) {
	status, p := Describe(err)
	if p.Retryable && status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}
