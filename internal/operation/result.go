package operation

import (
	"encoding/json"
	"errors"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
)

// Status is the variant of a Result. Exactly one is active.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusException     Status = "exception"
	StatusUserCancelled Status = "user_cancelled"
	StatusNoCardPresent Status = "no_card_present"
	StatusNoToken       Status = "no_token"
)

// Result is the outcome of an operation. Payload is set for StatusSuccess,
// Err for StatusException.
type Result struct {
	Status  Status
	Payload any
	Err     error
	Message string
}

// Success wraps a payload.
func Success(payload any) Result {
	return Result{Status: StatusSuccess, Payload: payload}
}

// Exception wraps a failure.
func Exception(err error) Result {
	return Result{Status: StatusException, Err: err, Message: err.Error()}
}

// WithStatus builds a non-exceptional, non-success result.
func WithStatus(status Status, message string) Result {
	return Result{Status: status, Message: message}
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// ErrorInfo is the presentation view of a failed result's cause.
type ErrorInfo struct {
	Kind     apperr.Kind     `json:"kind"`
	Code     string          `json:"code,omitempty"`
	Params   []any           `json:"params,omitempty"`
	Severity apperr.Severity `json:"severity"`
}

// ErrorInfo extracts the message code and severity of the cause, if any.
func (r Result) ErrorInfo() *ErrorInfo {
	if r.Err == nil {
		return nil
	}
	var e *apperr.Error
	if errors.As(r.Err, &e) {
		return &ErrorInfo{Kind: e.Kind, Code: e.Code, Params: e.Params, Severity: e.Severity}
	}
	return &ErrorInfo{Kind: apperr.KindInternal, Severity: apperr.SeverityError}
}

func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status  Status     `json:"status"`
		Payload any        `json:"payload,omitempty"`
		Message string     `json:"message,omitempty"`
		Error   *ErrorInfo `json:"error,omitempty"`
	}{r.Status, r.Payload, r.Message, r.ErrorInfo()})
}
