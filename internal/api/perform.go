package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/operation"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PerformRequest names an operation and its arguments. It is the body of
// websocket "perform" messages and of POST /v1/sign.
type PerformRequest struct {
	Kind      string `json:"kind" validate:"required"`
	Card      *int   `json:"card,omitempty" validate:"omitempty,min=0"`
	Alias     string `json:"alias,omitempty" validate:"max=256"`
	Digest    string `json:"digest,omitempty"`
	Data      []byte `json:"data,omitempty"` // base64 in JSON
	RequestID string `json:"requestId,omitempty" validate:"max=128"`
}

// Invocation turns the request into an operation invocation with typed parameters.
func (p PerformRequest) Invocation(label string) (operation.Invocation, error) {
	if err := validate.Struct(p); err != nil {
		return operation.Invocation{}, apperr.Wrap(err, apperr.KindConfiguration, "api.invalid_request")
	}
	kind := operation.Kind(p.Kind)

	card := func() (int, error) {
		if p.Card == nil {
			return 0, apperr.New(apperr.KindConfiguration, "api.missing_field", "card")
		}
		return *p.Card, nil
	}

	switch kind {
	case operation.KindGetCertificate:
		idx, err := card()
		if err != nil {
			return operation.Invocation{}, err
		}
		return operation.NewInvocation(kind, label, idx), nil

	case operation.KindSign:
		idx, err := card()
		if err != nil {
			return operation.Invocation{}, err
		}
		if len(p.Data) == 0 {
			return operation.Invocation{}, apperr.New(apperr.KindConfiguration, "api.missing_field", "data")
		}
		digest := core.SHA256
		if p.Digest != "" {
			if digest, err = core.ParseDigestAlgorithm(p.Digest); err != nil {
				return operation.Invocation{}, apperr.Wrap(err, apperr.KindConfiguration, "api.invalid_digest", p.Digest)
			}
		}
		return operation.NewInvocation(kind, label, idx, p.Alias, digest, p.Data), nil

	case operation.KindProcessRequest:
		if p.RequestID == "" {
			return operation.Invocation{}, apperr.New(apperr.KindConfiguration, "api.missing_field", "requestId")
		}
		return operation.NewInvocation(kind, label, p.RequestID), nil
	}

	// parameterless or unknown kinds; the factory rejects the latter
	return operation.NewInvocation(kind, label), nil
}

// httpStatus maps a result onto the response status of the synchronous endpoints.
func httpStatus(res operation.Result) int {
	switch res.Status {
	case operation.StatusSuccess:
		return http.StatusOK
	case operation.StatusNoCardPresent, operation.StatusNoToken:
		return http.StatusNotFound
	case operation.StatusUserCancelled:
		return http.StatusConflict
	}

	switch apperr.KindOf(res.Err) {
	case apperr.KindConfiguration:
		return http.StatusBadRequest
	case apperr.KindNotFound, apperr.KindKeystoreNotFound:
		return http.StatusNotFound
	case apperr.KindUnsupportedKeystore:
		return http.StatusNotImplemented
	case apperr.KindTransport, apperr.KindVerification:
		return http.StatusBadGateway
	case apperr.KindTokenAccess, apperr.KindModuleInit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
