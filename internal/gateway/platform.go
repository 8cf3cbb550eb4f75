package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/logging"
)

// SignatureHeader carries the platform's base64 signature over a response body.
const SignatureHeader = "X-Platform-Signature"

// Device is a detected card as reported to the platform.
type Device struct {
	ATR           string `json:"atr"`
	TerminalIndex int    `json:"terminalIndex"`
	TerminalLabel string `json:"terminalLabel"`
	TokenLabel    string `json:"tokenLabel"`
}

// SigningRequest is a document digest the platform wants signed.
type SigningRequest struct {
	ID            string               `json:"id"`
	ATR           string               `json:"atr,omitempty"`
	TerminalLabel string               `json:"terminalLabel,omitempty"`
	KeyAlias      string               `json:"keyAlias,omitempty"`
	Digest        core.DigestAlgorithm `json:"digest"`
	Payload       []byte               `json:"payload"`
}

// SignatureSubmission is the answer to a SigningRequest.
type SignatureSubmission struct {
	RequestID        string               `json:"requestId"`
	Digest           core.DigestAlgorithm `json:"digest"`
	Signature        []byte               `json:"signature"`
	CertificateChain string               `json:"certificateChain"` // PEM
}

// Platform is the signing platform API.
type Platform struct {
	client   *Client
	verifier *Verifier
}

// NewPlatform wraps client. Responses claiming to come from the platform are
// checked with verifier.
func NewPlatform(client *Client, verifier *Verifier) *Platform {
	return &Platform{client: client, verifier: verifier}
}

// PushDevices reports the currently inserted cards.
func (p *Platform) PushDevices(ctx context.Context, cards []core.DetectedCard) error {
	devices := make([]Device, 0, len(cards))
	for _, c := range cards {
		devices = append(devices, Device(c))
	}
	return p.client.Call(ctx, http.MethodPost, "/v1/agent/devices", map[string]any{"devices": devices}, true, nil)
}

// FetchSigningRequest downloads a signing request. The response body must carry a
// valid platform signature; otherwise a KindVerification error is returned.
func (p *Platform) FetchSigningRequest(ctx context.Context, id string) (SigningRequest, error) {
	req, err := p.client.NewRequest(ctx, http.MethodGet, "/v1/agent/requests/"+url.PathEscape(id), nil, false)
	if err != nil {
		return SigningRequest{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return SigningRequest{}, err
	}

	sig, err := base64.StdEncoding.DecodeString(resp.Header.Get(SignatureHeader))
	if err != nil || !p.verifier.Verify(resp.Body, sig) {
		logging.Warn(logging.CatGateway, "Rejected unsigned or tampered signing request", map[string]any{
			"requestId": id,
		})
		return SigningRequest{}, apperr.New(apperr.KindVerification, "gateway.signature_invalid", id)
	}

	var sr SigningRequest
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		return SigningRequest{}, apperr.Wrap(err, apperr.KindDecoding, "gateway.decode_signing_request", id)
	}
	if sr.ID != id {
		return SigningRequest{}, apperr.New(apperr.KindVerification, "gateway.request_id_mismatch", id, sr.ID)
	}
	return sr, nil
}

// SubmitSignature posts a signature for a signing request.
func (p *Platform) SubmitSignature(ctx context.Context, sub SignatureSubmission) error {
	path := "/v1/agent/requests/" + url.PathEscape(sub.RequestID) + "/signature"
	return p.client.Call(ctx, http.MethodPost, path, sub, false, nil)
}
