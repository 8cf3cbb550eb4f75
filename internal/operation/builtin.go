package operation

import (
	"context"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/gateway"
	"github.com/SimplyPrint/sign-agent/internal/keystore"
	"github.com/SimplyPrint/sign-agent/internal/registry"
)

// CertificateResult is the payload of get_certificate.
type CertificateResult struct {
	Card             core.DetectedCard      `json:"card"`
	API              core.ScAPI             `json:"api"`
	KeyAlias         string                 `json:"keyAlias"`
	CertificateChain string                 `json:"certificateChain"`
	SupportedDigests []core.DigestAlgorithm `json:"supportedDigests"`
}

// SignatureResult is the payload of sign and process_request.
type SignatureResult struct {
	RequestID        string               `json:"requestId,omitempty"`
	Card             core.DetectedCard    `json:"card"`
	KeyAlias         string               `json:"keyAlias"`
	Digest           core.DigestAlgorithm `json:"digest"`
	Signature        []byte               `json:"signature"`
	CertificateChain string               `json:"certificateChain"`
}

// SyncResult is the payload of sync_devices.
type SyncResult struct {
	Devices int `json:"devices"`
}

func noCard() Result  { return WithStatus(StatusNoCardPresent, "no card present") }
func noToken() Result { return WithStatus(StatusNoToken, "no keystore could open the card") }

type listCards struct{ deps *Deps }

func buildListCards(d *Deps, _ []any) (Operation, error) { return listCards{deps: d}, nil }

func (o listCards) Kind() Kind { return KindListCards }

func (o listCards) Execute(ctx context.Context) (Result, error) {
	cards, err := o.deps.detect()
	if err != nil {
		return Result{}, err
	}
	if len(cards) == 0 {
		return noCard(), nil
	}
	return Success(cards), nil
}

type getCertificate struct {
	deps      *Deps
	cardIndex int
}

func buildGetCertificate(d *Deps, params []any) (Operation, error) {
	idx, err := param[int](KindGetCertificate, params, 0)
	if err != nil {
		return nil, err
	}
	return getCertificate{deps: d, cardIndex: idx}, nil
}

func (o getCertificate) Kind() Kind { return KindGetCertificate }

func (o getCertificate) Execute(ctx context.Context) (Result, error) {
	card, ok, err := o.deps.card(o.cardIndex)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return noCard(), nil
	}
	info, found, err := o.deps.connection(ctx, card, "")
	if err != nil {
		return Result{}, err
	}
	if !found {
		return noToken(), nil
	}
	return Success(CertificateResult{
		Card:             card,
		API:              info.SelectedAPI,
		KeyAlias:         info.KeyAlias,
		CertificateChain: string(info.CertificateChain.PEM()),
		SupportedDigests: info.SupportedDigests,
	}), nil
}

type sign struct {
	deps      *Deps
	cardIndex int
	alias     string
	digest    core.DigestAlgorithm
	data      []byte
}

func buildSign(d *Deps, params []any) (Operation, error) {
	idx, err := param[int](KindSign, params, 0)
	if err != nil {
		return nil, err
	}
	alias, err := param[string](KindSign, params, 1)
	if err != nil {
		return nil, err
	}
	digest, err := param[core.DigestAlgorithm](KindSign, params, 2)
	if err != nil {
		return nil, err
	}
	data, err := param[[]byte](KindSign, params, 3)
	if err != nil {
		return nil, err
	}
	return sign{deps: d, cardIndex: idx, alias: alias, digest: digest, data: data}, nil
}

func (o sign) Kind() Kind { return KindSign }

func (o sign) Execute(ctx context.Context) (Result, error) {
	card, ok, err := o.deps.card(o.cardIndex)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return noCard(), nil
	}
	return o.deps.signWith(ctx, card, o.alias, o.digest, o.data, "")
}

// signWith signs data with the card's key and returns a SignatureResult.
func (d *Deps) signWith(ctx context.Context, card core.DetectedCard, alias string, digest core.DigestAlgorithm, data []byte, requestID string) (Result, error) {
	info, found, err := d.connection(ctx, card, alias)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return noToken(), nil
	}
	if !info.SupportsDigest(digest) {
		return Result{}, apperr.New(apperr.KindConfiguration, "operation.digest_unsupported", digest, info.SelectedAPI)
	}
	if alias == "" {
		alias = info.KeyAlias
	}
	sig, err := d.Keystores.Sign(info, alias, digest, data)
	if err != nil {
		return Result{}, err
	}
	return Success(SignatureResult{
		RequestID:        requestID,
		Card:             card,
		KeyAlias:         alias,
		Digest:           digest,
		Signature:        sig,
		CertificateChain: string(info.CertificateChain.PEM()),
	}), nil
}

type syncDevices struct{ deps *Deps }

func buildSyncDevices(d *Deps, _ []any) (Operation, error) { return syncDevices{deps: d}, nil }

func (o syncDevices) Kind() Kind { return KindSyncDevices }

func (o syncDevices) Execute(ctx context.Context) (Result, error) {
	p, err := o.deps.platform()
	if err != nil {
		return Result{}, err
	}
	cards, err := o.deps.detect()
	if err != nil {
		return Result{}, err
	}
	// software keystores are not devices
	devices := make([]core.DetectedCard, 0, len(cards))
	for _, c := range cards {
		if !keystore.IsSoftwareCard(c) {
			devices = append(devices, c)
		}
	}
	if err := p.PushDevices(ctx, devices); err != nil {
		return Result{}, err
	}
	return Success(SyncResult{Devices: len(devices)}), nil
}

type processRequest struct {
	deps      *Deps
	requestID string
}

func buildProcessRequest(d *Deps, params []any) (Operation, error) {
	id, err := param[string](KindProcessRequest, params, 0)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperr.New(apperr.KindConfiguration, "operation.empty_request_id")
	}
	return processRequest{deps: d, requestID: id}, nil
}

func (o processRequest) Kind() Kind { return KindProcessRequest }

// Execute fetches a verified signing request, signs it with the matching card
// and submits the signature.
func (o processRequest) Execute(ctx context.Context) (Result, error) {
	p, err := o.deps.platform()
	if err != nil {
		return Result{}, err
	}
	sr, err := p.FetchSigningRequest(ctx, o.requestID)
	if err != nil {
		return Result{}, err
	}

	cards, err := o.deps.detect()
	if err != nil {
		return Result{}, err
	}
	card, ok := pickCard(cards, sr)
	if !ok {
		return noCard(), nil
	}

	res, err := o.deps.signWith(ctx, card, sr.KeyAlias, sr.Digest, sr.Payload, sr.ID)
	if err != nil || !res.OK() {
		return res, err
	}
	sig := res.Payload.(SignatureResult)
	if err := p.SubmitSignature(ctx, gateway.SignatureSubmission{
		RequestID:        sr.ID,
		Digest:           sig.Digest,
		Signature:        sig.Signature,
		CertificateChain: sig.CertificateChain,
	}); err != nil {
		return Result{}, err
	}
	return res, nil
}

// pickCard selects the card a signing request targets. Without an ATR the
// first card is used.
func pickCard(cards []core.DetectedCard, sr gateway.SigningRequest) (core.DetectedCard, bool) {
	if len(cards) == 0 {
		return core.DetectedCard{}, false
	}
	if sr.ATR == "" {
		return cards[0], true
	}
	want := registry.NormalizeATR(sr.ATR)
	var fallback *core.DetectedCard
	for i, c := range cards {
		if registry.NormalizeATR(c.ATR) != want {
			continue
		}
		if sr.TerminalLabel == "" || c.TerminalLabel == sr.TerminalLabel {
			return c, true
		}
		if fallback == nil {
			fallback = &cards[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return core.DetectedCard{}, false
}
