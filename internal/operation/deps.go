package operation

import (
	"context"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/gateway"
	"github.com/SimplyPrint/sign-agent/internal/keystore"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/registry"
)

// PlatformAPI is the part of the signing platform the operations talk to.
type PlatformAPI interface {
	PushDevices(ctx context.Context, cards []core.DetectedCard) error
	FetchSigningRequest(ctx context.Context, id string) (gateway.SigningRequest, error)
	SubmitSignature(ctx context.Context, sub gateway.SignatureSubmission) error
}

// Deps is everything the built-in operations need. Platform may be nil when
// no platform is configured.
type Deps struct {
	Registry    *registry.Database
	Keystores   *keystore.Manager
	Prober      *keystore.Prober
	Platform    PlatformAPI
	Detect      core.Detector
	Environment core.EnvironmentInfo
}

func (d *Deps) detect() ([]core.DetectedCard, error) {
	if d.Detect == nil {
		return nil, apperr.New(apperr.KindConfiguration, "operation.no_detector")
	}
	cards, err := d.Detect()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTokenAccess, "operation.detect_failed")
	}
	return cards, nil
}

func (d *Deps) platform() (PlatformAPI, error) {
	if d.Platform == nil {
		return nil, apperr.New(apperr.KindConfiguration, "operation.platform_not_configured")
	}
	return d.Platform, nil
}

// card returns the detected card at index, or false when it is not present.
func (d *Deps) card(index int) (core.DetectedCard, bool, error) {
	cards, err := d.detect()
	if err != nil {
		return core.DetectedCard{}, false, err
	}
	for _, c := range cards {
		if c.TerminalIndex == index {
			return c, true, nil
		}
	}
	return core.DetectedCard{}, false, nil
}

// connection finds a working connection info for card. A known info is taken
// from the registry and probed if it lacks a chain or digests; otherwise every
// keystore candidate is probed and the first that works is recorded.
// found is false when no keystore could serve the card.
func (d *Deps) connection(ctx context.Context, card core.DetectedCard, alias string) (info core.ConnectionInfo, found bool, err error) {
	info, err = d.Registry.GetInfo(card.ATR, card.TerminalLabel, alias)
	switch {
	case err == nil:
		if !info.CertificateChain.Empty() && len(info.SupportedDigests) > 0 {
			return info, true, nil
		}
		probed, err := d.Prober.Probe(ctx, info)
		if err != nil {
			return core.ConnectionInfo{}, false, err
		}
		info = probed.Apply(info)
		if _, err := d.Registry.Update(card.ATR, info); err != nil {
			return core.ConnectionInfo{}, false, err
		}
		return info, true, nil
	case !apperr.HasKind(err, apperr.KindNotFound):
		return core.ConnectionInfo{}, false, err
	}

	for _, cand := range d.Keystores.Candidates(card) {
		cand.Environment = d.Environment
		cand.KeyAlias = alias
		probed, err := d.Prober.Probe(ctx, cand)
		if err != nil {
			if ctx.Err() != nil {
				return core.ConnectionInfo{}, false, ctx.Err()
			}
			logging.Debug(logging.CatCard, "Keystore candidate rejected", map[string]any{
				"card":  card.String(),
				"api":   cand.SelectedAPI,
				"param": cand.APIParam,
				"error": err.Error(),
			})
			continue
		}
		info = probed.Apply(cand)
		if _, err := d.Registry.Add(card, info); err != nil {
			return core.ConnectionInfo{}, false, err
		}
		return info, true, nil
	}
	return core.ConnectionInfo{}, false, nil
}
