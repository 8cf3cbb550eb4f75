package keystore

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/SimplyPrint/sign-agent/internal/certcodec"
	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/logging"
	"github.com/SimplyPrint/sign-agent/internal/metrics"
	"github.com/SimplyPrint/sign-agent/internal/tokencache"
)

// probePayload is signed once per digest to find out which ones the token accepts.
var probePayload = []byte("sign-agent digest probe")

// ProbeResult is what a probe learned about a connection.
type ProbeResult struct {
	Alias   string
	Chain   certcodec.Chain
	Digests []core.DigestAlgorithm
}

// Apply merges the result into info.
func (r ProbeResult) Apply(info core.ConnectionInfo) core.ConnectionInfo {
	info = info.Clone()
	if info.KeyAlias == "" {
		info.KeyAlias = r.Alias
	}
	if info.CertificateChain.Empty() {
		info.CertificateChain = r.Chain
	}
	for _, d := range r.Digests {
		info.AddDigest(d)
	}
	return info
}

// Prober discovers the certificate chain and usable digests of a connection.
// Results are cached and concurrent probes of one connection share a single run.
type Prober struct {
	manager *Manager
	cache   *tokencache.Cache[string, ProbeResult]
	group   singleflight.Group
	metrics *metrics.Metrics
}

// NewProber creates a prober caching up to cacheSize results.
func NewProber(manager *Manager, cacheSize int, m *metrics.Metrics) (*Prober, error) {
	cache, err := tokencache.New[string, ProbeResult](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Prober{manager: manager, cache: cache, metrics: m}, nil
}

func probeKey(info core.ConnectionInfo) string {
	return string(info.SelectedAPI) + "|" + info.APIParam + "|" + info.KeyAlias
}

// Probe opens the keystore for info and returns its chain and supported digests.
func (p *Prober) Probe(ctx context.Context, info core.ConnectionInfo) (ProbeResult, error) {
	key := probeKey(info)
	if r, ok := p.cache.Get(key); ok {
		p.metrics.IncrementProbeCache(true)
		return r, nil
	}
	p.metrics.IncrementProbeCache(false)

	ch := p.group.DoChan(key, func() (any, error) {
		// a flight that finished between the lookup above and now already cached it
		if r, ok := p.cache.Get(key); ok {
			return r, nil
		}
		r, err := p.probe(info)
		if err != nil {
			return ProbeResult{}, err
		}
		p.cache.Put(key, r)
		return r, nil
	})

	select {
	case <-ctx.Done():
		return ProbeResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ProbeResult{}, res.Err
		}
		return res.Val.(ProbeResult), nil
	}
}

// Forget drops a cached result, e.g. after the token was re-initialized.
func (p *Prober) Forget(info core.ConnectionInfo) {
	p.cache.Remove(probeKey(info))
}

func (p *Prober) probe(info core.ConnectionInfo) (ProbeResult, error) {
	ks, err := p.manager.Open(info)
	if err != nil {
		return ProbeResult{}, err
	}
	defer ks.Close()

	entries, err := ks.Entries()
	if err != nil {
		return ProbeResult{}, err
	}
	entry, err := FindEntry(entries, info.KeyAlias)
	if err != nil {
		return ProbeResult{}, err
	}

	result := ProbeResult{Alias: entry.Alias, Chain: entry.Chain}
	for _, d := range core.AllDigests {
		if _, err := ks.Sign(entry.Alias, d, probePayload); err != nil {
			logging.Debug(logging.CatCard, "Digest not supported by token", map[string]any{
				"api":    info.SelectedAPI,
				"digest": d,
				"error":  err.Error(),
			})
			continue
		}
		result.Digests = append(result.Digests, d)
	}

	logging.Info(logging.CatCard, "Token probed", map[string]any{
		"api":     info.SelectedAPI,
		"param":   info.APIParam,
		"alias":   entry.Alias,
		"digests": result.Digests,
	})
	return result, nil
}
