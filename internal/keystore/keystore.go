// Package keystore is the boundary to token keystores. Native drivers plug in
// as Providers; a PKCS#12 file provider ships with the agent.
package keystore

import (
	"sort"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/certcodec"
	"github.com/SimplyPrint/sign-agent/internal/core"
)

// Entry is one signing key in a keystore.
type Entry struct {
	Alias string
	Chain certcodec.Chain
}

// Keystore is an opened token.
type Keystore interface {
	Entries() ([]Entry, error)
	Sign(alias string, digest core.DigestAlgorithm, data []byte) ([]byte, error)
	Close() error
}

// Provider opens keystores through one access API.
type Provider interface {
	API() core.ScAPI
	// Candidates lists the connection infos worth trying for card.
	Candidates(card core.DetectedCard) []core.ConnectionInfo
	Open(info core.ConnectionInfo) (Keystore, error)
}

// Manager routes connection infos to the provider for their API.
type Manager struct {
	providers map[core.ScAPI]Provider
}

// NewManager registers providers. A later provider for the same API replaces an earlier one.
func NewManager(providers ...Provider) *Manager {
	m := &Manager{providers: make(map[core.ScAPI]Provider, len(providers))}
	for _, p := range providers {
		m.providers[p.API()] = p
	}
	return m
}

// APIs returns the registered APIs, sorted.
func (m *Manager) APIs() []core.ScAPI {
	apis := make([]core.ScAPI, 0, len(m.providers))
	for api := range m.providers {
		apis = append(apis, api)
	}
	sort.Slice(apis, func(i, j int) bool { return apis[i] < apis[j] })
	return apis
}

// Open opens the keystore described by info.
func (m *Manager) Open(info core.ConnectionInfo) (Keystore, error) {
	p, ok := m.providers[info.SelectedAPI]
	if !ok {
		return nil, apperr.New(apperr.KindUnsupportedKeystore, "keystore.unsupported_api", info.SelectedAPI)
	}
	return p.Open(info)
}

// Candidates collects the candidate infos of every provider, in API order.
func (m *Manager) Candidates(card core.DetectedCard) []core.ConnectionInfo {
	var out []core.ConnectionInfo
	for _, api := range m.APIs() {
		out = append(out, m.providers[api].Candidates(card)...)
	}
	return out
}

// Sign opens the keystore for info, signs data with alias and closes it again.
func (m *Manager) Sign(info core.ConnectionInfo, alias string, digest core.DigestAlgorithm, data []byte) ([]byte, error) {
	ks, err := m.Open(info)
	if err != nil {
		return nil, err
	}
	defer ks.Close()
	return ks.Sign(alias, digest, data)
}

// FindEntry returns the entry named alias, or the first entry when alias is empty.
func FindEntry(entries []Entry, alias string) (Entry, error) {
	if len(entries) == 0 {
		return Entry{}, apperr.New(apperr.KindKeystoreNotFound, "keystore.no_entries")
	}
	if alias == "" {
		return entries[0], nil
	}
	for _, e := range entries {
		if e.Alias == alias {
			return e, nil
		}
	}
	return Entry{}, apperr.New(apperr.KindNotFound, "keystore.alias_not_found", alias)
}
