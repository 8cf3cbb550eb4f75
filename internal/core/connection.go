package core

import (
	"crypto"
	"fmt"
	"slices"
	"strings"

	"github.com/SimplyPrint/sign-agent/internal/certcodec"
)

// ScAPI is the access API used to open a token's keystore.
type ScAPI string

const (
	APIMSCAPI      ScAPI = "MSCAPI"
	APIPKCS11      ScAPI = "PKCS_11"
	APIPKCS12      ScAPI = "PKCS_12"
	APIMacKeychain ScAPI = "MAC_KEYCHAIN"
)

// ParseScAPI accepts the canonical names, case-insensitively.
func ParseScAPI(s string) (ScAPI, error) {
	switch api := ScAPI(strings.ToUpper(s)); api {
	case APIMSCAPI, APIPKCS11, APIPKCS12, APIMacKeychain:
		return api, nil
	}
	return "", fmt.Errorf("unknown keystore API %q", s)
}

// DigestAlgorithm names a digest usable for signing.
type DigestAlgorithm string

const (
	SHA1   DigestAlgorithm = "SHA1"
	SHA256 DigestAlgorithm = "SHA256"
	SHA384 DigestAlgorithm = "SHA384"
	SHA512 DigestAlgorithm = "SHA512"
)

// AllDigests lists the algorithms probed on a token, strongest last.
var AllDigests = []DigestAlgorithm{SHA1, SHA256, SHA384, SHA512}

// Hash returns the crypto.Hash for the algorithm, or 0 if unknown.
func (d DigestAlgorithm) Hash() crypto.Hash {
	switch d {
	case SHA1:
		return crypto.SHA1
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	}
	return 0
}

// ParseDigestAlgorithm accepts "SHA256", "sha-256" and similar spellings.
func ParseDigestAlgorithm(s string) (DigestAlgorithm, error) {
	d := DigestAlgorithm(strings.ToUpper(strings.ReplaceAll(s, "-", "")))
	if d.Hash() == 0 {
		return "", fmt.Errorf("unknown digest algorithm %q", s)
	}
	return d, nil
}

// ConnectionInfo records one way to open a card's keystore.
type ConnectionInfo struct {
	SelectedAPI      ScAPI             `json:"selectedApi"`
	APIParam         string            `json:"apiParam"`
	Environment      EnvironmentInfo   `json:"environment"`
	TerminalLabel    string            `json:"terminalLabel,omitempty"`
	KeyAlias         string            `json:"keyAlias,omitempty"`
	SupportedDigests []DigestAlgorithm `json:"supportedDigests,omitempty"`
	CertificateChain certcodec.Chain   `json:"-"`
}

// SameAccess reports whether both infos use the same API and parameter.
// Two such entries are duplicates within an ATR bucket.
func (c ConnectionInfo) SameAccess(other ConnectionInfo) bool {
	return c.SelectedAPI == other.SelectedAPI && c.APIParam == other.APIParam
}

// SupportsDigest reports whether d has been confirmed usable.
func (c ConnectionInfo) SupportsDigest(d DigestAlgorithm) bool {
	return slices.Contains(c.SupportedDigests, d)
}

// AddDigest records d as usable. The set only grows.
func (c *ConnectionInfo) AddDigest(d DigestAlgorithm) bool {
	if c.SupportsDigest(d) {
		return false
	}
	c.SupportedDigests = append(c.SupportedDigests, d)
	return true
}

// Clone returns a copy that shares no slices with c.
func (c ConnectionInfo) Clone() ConnectionInfo {
	c.SupportedDigests = slices.Clone(c.SupportedDigests)
	return c
}
