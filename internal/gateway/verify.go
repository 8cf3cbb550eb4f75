package gateway

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"sync"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/certcodec"
)

//go:embed keys/platform.pem
var platformPEM []byte

// Verifier checks SHA256-with-RSA signatures made by the platform.
type Verifier struct {
	cert *x509.Certificate
	pub  *rsa.PublicKey
}

// NewVerifier loads the first certificate in pemBytes. It must carry an RSA key.
func NewVerifier(pemBytes []byte) (*Verifier, error) {
	chain, err := certcodec.ParsePEM(pemBytes)
	if err != nil {
		return nil, err
	}
	cert := chain.Leaf()
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, apperr.New(apperr.KindConfiguration, "gateway.verifier_key_not_rsa", cert.Subject.String())
	}
	return &Verifier{cert: cert, pub: pub}, nil
}

var loadDefaultVerifier = sync.OnceValues(func() (*Verifier, error) {
	return NewVerifier(platformPEM)
})

// DefaultVerifier returns the verifier for the bundled platform certificate.
// The certificate is parsed once.
func DefaultVerifier() (*Verifier, error) {
	return loadDefaultVerifier()
}

// Certificate returns the verification certificate.
func (v *Verifier) Certificate() *x509.Certificate {
	return v.cert
}

// Verify reports whether signature is a valid signature of payload.
func (v *Verifier) Verify(payload, signature []byte) bool {
	if len(signature) == 0 {
		return false
	}
	sum := sha256.Sum256(payload)
	return rsa.VerifyPKCS1v15(v.pub, crypto.SHA256, sum[:], signature) == nil
}
