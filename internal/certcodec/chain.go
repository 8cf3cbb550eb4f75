package certcodec

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
)

// Chain is an ordered certificate chain, leaf first. The zero value is an
// empty chain. A Chain is not modified after construction.
type Chain struct {
	certs []*x509.Certificate
}

// NewChain builds a chain from certs. Nil entries are dropped.
func NewChain(certs ...*x509.Certificate) Chain {
	out := make([]*x509.Certificate, 0, len(certs))
	for _, c := range certs {
		if c != nil {
			out = append(out, c)
		}
	}
	return Chain{certs: out}
}

// Len returns the number of certificates.
func (c Chain) Len() int { return len(c.certs) }

// Empty reports whether the chain has no certificates.
func (c Chain) Empty() bool { return len(c.certs) == 0 }

// Leaf returns the end-entity certificate, or nil for an empty chain.
func (c Chain) Leaf() *x509.Certificate {
	if len(c.certs) == 0 {
		return nil
	}
	return c.certs[0]
}

// At returns the i-th certificate.
func (c Chain) At(i int) *x509.Certificate {
	return c.certs[i]
}

// Certificates returns a copy of the certificate slice.
func (c Chain) Certificates() []*x509.Certificate {
	out := make([]*x509.Certificate, len(c.certs))
	copy(out, c.certs)
	return out
}

// Equal compares chains by their encoded bytes.
func (c Chain) Equal(other Chain) bool {
	if len(c.certs) != len(other.certs) {
		return false
	}
	for i := range c.certs {
		if !bytes.Equal(c.certs[i].Raw, other.certs[i].Raw) {
			return false
		}
	}
	return true
}

// DER returns the chain as a length-prefixed blob (see EncodeChain).
func (c Chain) DER() ([]byte, error) {
	return EncodeChain(c.certs)
}

// ChainFromDER decodes a blob written by Chain.DER.
func ChainFromDER(blob []byte) (Chain, error) {
	certs, err := DecodeChain(blob)
	if err != nil {
		return Chain{}, err
	}
	return Chain{certs: certs}, nil
}

// PEM renders the chain as concatenated CERTIFICATE blocks.
func (c Chain) PEM() []byte {
	var buf bytes.Buffer
	for _, cert := range c.certs {
		_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	}
	return buf.Bytes()
}

// ParsePEM reads every CERTIFICATE block in data. Other block types are skipped.
func ParsePEM(data []byte) (Chain, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := Decode(block.Bytes)
		if err != nil {
			return Chain{}, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return Chain{}, apperr.New(apperr.KindDecoding, "certcodec.no_pem_certificates")
	}
	return Chain{certs: certs}, nil
}
