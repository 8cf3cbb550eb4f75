// Package certcodec converts X.509 certificates to and from DER for persistence.
// DER length varies per certificate, so multi-certificate blobs are written as a
// sequence of uvarint length-prefixed blocks.
package certcodec

import (
	"bytes"
	"crypto/x509"
	"encoding/binary"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
)

// maxBlock bounds a single DER block read from a chain blob.
const maxBlock = 1 << 20

// Encode returns the DER bytes of cert.
func Encode(cert *x509.Certificate) ([]byte, error) {
	if cert == nil || len(cert.Raw) == 0 {
		return nil, apperr.New(apperr.KindEncoding, "certcodec.empty_certificate")
	}
	out := make([]byte, len(cert.Raw))
	copy(out, cert.Raw)
	return out, nil
}

// Decode parses a single DER certificate.
func Decode(der []byte) (*x509.Certificate, error) {
	if len(der) == 0 {
		return nil, apperr.New(apperr.KindDecoding, "certcodec.empty_input")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindDecoding, "certcodec.malformed_der", len(der))
	}
	return cert, nil
}

// EncodeChain writes certs as length-prefixed DER blocks, in order.
func EncodeChain(certs []*x509.Certificate) ([]byte, error) {
	var buf bytes.Buffer
	var prefix [binary.MaxVarintLen64]byte
	for i, c := range certs {
		der, err := Encode(c)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindEncoding, "certcodec.chain_entry", i)
		}
		n := binary.PutUvarint(prefix[:], uint64(len(der)))
		buf.Write(prefix[:n])
		buf.Write(der)
	}
	return buf.Bytes(), nil
}

// DecodeChain reverses EncodeChain. An empty blob is an empty chain.
func DecodeChain(blob []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	r := bytes.NewReader(blob)
	for r.Len() > 0 {
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindDecoding, "certcodec.bad_length_prefix", len(certs))
		}
		if size == 0 || size > maxBlock || size > uint64(r.Len()) {
			return nil, apperr.New(apperr.KindDecoding, "certcodec.truncated_block", len(certs), size)
		}
		der := make([]byte, size)
		if _, err := r.Read(der); err != nil {
			return nil, apperr.Wrap(err, apperr.KindDecoding, "certcodec.truncated_block", len(certs), size)
		}
		cert, err := Decode(der)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}
