package keystore

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
	"github.com/SimplyPrint/sign-agent/internal/certcodec"
	"github.com/SimplyPrint/sign-agent/internal/core"
)

// PasswordFunc supplies the password protecting a PKCS#12 file.
type PasswordFunc func(path string) (string, error)

// StaticPassword returns the same password for every file.
func StaticPassword(password string) PasswordFunc {
	return func(string) (string, error) { return password, nil }
}

// PKCS12Provider opens PKCS#12 files. The connection's APIParam is the file path.
// Each file is reachable only through its own SoftwareCard.
type PKCS12Provider struct {
	Paths    []string
	Password PasswordFunc
}

func (p *PKCS12Provider) API() core.ScAPI { return core.APIPKCS12 }

func (p *PKCS12Provider) Candidates(card core.DetectedCard) []core.ConnectionInfo {
	if !IsSoftwareCard(card) {
		return nil
	}
	var out []core.ConnectionInfo
	for _, path := range p.Paths {
		if !strings.EqualFold(softwareATR(path), card.ATR) {
			continue
		}
		out = append(out, core.ConnectionInfo{
			SelectedAPI:   core.APIPKCS12,
			APIParam:      path,
			TerminalLabel: card.TerminalLabel,
		})
	}
	return out
}

func (p *PKCS12Provider) Open(info core.ConnectionInfo) (Keystore, error) {
	path := info.APIParam
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(err, apperr.KindKeystoreNotFound, "keystore.file_not_found", path)
		}
		return nil, apperr.Wrap(err, apperr.KindTokenAccess, "keystore.file_unreadable", path)
	}

	password := ""
	if p.Password != nil {
		if password, err = p.Password(path); err != nil {
			return nil, apperr.Wrap(err, apperr.KindTokenAccess, "keystore.password_unavailable", path)
		}
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, apperr.Wrap(err, apperr.KindTokenAccess, "keystore.incorrect_password", path).
				WithSeverity(apperr.SeverityWarning)
		}
		return nil, apperr.Wrap(err, apperr.KindModuleInit, "keystore.pkcs12_invalid", path)
	}

	var (
		signer crypto.Signer
		alias  string
		leaf   *x509.Certificate
		others []*x509.Certificate
	)
	for _, b := range blocks {
		switch b.Type {
		case "PRIVATE KEY":
			if signer, err = parsePrivateKey(b.Bytes); err != nil {
				return nil, apperr.Wrap(err, apperr.KindModuleInit, "keystore.pkcs12_key_invalid", path)
			}
			if name := b.Headers["friendlyName"]; name != "" {
				alias = name
			}
		case "CERTIFICATE":
			cert, err := certcodec.Decode(b.Bytes)
			if err != nil {
				return nil, err
			}
			others = append(others, cert)
		}
	}
	if signer == nil {
		return nil, apperr.New(apperr.KindKeystoreNotFound, "keystore.pkcs12_no_key", path)
	}

	// The leaf is the certificate holding the private key's public half.
	pub, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindModuleInit, "keystore.pkcs12_key_invalid", path)
	}
	chain := make([]*x509.Certificate, 0, len(others))
	for _, c := range others {
		if leaf == nil && bytes.Equal(c.RawSubjectPublicKeyInfo, pub) {
			leaf = c
			continue
		}
		chain = append(chain, c)
	}
	if leaf == nil {
		return nil, apperr.New(apperr.KindKeystoreNotFound, "keystore.pkcs12_no_certificate", path)
	}
	if alias == "" {
		alias = leaf.Subject.CommonName
	}

	return &softKeystore{
		entry:  Entry{Alias: alias, Chain: certcodec.NewChain(append([]*x509.Certificate{leaf}, chain...)...)},
		signer: signer,
	}, nil
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.New("private key cannot sign")
	}
	return signer, nil
}

// softKeystore is a single-key keystore held in memory.
type softKeystore struct {
	entry  Entry
	signer crypto.Signer
}

func (k *softKeystore) Entries() ([]Entry, error) {
	return []Entry{k.entry}, nil
}

func (k *softKeystore) Sign(alias string, digest core.DigestAlgorithm, data []byte) ([]byte, error) {
	if alias != "" && alias != k.entry.Alias {
		return nil, apperr.New(apperr.KindNotFound, "keystore.alias_not_found", alias)
	}
	h := digest.Hash()
	if h == 0 || !h.Available() {
		return nil, apperr.New(apperr.KindConfiguration, "keystore.digest_unsupported", digest)
	}

	hasher := h.New()
	hasher.Write(data)
	sum := hasher.Sum(nil)

	switch k.signer.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
	default:
		return nil, apperr.New(apperr.KindUnsupportedKeystore, "keystore.key_type_unsupported")
	}
	sig, err := k.signer.Sign(rand.Reader, sum, h)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTokenAccess, "keystore.sign_failed", k.entry.Alias, digest)
	}
	return sig, nil
}

func (k *softKeystore) Close() error { return nil }
