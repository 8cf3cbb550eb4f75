package core

import (
	"crypto"
	"testing"

	"github.com/SimplyPrint/sign-agent/internal/logging"
)

const (
	atrIDPrime = "3bff9600008131fe4380318065b0846566fb12017882900085"
	atrCardOS  = "3bd218008131fe58c90114"
)

func init() {
	logging.Init(100, logging.LevelError)
}

// TestDetectCards verifies that only readers holding a card are reported,
// with their reader index and label preserved.
func TestDetectCards(t *testing.T) {
	idprime := NewMockCard(atrIDPrime)
	cardos := NewMockCard(atrCardOS)

	ctx := NewMockContext().
		WithCard("Gemalto PC Twin Reader 00 00", idprime).
		WithCard("ACS ACR39U ICC Reader 02 00", cardos)

	cards, err := DetectCards(&MockContextFactory{ctx: ctx})
	if err != nil {
		t.Fatalf("DetectCards() returned error: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}

	tests := []struct {
		idx   int
		atr   string
		index int
		label string
	}{
		{0, atrIDPrime, 0, "Gemalto PC Twin Reader 00 00"},
		{1, atrCardOS, 2, "ACS ACR39U ICC Reader 02 00"},
	}
	for _, tt := range tests {
		c := cards[tt.idx]
		if c.ATR != tt.atr {
			t.Errorf("card %d: ATR = %s, want %s", tt.idx, c.ATR, tt.atr)
		}
		if c.TerminalIndex != tt.index {
			t.Errorf("card %d: TerminalIndex = %d, want %d", tt.idx, c.TerminalIndex, tt.index)
		}
		if c.TerminalLabel != tt.label {
			t.Errorf("card %d: TerminalLabel = %q, want %q", tt.idx, c.TerminalLabel, tt.label)
		}
		if c.TokenLabel != tt.atr {
			t.Errorf("card %d: TokenLabel should default to ATR, got %q", tt.idx, c.TokenLabel)
		}
	}

	if !idprime.WasDisconnected() || !cardos.WasDisconnected() {
		t.Error("cards should be disconnected after detection")
	}
	if !ctx.released {
		t.Error("context should be released")
	}
}

func TestDetectCards_SkipsStatusErrors(t *testing.T) {
	ctx := NewMockContext().
		WithCard("Gemalto PC Twin Reader 00 00", NewMockCard(atrIDPrime).WithStatusError("card removed")).
		WithCard("Identiv uTrust 3700 F 01 00", NewMockCard(""))

	cards, err := DetectCards(&MockContextFactory{ctx: ctx})
	if err != nil {
		t.Fatalf("DetectCards() returned error: %v", err)
	}
	if len(cards) != 0 {
		t.Errorf("expected no cards, got %v", cards)
	}
}

func TestDetectCards_Errors(t *testing.T) {
	if _, err := DetectCards(&MockContextFactory{shouldError: true}); err == nil {
		t.Error("expected error when context cannot be established")
	}

	ctx := NewMockContext().WithError("reader service stopped")
	if _, err := DetectCards(&MockContextFactory{ctx: ctx}); err == nil {
		t.Error("expected error when readers cannot be listed")
	}
}

func TestFactoryDetector(t *testing.T) {
	ctx := NewMockContext().WithReaders([]string{"only"}).WithCard("only", NewMockCard(atrCardOS))
	cards, err := FactoryDetector(&MockContextFactory{ctx: ctx})()
	if err != nil {
		t.Fatalf("detector returned error: %v", err)
	}
	if len(cards) != 1 || cards[0].TerminalLabel != "only" {
		t.Errorf("unexpected cards: %v", cards)
	}
}

func TestDetectedCardIdentity(t *testing.T) {
	a := NewDetectedCard([]byte{0x3b, 0xd2}, 1, "Reader A")
	b := a
	b.TokenLabel = "Signature card"

	if !a.SameCard(b) || a.Key() != b.Key() {
		t.Error("token label must not affect identity")
	}

	c := a
	c.TerminalIndex = 2
	if a.SameCard(c) || a.Key() == c.Key() {
		t.Error("different terminal index must be a different card")
	}

	d := a
	d.ATR = "3BD2"
	if !a.SameCard(d) {
		t.Error("ATR comparison should be case-insensitive")
	}
}

func TestDigestAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want DigestAlgorithm
		hash crypto.Hash
	}{
		{"SHA256", SHA256, crypto.SHA256},
		{"sha-384", SHA384, crypto.SHA384},
		{"sha1", SHA1, crypto.SHA1},
		{"SHA512", SHA512, crypto.SHA512},
	}
	for _, tt := range tests {
		got, err := ParseDigestAlgorithm(tt.in)
		if err != nil {
			t.Fatalf("ParseDigestAlgorithm(%q) error: %v", tt.in, err)
		}
		if got != tt.want || got.Hash() != tt.hash {
			t.Errorf("ParseDigestAlgorithm(%q) = %s/%v", tt.in, got, got.Hash())
		}
	}
	if _, err := ParseDigestAlgorithm("MD5"); err == nil {
		t.Error("MD5 should be rejected")
	}
}

func TestConnectionInfo(t *testing.T) {
	info := ConnectionInfo{SelectedAPI: APIPKCS11, APIParam: "/usr/lib/opensc-pkcs11.so"}

	if !info.AddDigest(SHA256) {
		t.Error("first AddDigest should report a change")
	}
	if info.AddDigest(SHA256) {
		t.Error("repeated AddDigest should be a no-op")
	}
	info.AddDigest(SHA512)
	if len(info.SupportedDigests) != 2 {
		t.Errorf("expected 2 digests, got %v", info.SupportedDigests)
	}

	clone := info.Clone()
	clone.AddDigest(SHA1)
	if info.SupportsDigest(SHA1) {
		t.Error("clone must not share the digest slice")
	}

	other := ConnectionInfo{SelectedAPI: APIPKCS11, APIParam: "/usr/lib/opensc-pkcs11.so", KeyAlias: "sign"}
	if !info.SameAccess(other) {
		t.Error("same API and param should be the same access")
	}
	other.SelectedAPI = APIMSCAPI
	if info.SameAccess(other) {
		t.Error("different API should not be the same access")
	}
}

func TestPlatformFor(t *testing.T) {
	tests := map[string]Platform{
		"windows": PlatformWindows,
		"darwin":  PlatformMacOSX,
		"linux":   PlatformLinux,
		"plan9":   PlatformUnknown,
	}
	for goos, want := range tests {
		if got := PlatformFor(goos); got != want {
			t.Errorf("PlatformFor(%q) = %s, want %s", goos, got, want)
		}
	}

	env := CurrentEnvironment("1.2.3")
	if env != CurrentEnvironment("1.2.3") {
		t.Error("environment snapshots should compare equal")
	}
	if env.AgentVersion != "1.2.3" || env.Platform != CurrentPlatform() {
		t.Errorf("unexpected environment: %+v", env)
	}
}
