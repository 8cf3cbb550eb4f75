package keystore

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/logging"
)

// SoftwareTerminalBase is the terminal index of the first software keystore.
// Physical readers are numbered from 0 and never reach it.
const SoftwareTerminalBase = 100

// Physical ATRs start with the TS byte 3B or 3F, so an ff lead byte cannot
// collide with an inserted card.
const softwareATRPrefix = "ff"

// SoftwareCard returns the pseudo-card standing for the keystore file at path.
// The ATR is derived from the absolute path, so registry entries recorded for
// the file survive restarts.
func SoftwareCard(path string, index int) core.DetectedCard {
	return core.DetectedCard{
		ATR:           softwareATR(path),
		TerminalIndex: index,
		TerminalLabel: "Software keystore " + filepath.Base(path),
		TokenLabel:    filepath.Base(path),
	}
}

// IsSoftwareCard reports whether card is a software keystore pseudo-card.
func IsSoftwareCard(card core.DetectedCard) bool {
	return strings.HasPrefix(strings.ToLower(card.ATR), softwareATRPrefix)
}

func softwareATR(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return softwareATRPrefix + hex.EncodeToString(sum[:10])
}

// WithSoftwareCards appends a pseudo-card per keystore file to the cards
// found by detect. When detect fails and there are software keystores, the
// failure is logged and the software cards are still returned.
func WithSoftwareCards(detect core.Detector, paths ...string) core.Detector {
	soft := make([]core.DetectedCard, 0, len(paths))
	for i, path := range paths {
		soft = append(soft, SoftwareCard(path, SoftwareTerminalBase+i))
	}
	return func() ([]core.DetectedCard, error) {
		var cards []core.DetectedCard
		if detect != nil {
			found, err := detect()
			if err != nil {
				if len(soft) == 0 {
					return nil, err
				}
				logging.Warn(logging.CatCard, "Card detection failed, listing software keystores only", map[string]any{
					"error": err.Error(),
				})
			}
			cards = append(cards, found...)
		}
		return append(cards, soft...), nil
	}
}
