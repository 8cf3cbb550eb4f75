package core

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/SimplyPrint/sign-agent/internal/logging"
)

// DetectedCard is a token currently inserted in a reader.
type DetectedCard struct {
	ATR           string `json:"atr"` // hex, lower case
	TerminalIndex int    `json:"terminalIndex"`
	TerminalLabel string `json:"terminalLabel"`
	TokenLabel    string `json:"tokenLabel"`
}

// NewDetectedCard builds a card from a raw ATR. The token label defaults to the ATR.
func NewDetectedCard(atr []byte, terminalIndex int, terminalLabel string) DetectedCard {
	h := hex.EncodeToString(atr)
	return DetectedCard{
		ATR:           h,
		TerminalIndex: terminalIndex,
		TerminalLabel: terminalLabel,
		TokenLabel:    h,
	}
}

// Key identifies the card by (ATR, terminal index, terminal label).
func (c DetectedCard) Key() string {
	return c.ATR + "|" + strconv.Itoa(c.TerminalIndex) + "|" + c.TerminalLabel
}

// SameCard reports whether both values describe the same inserted token.
func (c DetectedCard) SameCard(other DetectedCard) bool {
	return strings.EqualFold(c.ATR, other.ATR) &&
		c.TerminalIndex == other.TerminalIndex &&
		c.TerminalLabel == other.TerminalLabel
}

func (c DetectedCard) String() string {
	return fmt.Sprintf("%s (#%d %s)", c.TokenLabel, c.TerminalIndex, c.TerminalLabel)
}

// DetectCards lists every reader and returns one entry per reader that holds a card.
// Readers that refuse a connection are treated as empty.
func DetectCards(factory ContextFactory) ([]DetectedCard, error) {
	ctx, err := factory.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}

	cards := make([]DetectedCard, 0, len(readers))
	for i, reader := range readers {
		card, err := ctx.Connect(reader, shareShared, protocolAny)
		if err != nil {
			logging.Debug(logging.CatCard, "No card in reader", map[string]any{
				"reader": reader,
				"error":  err.Error(),
			})
			continue
		}

		status, err := card.Status()
		_ = card.Disconnect(leaveCard)
		if err != nil {
			logging.Warn(logging.CatCard, "Failed to read card status", map[string]any{
				"reader": reader,
				"error":  err.Error(),
			})
			continue
		}
		if len(status.Atr) == 0 {
			continue
		}

		detected := NewDetectedCard(status.Atr, i, reader)
		logging.Debug(logging.CatCard, "Card detected", map[string]any{
			"reader": reader,
			"index":  i,
			"atr":    detected.ATR,
		})
		cards = append(cards, detected)
	}
	return cards, nil
}
