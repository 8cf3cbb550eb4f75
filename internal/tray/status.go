package tray

import (
	"fmt"

	"github.com/SimplyPrint/sign-agent/internal/core"
	"github.com/SimplyPrint/sign-agent/internal/operation"
)

// menu item labels longer than this are cut
const maxTitle = 60

// summarize renders a completion event as a single menu line.
func summarize(ev operation.Event) string {
	var text string
	res := ev.Result
	switch {
	case res.OK():
		text = describePayload(res.Payload)
	case res.Message != "":
		text = res.Message
	default:
		text = string(res.Status)
	}
	return truncate(fmt.Sprintf("%s: %s", ev.Invocation.Kind, text), maxTitle)
}

func describePayload(payload any) string {
	switch p := payload.(type) {
	case []core.DetectedCard:
		if len(p) == 1 {
			return "1 card in " + p[0].TerminalLabel
		}
		return fmt.Sprintf("%d cards", len(p))
	case operation.CertificateResult:
		return fmt.Sprintf("certificate %q via %s", p.KeyAlias, p.API)
	case operation.SignatureResult:
		return fmt.Sprintf("signed with %q (%s)", p.KeyAlias, p.Digest)
	case operation.SyncResult:
		if p.Devices == 1 {
			return "synced 1 device"
		}
		return fmt.Sprintf("synced %d devices", p.Devices)
	}
	return "done"
}

// certificateTarget returns the terminal index of the first card in the last
// listing. ok is false when no card is known.
func certificateTarget(cards []core.DetectedCard) (index int, ok bool) {
	if len(cards) == 0 {
		return 0, false
	}
	return cards[0].TerminalIndex, true
}

// readerStatus renders the card count line.
func readerStatus(n int) string {
	switch n {
	case 0:
		return "Cards: none detected"
	case 1:
		return "Cards: 1 detected"
	default:
		return fmt.Sprintf("Cards: %d detected", n)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
