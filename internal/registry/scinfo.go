package registry

import (
	"strings"

	"github.com/SimplyPrint/sign-agent/internal/core"
)

// SCInfo is the bucket of connection infos known for one ATR, in discovery order.
// No two entries share the same (SelectedAPI, APIParam).
type SCInfo struct {
	ATR   string
	infos []core.ConnectionInfo
}

// NormalizeATR lower-cases and strips separators so "3B:D2 18" and "3bd218" share a bucket.
func NormalizeATR(atr string) string {
	r := strings.NewReplacer(" ", "", ":", "", "-", "")
	return strings.ToLower(r.Replace(atr))
}

func newSCInfo(atr string) *SCInfo {
	return &SCInfo{ATR: atr}
}

// Len returns the number of entries.
func (s *SCInfo) Len() int { return len(s.infos) }

// Infos returns a copy of the entries.
func (s *SCInfo) Infos() []core.ConnectionInfo {
	out := make([]core.ConnectionInfo, len(s.infos))
	for i, info := range s.infos {
		out[i] = info.Clone()
	}
	return out
}

// add appends info unless an entry with the same access key exists.
func (s *SCInfo) add(info core.ConnectionInfo) bool {
	if s.indexOf(info) >= 0 {
		return false
	}
	s.infos = append(s.infos, info.Clone())
	return true
}

func (s *SCInfo) indexOf(info core.ConnectionInfo) int {
	for i := range s.infos {
		if s.infos[i].SameAccess(info) {
			return i
		}
	}
	return -1
}

// Match returns the entry best matching the criteria. Empty criteria are ignored.
// An entry matching both label and alias wins over one matching either.
// When nothing matches, the first entry is returned and matched is false.
func (s *SCInfo) Match(terminalLabel, alias string) (info core.ConnectionInfo, matched bool) {
	if len(s.infos) == 0 {
		return core.ConnectionInfo{}, false
	}
	if terminalLabel == "" && alias == "" {
		return s.infos[0].Clone(), true
	}

	best, bestScore := -1, 0
	for i, e := range s.infos {
		score := 0
		if terminalLabel != "" && e.TerminalLabel == terminalLabel {
			score++
		}
		if alias != "" && e.KeyAlias == alias {
			score += 2
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return s.infos[0].Clone(), false
	}
	return s.infos[best].Clone(), true
}

func (s *SCInfo) clone() SCInfo {
	return SCInfo{ATR: s.ATR, infos: s.Infos()}
}
