package signal

import (
	"regexp"
	"strings"

	"signal-bridge/pkg/types"
)

// Free-text alert labels. Matching is case-insensitive and line-oriented;
// numbered targets ("Take Profit 2:", "TP2:", "Target 2:") are recognized,
// a bare "Target:" is not.
var (
	textSymbolRe = regexp.MustCompile(`(?im)^\s*symbol\s*[:=]\s*(\S+)`)
	textEntryRe  = regexp.MustCompile(`(?im)^\s*entry(?:\s*price)?\s*[:=]\s*([\d.,]+)`)
	textSLRe     = regexp.MustCompile(`(?im)^\s*stop\s*loss\s*[:=]\s*([\d.,]+)`)
	textTPRe     = regexp.MustCompile(`(?im)^\s*(?:take\s*profit\s*|tp\s*|target\s*)([123])\s*[:=]\s*([\d.,]+)`)

	textLongRe  = regexp.MustCompile(`(?i)\b(BUY|LONG)\b`)
	textShortRe = regexp.MustCompile(`(?i)\b(SELL|SHORT)\b`)
)

// ParseAlertText extracts the structured fields from a free-text alert body
// and returns them as a payload map suitable for Normalize. Fields that do
// not appear are simply absent; Normalize reports what is missing.
func ParseAlertText(body string) (map[string]any, error) {
	if strings.TrimSpace(body) == "" {
		return nil, normErrf("empty alert body")
	}

	raw := map[string]any{}

	if m := textSymbolRe.FindStringSubmatch(body); m != nil {
		raw["symbol"] = m[1]
	}
	if m := textEntryRe.FindStringSubmatch(body); m != nil {
		raw["entry"] = m[1]
	}
	if m := textSLRe.FindStringSubmatch(body); m != nil {
		raw["stop_loss"] = m[1]
	}
	for _, m := range textTPRe.FindAllStringSubmatch(body, -1) {
		key := "tp" + m[1]
		if _, dup := raw[key]; !dup {
			raw[key] = m[2]
		}
	}

	// Direction comes from the first directional word in the body.
	longIdx := matchIndex(textLongRe, body)
	shortIdx := matchIndex(textShortRe, body)
	switch {
	case longIdx >= 0 && (shortIdx < 0 || longIdx < shortIdx):
		raw["direction"] = "LONG"
	case shortIdx >= 0:
		raw["direction"] = "SHORT"
	}

	return raw, nil
}

// NormalizeText parses a free-text alert and normalizes the result in one
// step. rawBody is the original ingress body kept on the signal.
func NormalizeText(body string, rawBody []byte) (*types.Signal, error) {
	raw, err := ParseAlertText(body)
	if err != nil {
		return nil, err
	}
	return Normalize(raw, rawBody)
}

func matchIndex(re *regexp.Regexp, s string) int {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return -1
	}
	return loc[0]
}
