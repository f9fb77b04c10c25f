package action

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	currencyPrefix = regexp.MustCompile(`(Rp|\$)\s*`)
	dottedDigits   = regexp.MustCompile(`^[\d.]+$`)
)

// ParseNumber reads a metric as shown on seller pages. It understands
// "Rp"/"$" prefixes, K and M suffixes, percentages, dotted thousands
// ("1.234.567") and comma thousands ("1,234"). Integers come back as int64,
// fractional values as float64, and unparseable text unchanged.
func ParseNumber(text string) any {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil
	}
	s := strings.TrimSpace(currencyPrefix.ReplaceAllString(raw, ""))

	if n := len(s); n > 1 {
		switch s[n-1] {
		case 'K', 'k':
			if f, err := strconv.ParseFloat(strings.ReplaceAll(s[:n-1], ",", "."), 64); err == nil {
				return f * 1e3
			}
			s = s[:n-1]
		case 'M', 'm':
			if f, err := strconv.ParseFloat(strings.ReplaceAll(s[:n-1], ",", "."), 64); err == nil {
				return f * 1e6
			}
			s = s[:n-1]
		}
	}

	if strings.HasSuffix(s, "%") {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSuffix(s, "%"), ",", "."), 64); err == nil {
			return f
		}
		return raw
	}

	if dottedDigits.MatchString(s) && strings.Count(s, ".") > 1 {
		s = strings.ReplaceAll(s, ".", "")
	}
	s = strings.ReplaceAll(s, ",", "")

	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return raw
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return raw
}
