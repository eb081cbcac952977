package zonefile

import (
	"regexp"
	"strconv"
	"strings"
)

// token is a whitespace-delimited field of a zone line together with its
// byte offsets in the line. Parentheses are always tokens of their own and
// double-quoted strings are kept whole.
type token struct {
	text       string
	start, end int
}

// stripComment cuts the line at the first ';' that is neither escaped nor
// inside a quoted string.
func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

func tokenize(s string) []token {
	var (
		out   []token
		start = -1
		quote bool
	)
	flush := func(end int) {
		if start >= 0 {
			out = append(out, token{text: s[start:end], start: start, end: end})
			start = -1
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote {
			switch c {
			case '\\':
				i++
			case '"':
				quote = false
			}
			continue
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			flush(i)
		case '(', ')':
			flush(i)
			out = append(out, token{text: s[i : i+1], start: i, end: i + 1})
		case '"':
			if start < 0 {
				start = i
			}
			quote = true
		case '\\':
			if start < 0 {
				start = i
			}
			i++
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(s))
	return out
}

// parenDelta returns opening minus closing parentheses among the tokens.
func parenDelta(toks []token) int {
	n := 0
	for _, t := range toks {
		switch t.text {
		case "(":
			n++
		case ")":
			n--
		}
	}
	return n
}

var ttlRE = regexp.MustCompile(`^(?:\d+[wdhmsWDHMS]?)+$`)

func looksLikeTTL(tok string) bool { return ttlRE.MatchString(tok) }

// parseTTL accepts plain seconds or BIND unit suffixes (1h30m, 2d, 1w).
func parseTTL(tok string) (uint32, bool) {
	if !looksLikeTTL(tok) {
		return 0, false
	}
	var (
		total uint64
		num   uint64
		have  bool
	)
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c >= '0' && c <= '9' {
			num = num*10 + uint64(c-'0')
			if num > 1<<32 {
				return 0, false
			}
			have = true
			continue
		}
		mul := uint64(1)
		switch c | 0x20 {
		case 'm':
			mul = 60
		case 'h':
			mul = 3600
		case 'd':
			mul = 86400
		case 'w':
			mul = 604800
		}
		total += num * mul
		num, have = 0, false
	}
	if have {
		total += num
	}
	if total > 1<<32-1 {
		return 0, false
	}
	return uint32(total), true
}

func isClass(tok string) bool {
	switch strings.ToUpper(tok) {
	case "IN", "CH", "HS", "CS":
		return true
	}
	return false
}

func formatUint(v uint32) string { return strconv.FormatUint(uint64(v), 10) }
