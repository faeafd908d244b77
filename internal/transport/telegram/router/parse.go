package router

import (
	"strings"

	"github.com/google/uuid"
)

// newReqID returns a short random id for correlating log lines of one request.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// tokenizeCommandLine splits command text on whitespace, honoring quotes and backslash escapes.
//
//	/campaign create 3 lunch "Coming to lunch?" --choices=yes,no
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		quote rune
		esc   bool
		open  bool
	)
	flush := func() {
		if buf.Len() > 0 || open {
			out = append(out, buf.String())
			buf.Reset()
		}
		open = false
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case quote != 0:
			if ch == quote {
				quote = 0
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'' || ch == '“' || ch == '”':
			if ch == '“' {
				quote = '”'
			} else {
				quote = ch
			}
			open = true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits args into positionals and flags.
//
//	--k=v, --k v, --flag (bool)
//	-k=v, -k v, -abc (bool flags a, b and c)
//
// A lone "--" ends flag parsing.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	takesValue := func(i int) bool { return i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") }

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			pos = append(pos, args[i+1:]...)
			return pos, flags, bools
		case strings.HasPrefix(a, "--") && len(a) > 2:
			key := a[2:]
			if k, v, ok := strings.Cut(key, "="); ok {
				flags[k] = v
			} else if takesValue(i) {
				flags[key] = args[i+1]
				i++
			} else {
				bools[key] = true
			}
		case strings.HasPrefix(a, "-") && len(a) > 1 && !isNumber(a):
			key := a[1:]
			if k, v, ok := strings.Cut(key, "="); ok {
				flags[k] = v
			} else if len(key) == 1 && takesValue(i) {
				flags[key] = args[i+1]
				i++
			} else {
				for _, c := range key {
					bools[string(c)] = true
				}
			}
		default:
			pos = append(pos, a)
		}
	}
	return pos, flags, bools
}

// isNumber lets negative ids like -1001234 through as positionals.
func isNumber(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
