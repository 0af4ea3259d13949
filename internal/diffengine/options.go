package diffengine // import "github.com/securesshmanager/ssm/internal/diffengine"

import (
	"sort"
	"strings"

	"github.com/securesshmanager/ssm/internal/keyline"
)

// CanonicalizeOptions normalizes an authorized_keys options string for
// comparison: split by top-level commas outside quotes, trim each token,
// lowercase the keyword portion before "=" while preserving the value
// verbatim (including its quotes), sort lexicographically, and drop exact
// duplicates. An empty string canonicalizes to "".
func CanonicalizeOptions(options string) string {
	toks, err := keyline.SplitOptionTokens(options)
	if err != nil || len(toks) == 0 {
		return ""
	}

	seen := make(map[string]bool, len(toks))
	norm := make([]string, 0, len(toks))
	for _, tok := range toks {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		keyword, value, hasValue := strings.Cut(tok, "=")
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		var canon string
		if hasValue {
			canon = keyword + "=" + value
		} else {
			canon = keyword
		}
		if seen[canon] {
			continue
		}
		seen[canon] = true
		norm = append(norm, canon)
	}
	sort.Strings(norm)
	return strings.Join(norm, ",")
}

// OptionsEqual reports whether two options strings are equivalent under
// canonicalization.
func OptionsEqual(a, b string) bool {
	return CanonicalizeOptions(a) == CanonicalizeOptions(b)
}
