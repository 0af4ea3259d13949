// package keyline implements the OpenSSH authorized_keys line grammar: it
// parses one line into a structured key entry or classifies why it could
// not be parsed, serializes a key entry back to canonical text, and
// recognizes the management pragma header. It never returns a Go error for
// malformed input — malformed lines are a classification, not a failure.
package keyline // import "github.com/securesshmanager/ssm/internal/keyline"

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/securesshmanager/ssm/internal/model"
)

// PragmaLine is the exact first-line header this system recognizes as
// marking a file it owns and manages.
const PragmaLine = "# Auto-generated by Secure SSH Manager. DO NOT EDIT!"

var knownKeyTypes = map[string]bool{
	"ssh-rsa":                            true,
	"ssh-dss":                            true,
	"ssh-ed25519":                        true,
	"ecdsa-sha2-nistp256":                true,
	"ecdsa-sha2-nistp384":                true,
	"ecdsa-sha2-nistp521":                true,
	"sk-ssh-ed25519@openssh.com":         true,
	"sk-ecdsa-sha2-nistp256@openssh.com": true,
}

// IsKnownKeyType reports whether typ is a key algorithm this system
// recognizes in an authorized_keys entry.
func IsKnownKeyType(typ string) bool {
	return knownKeyTypes[typ]
}

// ParseLine classifies a single line of an authorized_keys file. Empty
// lines and comment lines are reported via IsBlankOrComment; the exact
// pragma header via IsPragma; a well-formed entry via Key; everything else
// via Fault.
func ParseLine(raw string) model.ObservedLine {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return model.ObservedLine{Raw: raw, IsBlankOrComment: true}
	}
	if trimmed[0] == '#' {
		if trimmed == PragmaLine {
			return model.ObservedLine{Raw: raw, IsPragma: true}
		}
		return model.ObservedLine{Raw: raw, IsBlankOrComment: true}
	}

	s := strings.TrimRight(strings.TrimLeft(raw, " \t"), "\r")

	firstWordEnd, err := scanUnquotedWhitespace(s)
	if err != nil {
		return faulty(raw, err.Error())
	}
	firstWord := s[:firstWordEnd]

	var optionsPart, afterOptions string
	if IsKnownKeyType(firstWord) {
		afterOptions = s
	} else {
		if _, err := SplitOptionTokens(firstWord); err != nil {
			return faulty(raw, "malformed quoted option")
		}
		if firstWordEnd == len(s) {
			return faulty(raw, "truncated line: missing key type")
		}
		optionsPart = firstWord
		afterOptions = strings.TrimLeft(s[firstWordEnd:], " \t")
	}

	keyType, afterKeyType, ok := cutField(afterOptions)
	if !ok {
		return faulty(raw, "truncated line: missing key type")
	}
	if !IsKnownKeyType(keyType) {
		return faulty(raw, fmt.Sprintf("unknown key type %q", keyType))
	}

	keyBase64, afterKeyData, ok := cutField(afterKeyType)
	if !ok {
		return faulty(raw, "truncated line: missing key data")
	}
	if _, err := base64.StdEncoding.DecodeString(keyBase64); err != nil {
		return faulty(raw, "key data is not valid base64")
	}

	comment := strings.TrimLeft(afterKeyData, " \t")

	return model.ObservedLine{
		Raw: raw,
		Key: &model.KeyLine{
			Options:   optionsPart,
			KeyType:   keyType,
			KeyBase64: keyBase64,
			Comment:   comment,
		},
	}
}

func faulty(raw, reason string) model.ObservedLine {
	return model.ObservedLine{
		Raw:   raw,
		Fault: &model.FaultyLine{Raw: raw, Reason: reason},
	}
}

// cutField trims leading whitespace and splits off the first
// whitespace-delimited field, reporting ok=false if nothing is left.
func cutField(s string) (field, rest string, ok bool) {
	s = strings.TrimLeft(s, " \t")
	if s == "" {
		return "", "", false
	}
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, "", true
	}
	return s[:idx], s[idx+1:], true
}

// scanUnquotedWhitespace returns the index of the first space or tab
// outside a double-quoted span, or len(s) if none is found. It reports an
// error if a quote is left unterminated.
func scanUnquotedWhitespace(s string) (int, error) {
	inQuote := false
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && inQuote:
			i += 2
		case c == '"':
			inQuote = !inQuote
			i++
		case (c == ' ' || c == '\t') && !inQuote:
			return i, nil
		default:
			i++
		}
	}
	if inQuote {
		return 0, fmt.Errorf("malformed quoted option: unterminated quote")
	}
	return len(s), nil
}

// SplitOptionTokens splits an options prefix by top-level commas, honoring
// double-quoted spans that may themselves contain commas and backslash
// escapes. It is shared by the parser (to validate a candidate options
// chunk) and by the diff engine (to canonicalize options for comparison).
func SplitOptionTokens(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var tokens []string
	var cur strings.Builder
	inQuote := false
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\' && inQuote && i+1 < len(s):
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i += 2
		case c == '"':
			inQuote = !inQuote
			cur.WriteByte(c)
			i++
		case c == ',' && !inQuote:
			tokens = append(tokens, cur.String())
			cur.Reset()
			i++
		default:
			cur.WriteByte(c)
			i++
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in options")
	}
	tokens = append(tokens, cur.String())
	for _, tok := range tokens {
		if strings.TrimSpace(tok) == "" {
			return nil, fmt.Errorf("empty option token")
		}
	}
	return tokens, nil
}

// Serialize renders a KeyLine back to its canonical text form: an optional
// options prefix, the key type, the base64 blob, and an optional comment,
// each separated by exactly one space with no trailing whitespace.
func Serialize(k model.KeyLine) string {
	parts := make([]string, 0, 4)
	if k.Options != "" {
		parts = append(parts, k.Options)
	}
	parts = append(parts, k.KeyType, k.KeyBase64)
	if k.Comment != "" {
		parts = append(parts, k.Comment)
	}
	return strings.Join(parts, " ")
}
