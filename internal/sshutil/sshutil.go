// package sshutil collects the small classification and formatting helpers
// shared by the core engine and cmd/ssmd: weak-algorithm warnings and
// human-readable renderings of a DiffItem/DiffSummary for terminal output.
// Nothing here touches the network or the repository; it only turns values
// the rest of the packages already produce into strings worth printing.
package sshutil // import "github.com/securesshmanager/ssm/internal/sshutil"

import (
	"fmt"
	"strings"

	"github.com/securesshmanager/ssm/internal/model"
)

// WeakKeyAlgorithm returns a non-empty warning when keyType is known to be
// cryptographically weak or deprecated, and an empty string otherwise. It
// applies to both host keys (trust-on-first-use pinning) and user keys
// (authorization review), since the same algorithms are weak in either role.
func WeakKeyAlgorithm(keyType string) string {
	switch keyType {
	case "ssh-dss":
		return "uses the deprecated and insecure ssh-dss (DSA) algorithm"
	case "ssh-rsa":
		return "uses ssh-rsa, which is disabled by default in modern OpenSSH; consider re-keying"
	default:
		return ""
	}
}

// FormatFingerprint renders key as "<type> <fingerprint>" for log lines and
// trust prompts, falling back to the raw error text if the key cannot be
// fingerprinted.
func FormatFingerprint(keyType string, fingerprinter interface{ Fingerprint() (string, error) }) string {
	fp, err := fingerprinter.Fingerprint()
	if err != nil {
		return fmt.Sprintf("%s <unfingerprintable: %v>", keyType, err)
	}
	return fmt.Sprintf("%s %s", keyType, fp)
}

// kindLabel is the one-line, human phrasing of a DiffKind used by
// FormatDiffItem. It deliberately differs from DiffKind.String(), which is
// the stable machine-facing tag used in event metadata.
func kindLabel(k model.DiffKind) string {
	switch k {
	case model.KindPragmaMissing:
		return "managed-file header missing"
	case model.KindKeyMissing:
		return "expected key missing"
	case model.KindUnauthorizedKey:
		return "key present but not authorized"
	case model.KindFaultyKey:
		return "unparseable line"
	case model.KindDuplicateKey:
		return "key duplicated"
	case model.KindIncorrectOptions:
		return "key options incorrect"
	case model.KindUnknownKey:
		return "key of unknown origin"
	default:
		return "unrecognized finding"
	}
}

// FormatDiffItem renders one finding as a single line suitable for a diff
// listing: "[login] kind: detail".
func FormatDiffItem(item model.DiffItem) string {
	var detail string
	switch item.Kind {
	case model.KindKeyMissing:
		detail = item.Key.Fingerprint
		if item.ExpectedOptions != "" {
			detail += fmt.Sprintf(" (options %q)", item.ExpectedOptions)
		}
	case model.KindUnauthorizedKey, model.KindUnknownKey:
		detail = item.Key.Fingerprint
	case model.KindDuplicateKey:
		detail = item.Key.Fingerprint
	case model.KindIncorrectOptions:
		detail = fmt.Sprintf("%s: have %q, want %q", item.Key.Fingerprint, item.ActualOptions, item.ExpectedOptions)
	case model.KindFaultyKey:
		detail = fmt.Sprintf("%q: %s", item.Line, item.ParseError)
	case model.KindPragmaMissing:
		detail = ""
	}
	if detail == "" {
		return fmt.Sprintf("[%s] %s", item.Login, kindLabel(item.Kind))
	}
	return fmt.Sprintf("[%s] %s: %s", item.Login, kindLabel(item.Kind), detail)
}

// FormatDiffSummary renders a host's aggregate diff result as a single
// status line, e.g. "web1: critical (4 findings: 1 PragmaMissing, 3
// KeyMissing)".
func FormatDiffSummary(hostName string, summary model.DiffSummary) string {
	if summary.Total == 0 {
		return fmt.Sprintf("%s: in sync", hostName)
	}

	kinds := []model.DiffKind{
		model.KindPragmaMissing,
		model.KindKeyMissing,
		model.KindUnauthorizedKey,
		model.KindFaultyKey,
		model.KindDuplicateKey,
		model.KindIncorrectOptions,
		model.KindUnknownKey,
	}
	var parts []string
	for _, k := range kinds {
		if n := summary.CategoryCounts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}

	severity := model.ClassifySeverity(summary)
	return fmt.Sprintf("%s: %s (%d findings: %s)", hostName, severity, summary.Total, strings.Join(parts, ", "))
}
