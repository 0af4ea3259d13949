package model

import "sort"

// DiffKind is the tag of a DiffItem's variant. Values are in the order the
// diff engine must sort by.
type DiffKind int

const (
	KindPragmaMissing DiffKind = iota
	KindKeyMissing
	KindUnauthorizedKey
	KindFaultyKey
	KindDuplicateKey
	KindIncorrectOptions
	KindUnknownKey
)

// String names a DiffKind for logging and event metadata.
func (k DiffKind) String() string {
	switch k {
	case KindPragmaMissing:
		return "PragmaMissing"
	case KindKeyMissing:
		return "KeyMissing"
	case KindUnauthorizedKey:
		return "UnauthorizedKey"
	case KindFaultyKey:
		return "FaultyKey"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindIncorrectOptions:
		return "IncorrectOptions"
	case KindUnknownKey:
		return "UnknownKey"
	default:
		return "Unknown"
	}
}

// KeyRef identifies a key involved in a DiffItem without requiring a
// repository row to exist for it (UnknownKey has no UserKey).
type KeyRef struct {
	KeyType     string
	KeyBase64   string
	Fingerprint string
}

// DiffItem is one finding from comparing an ExpectedLogin against an
// ObservedLogin. It is a tagged variant over the seven DiffKinds; only the
// fields relevant to Kind are populated.
type DiffItem struct {
	Kind  DiffKind
	Login string

	Key KeyRef // KeyMissing, UnauthorizedKey, DuplicateKey, IncorrectOptions, UnknownKey

	ExpectedOptions string // KeyMissing (if any), IncorrectOptions
	ActualOptions   string // IncorrectOptions

	Line string // raw observed line: UnauthorizedKey, UnknownKey, FaultyKey

	ParseError string // FaultyKey

	seq int // stable tiebreaker for items with no meaningful fingerprint order
}

// SortDiffItems orders items per the spec: PragmaMissing first, then by
// category in declaration order, then by fingerprint ascending within a
// category. Faulty entries have no fingerprint and fall back to the order
// they were encountered in.
func SortDiffItems(items []DiffItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Key.Fingerprint != b.Key.Fingerprint {
			return a.Key.Fingerprint < b.Key.Fingerprint
		}
		return a.seq < b.seq
	})
}

// WithSeq returns a copy of the item tagged with its encounter order, used
// by SortDiffItems as a tiebreaker. Diff producers call this once per item
// as they build the unsorted list.
func (d DiffItem) WithSeq(seq int) DiffItem {
	d.seq = seq
	return d
}

// DiffSummary aggregates a per-login diff list into totals for reporting.
type DiffSummary struct {
	Total          int
	CategoryCounts map[DiffKind]int
}

// Summarize computes a DiffSummary over a flattened list of DiffItems.
func Summarize(items []DiffItem) DiffSummary {
	s := DiffSummary{CategoryCounts: make(map[DiffKind]int)}
	for _, it := range items {
		s.Total++
		s.CategoryCounts[it.Kind]++
	}
	return s
}

// Severity is a derived, at-a-glance classification of a host's diff
// result, generalizing the three-level drift classification a dashboard
// wants without walking every DiffItem.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ClassifySeverity derives a single Severity from a diff summary.
// PragmaMissing, FaultyKey, and UnauthorizedKey are critical (the managed
// file's integrity or a known key's improper access is at stake);
// KeyMissing and IncorrectOptions are warnings (expected access isn't
// granted correctly); DuplicateKey and UnknownKey alone are informational.
func ClassifySeverity(s DiffSummary) Severity {
	if s.Total == 0 {
		return SeverityNone
	}
	if s.CategoryCounts[KindPragmaMissing] > 0 ||
		s.CategoryCounts[KindFaultyKey] > 0 ||
		s.CategoryCounts[KindUnauthorizedKey] > 0 {
		return SeverityCritical
	}
	if s.CategoryCounts[KindKeyMissing] > 0 || s.CategoryCounts[KindIncorrectOptions] > 0 {
		return SeverityWarning
	}
	return SeverityInfo
}
