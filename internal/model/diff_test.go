package model

import "testing"

func TestSortDiffItemsOrdersByCategoryThenFingerprint(t *testing.T) {
	items := []DiffItem{
		DiffItem{Kind: KindUnknownKey, Key: KeyRef{Fingerprint: "SHA256:z"}}.WithSeq(0),
		DiffItem{Kind: KindKeyMissing, Key: KeyRef{Fingerprint: "SHA256:b"}}.WithSeq(1),
		DiffItem{Kind: KindPragmaMissing}.WithSeq(2),
		DiffItem{Kind: KindKeyMissing, Key: KeyRef{Fingerprint: "SHA256:a"}}.WithSeq(3),
	}

	SortDiffItems(items)

	want := []DiffKind{KindPragmaMissing, KindKeyMissing, KindKeyMissing, KindUnknownKey}
	for i, k := range want {
		if items[i].Kind != k {
			t.Fatalf("position %d: got kind %v, want %v", i, items[i].Kind, k)
		}
	}
	if items[1].Key.Fingerprint != "SHA256:a" || items[2].Key.Fingerprint != "SHA256:b" {
		t.Fatalf("KeyMissing items not sorted by fingerprint: %+v", items[1:3])
	}
}

func TestSortDiffItemsStableForEqualFingerprints(t *testing.T) {
	items := []DiffItem{
		DiffItem{Kind: KindFaultyKey, ParseError: "first"}.WithSeq(0),
		DiffItem{Kind: KindFaultyKey, ParseError: "second"}.WithSeq(1),
	}
	SortDiffItems(items)
	if items[0].ParseError != "first" || items[1].ParseError != "second" {
		t.Fatalf("expected encounter order preserved, got %+v", items)
	}
}

func TestClassifySeverity(t *testing.T) {
	cases := []struct {
		name string
		in   DiffSummary
		want Severity
	}{
		{"empty", DiffSummary{CategoryCounts: map[DiffKind]int{}}, SeverityNone},
		{
			"unauthorized is critical",
			DiffSummary{Total: 1, CategoryCounts: map[DiffKind]int{KindUnauthorizedKey: 1}},
			SeverityCritical,
		},
		{
			"missing key is warning",
			DiffSummary{Total: 1, CategoryCounts: map[DiffKind]int{KindKeyMissing: 1}},
			SeverityWarning,
		},
		{
			"unknown key alone is info",
			DiffSummary{Total: 1, CategoryCounts: map[DiffKind]int{KindUnknownKey: 1}},
			SeverityInfo,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySeverity(tc.in); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}
