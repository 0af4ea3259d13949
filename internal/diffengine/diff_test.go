package diffengine

import (
	"context"
	"testing"

	"github.com/securesshmanager/ssm/internal/model"
)

const (
	blobA = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	blobB = "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE="
	blobC = "AgICAgICAgICAgICAgICAgICAgICAgICAgICAgICAgI="
)

func fingerprintOrFatal(t *testing.T, keyBase64 string) string {
	t.Helper()
	fp, err := (model.UserKey{KeyBase64: keyBase64}).Fingerprint()
	if err != nil {
		t.Fatalf("fingerprint %q: %v", keyBase64, err)
	}
	return fp
}

type fakeLookup map[string]model.UserKey

func (f fakeLookup) FindUserKeyByFingerprint(_ context.Context, fp string) (model.UserKey, bool, error) {
	k, ok := f[fp]
	return k, ok, nil
}

func TestDiffKeyMissingWhenExpectedNotObserved(t *testing.T) {
	expected := model.ExpectedHostState{PerLogin: map[string]model.ExpectedLogin{
		"deploy": {Entries: []model.ExpectedEntry{{Key: model.UserKey{KeyType: "ssh-ed25519", KeyBase64: blobA}}}},
	}}
	observed := model.ObservedHostState{PerLogin: map[string]model.ObservedLogin{
		"deploy": {HeaderPresent: true},
	}}

	byLogin, summary, err := Diff(context.Background(), fakeLookup{}, expected, observed)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	items := byLogin["deploy"]
	if len(items) != 1 || items[0].Kind != model.KindKeyMissing {
		t.Fatalf("expected single KeyMissing item, got %+v", items)
	}
	if summary.Total != 1 {
		t.Fatalf("expected summary total 1, got %d", summary.Total)
	}
}

func TestDiffPragmaAndKeyMissingWhenLoginAbsentFromObserved(t *testing.T) {
	expected := model.ExpectedHostState{PerLogin: map[string]model.ExpectedLogin{
		"deploy": {Entries: []model.ExpectedEntry{{Key: model.UserKey{KeyType: "ssh-ed25519", KeyBase64: blobA}}}},
	}}
	observed := model.ObservedHostState{PerLogin: map[string]model.ObservedLogin{}}

	byLogin, summary, err := Diff(context.Background(), fakeLookup{}, expected, observed)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	items := byLogin["deploy"]
	if len(items) != 2 {
		t.Fatalf("expected PragmaMissing and KeyMissing for a login absent from observed entirely, got %+v", items)
	}
	if items[0].Kind != model.KindPragmaMissing {
		t.Fatalf("expected PragmaMissing first, got %+v", items[0])
	}
	if items[1].Kind != model.KindKeyMissing {
		t.Fatalf("expected KeyMissing second, got %+v", items[1])
	}
	if summary.Total != 2 {
		t.Fatalf("expected summary total 2, got %d", summary.Total)
	}
}

func TestDiffUnauthorizedVsUnknownKey(t *testing.T) {
	fpA := fingerprintOrFatal(t, blobA)
	lookup := fakeLookup{fpA: {KeyType: "ssh-ed25519", KeyBase64: blobA}}

	observed := model.ObservedHostState{PerLogin: map[string]model.ObservedLogin{
		"deploy": {
			HeaderPresent: true,
			Lines: []model.ObservedLine{
				{Raw: "ssh-ed25519 " + blobA, Key: &model.KeyLine{KeyType: "ssh-ed25519", KeyBase64: blobA}},
				{Raw: "ssh-ed25519 " + blobB, Key: &model.KeyLine{KeyType: "ssh-ed25519", KeyBase64: blobB}},
			},
		},
	}}
	expected := model.ExpectedHostState{PerLogin: map[string]model.ExpectedLogin{"deploy": {}}}

	byLogin, _, err := Diff(context.Background(), lookup, expected, observed)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	items := byLogin["deploy"]
	var sawUnauthorized, sawUnknown bool
	for _, it := range items {
		switch it.Kind {
		case model.KindUnauthorizedKey:
			sawUnauthorized = true
			if it.Key.KeyBase64 != blobA {
				t.Fatalf("expected UnauthorizedKey for blobA, got %+v", it)
			}
		case model.KindUnknownKey:
			sawUnknown = true
			if it.Key.KeyBase64 != blobB {
				t.Fatalf("expected UnknownKey for blobB, got %+v", it)
			}
		}
	}
	if !sawUnauthorized || !sawUnknown {
		t.Fatalf("expected both UnauthorizedKey and UnknownKey, got %+v", items)
	}
}

func TestDiffDuplicateKeyForExtraOccurrences(t *testing.T) {
	observed := model.ObservedHostState{PerLogin: map[string]model.ObservedLogin{
		"deploy": {
			HeaderPresent: true,
			Lines: []model.ObservedLine{
				{Raw: "ssh-ed25519 " + blobA + " first", Key: &model.KeyLine{KeyType: "ssh-ed25519", KeyBase64: blobA, Comment: "first"}},
				{Raw: "ssh-ed25519 " + blobA + " second", Key: &model.KeyLine{KeyType: "ssh-ed25519", KeyBase64: blobA, Comment: "second"}},
			},
		},
	}}
	expected := model.ExpectedHostState{PerLogin: map[string]model.ExpectedLogin{
		"deploy": {Entries: []model.ExpectedEntry{{Key: model.UserKey{KeyType: "ssh-ed25519", KeyBase64: blobA}}}},
	}}

	byLogin, _, err := Diff(context.Background(), fakeLookup{}, expected, observed)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	var dup int
	for _, it := range byLogin["deploy"] {
		if it.Kind == model.KindDuplicateKey {
			dup++
		}
	}
	if dup != 1 {
		t.Fatalf("expected exactly 1 DuplicateKey item for 2 occurrences, got %d", dup)
	}
}

func TestDiffIncorrectOptionsWhenCanonicalFormsDiffer(t *testing.T) {
	observed := model.ObservedHostState{PerLogin: map[string]model.ObservedLogin{
		"deploy": {
			HeaderPresent: true,
			Lines: []model.ObservedLine{
				{Raw: "no-pty ssh-ed25519 " + blobA, Key: &model.KeyLine{Options: "no-pty", KeyType: "ssh-ed25519", KeyBase64: blobA}},
			},
		},
	}}
	expected := model.ExpectedHostState{PerLogin: map[string]model.ExpectedLogin{
		"deploy": {Entries: []model.ExpectedEntry{{
			Key: model.UserKey{KeyType: "ssh-ed25519", KeyBase64: blobA}, Options: "no-pty,restrict",
		}}},
	}}

	byLogin, _, err := Diff(context.Background(), fakeLookup{}, expected, observed)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	items := byLogin["deploy"]
	if len(items) != 1 || items[0].Kind != model.KindIncorrectOptions {
		t.Fatalf("expected single IncorrectOptions item, got %+v", items)
	}
}

func TestDiffIncorrectOptionsReportsCanonicalForms(t *testing.T) {
	observed := model.ObservedHostState{PerLogin: map[string]model.ObservedLogin{
		"deploy": {
			HeaderPresent: true,
			Lines: []model.ObservedLine{
				{Raw: `command="/bin/sh",no-pty ssh-ed25519 ` + blobA, Key: &model.KeyLine{Options: `command="/bin/sh",no-pty`, KeyType: "ssh-ed25519", KeyBase64: blobA}},
			},
		},
	}}
	expected := model.ExpectedHostState{PerLogin: map[string]model.ExpectedLogin{
		"deploy": {Entries: []model.ExpectedEntry{{
			Key: model.UserKey{KeyType: "ssh-ed25519", KeyBase64: blobA}, Options: `no-pty,command="/bin/bash"`,
		}}},
	}}

	byLogin, _, err := Diff(context.Background(), fakeLookup{}, expected, observed)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	items := byLogin["deploy"]
	if len(items) != 1 || items[0].Kind != model.KindIncorrectOptions {
		t.Fatalf("expected single IncorrectOptions item, got %+v", items)
	}
	const wantExpected = `command="/bin/bash",no-pty`
	const wantActual = `command="/bin/sh",no-pty`
	if items[0].ExpectedOptions != wantExpected {
		t.Fatalf("expected canonical ExpectedOptions %q, got %q", wantExpected, items[0].ExpectedOptions)
	}
	if items[0].ActualOptions != wantActual {
		t.Fatalf("expected canonical ActualOptions %q, got %q", wantActual, items[0].ActualOptions)
	}
}

func TestDiffPragmaMissingWhenHeaderAbsent(t *testing.T) {
	observed := model.ObservedHostState{PerLogin: map[string]model.ObservedLogin{
		"deploy": {HeaderPresent: false},
	}}
	expected := model.ExpectedHostState{PerLogin: map[string]model.ExpectedLogin{"deploy": {}}}

	byLogin, _, err := Diff(context.Background(), fakeLookup{}, expected, observed)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	items := byLogin["deploy"]
	if len(items) != 1 || items[0].Kind != model.KindPragmaMissing {
		t.Fatalf("expected single PragmaMissing item, got %+v", items)
	}
}

func TestDiffFaultyKeyFromObservedFault(t *testing.T) {
	observed := model.ObservedHostState{PerLogin: map[string]model.ObservedLogin{
		"deploy": {
			HeaderPresent: true,
			Lines: []model.ObservedLine{
				{Raw: "garbage line", Fault: &model.FaultyLine{Raw: "garbage line", Reason: "unknown key type"}},
			},
		},
	}}
	expected := model.ExpectedHostState{PerLogin: map[string]model.ExpectedLogin{"deploy": {}}}

	byLogin, _, err := Diff(context.Background(), fakeLookup{}, expected, observed)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	items := byLogin["deploy"]
	if len(items) != 1 || items[0].Kind != model.KindFaultyKey || items[0].ParseError != "unknown key type" {
		t.Fatalf("expected single FaultyKey item, got %+v", items)
	}
}

func TestDiffSkipsLoginAbsentFromBothStates(t *testing.T) {
	byLogin, summary, err := Diff(context.Background(), fakeLookup{}, model.ExpectedHostState{}, model.ObservedHostState{})
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(byLogin) != 0 || summary.Total != 0 {
		t.Fatalf("expected no diff items, got %+v / %+v", byLogin, summary)
	}
}

func TestPlanNewFileOrdersByFingerprintAndCanonicalizesOptions(t *testing.T) {
	expected := model.ExpectedLogin{Entries: []model.ExpectedEntry{
		{Key: model.UserKey{KeyType: "ssh-ed25519", KeyBase64: blobC, Name: "c-key"}, Options: "restrict,no-pty"},
		{Key: model.UserKey{KeyType: "ssh-ed25519", KeyBase64: blobA, Name: "a-key"}},
	}}

	body, err := PlanNewFile(expected)
	if err != nil {
		t.Fatalf("PlanNewFile: %v", err)
	}
	fpA := fingerprintOrFatal(t, blobA)
	fpC := fingerprintOrFatal(t, blobC)
	firstIsA := fpA < fpC

	s := string(body)
	idxA := indexOf(s, blobA)
	idxC := indexOf(s, blobC)
	if firstIsA && idxA > idxC {
		t.Fatalf("expected blobA to sort before blobC by fingerprint, got: %s", s)
	}
	if !firstIsA && idxC > idxA {
		t.Fatalf("expected blobC to sort before blobA by fingerprint, got: %s", s)
	}
	if indexOf(s, "no-pty,restrict ssh-ed25519 "+blobC) < 0 {
		t.Fatalf("expected canonicalized options for blobC, got: %s", s)
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
