package sshutil

import (
	"strings"
	"testing"

	"github.com/securesshmanager/ssm/internal/model"
)

func TestWeakKeyAlgorithmFlagsDSSAndRSA(t *testing.T) {
	if WeakKeyAlgorithm("ssh-ed25519") != "" {
		t.Fatal("ed25519 must not be flagged")
	}
	if WeakKeyAlgorithm("ssh-dss") == "" {
		t.Fatal("ssh-dss must be flagged")
	}
	if WeakKeyAlgorithm("ssh-rsa") == "" {
		t.Fatal("ssh-rsa must be flagged")
	}
}

func TestFormatFingerprintFallsBackOnError(t *testing.T) {
	bad := model.UserKey{KeyType: "ssh-ed25519", KeyBase64: "not-valid-base64!!"}
	got := FormatFingerprint(bad.KeyType, bad)
	if !strings.Contains(got, "unfingerprintable") {
		t.Fatalf("expected a fallback message, got %q", got)
	}
}

func TestFormatDiffItemRendersEachKind(t *testing.T) {
	cases := []struct {
		item DiffItemCase
		want []string
	}{
		{DiffItemCase{Kind: model.KindPragmaMissing, Login: "deploy"}, []string{"[deploy]", "header missing"}},
		{DiffItemCase{Kind: model.KindKeyMissing, Login: "deploy", Fingerprint: "SHA256:abc"}, []string{"SHA256:abc"}},
		{DiffItemCase{Kind: model.KindFaultyKey, Login: "deploy", Line: "garbage", ParseError: "short line"}, []string{"garbage", "short line"}},
	}
	for _, c := range cases {
		item := model.DiffItem{Kind: c.item.Kind, Login: c.item.Login, Line: c.item.Line, ParseError: c.item.ParseError}
		item.Key.Fingerprint = c.item.Fingerprint
		got := FormatDiffItem(item)
		for _, want := range c.want {
			if !strings.Contains(got, want) {
				t.Fatalf("FormatDiffItem(%+v) = %q, want it to contain %q", item, got, want)
			}
		}
	}
}

// DiffItemCase is a minimal literal shape for TestFormatDiffItemRendersEachKind's
// table; it exists only to keep the table's field names self-explanatory.
type DiffItemCase struct {
	Kind        model.DiffKind
	Login       string
	Fingerprint string
	Line        string
	ParseError  string
}

func TestFormatDiffSummaryInSyncAndWithFindings(t *testing.T) {
	if got := FormatDiffSummary("web1", model.DiffSummary{}); got != "web1: in sync" {
		t.Fatalf("got %q", got)
	}

	summary := model.Summarize([]model.DiffItem{
		{Kind: model.KindPragmaMissing, Login: "deploy"},
		{Kind: model.KindKeyMissing, Login: "deploy"},
		{Kind: model.KindKeyMissing, Login: "deploy"},
	})
	got := FormatDiffSummary("web1", summary)
	if !strings.Contains(got, "critical") {
		t.Fatalf("expected critical severity in %q", got)
	}
	if !strings.Contains(got, "3 findings") {
		t.Fatalf("expected a total of 3 findings in %q", got)
	}
	if !strings.Contains(got, "2 KeyMissing") {
		t.Fatalf("expected the KeyMissing count in %q", got)
	}
}
