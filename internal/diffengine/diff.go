// package diffengine compares a host's desired state against its observed
// state and produces the tagged DiffItem list the reconciler acts on.
package diffengine // import "github.com/securesshmanager/ssm/internal/diffengine"

import (
	"context"
	"fmt"
	"sort"

	"github.com/securesshmanager/ssm/internal/model"
)

// KeyLookup is the narrow repository slice the diff engine needs to tell
// an UnauthorizedKey (known to the system, not authorized here) from an
// UnknownKey (not known to the system at all).
type KeyLookup interface {
	FindUserKeyByFingerprint(ctx context.Context, fingerprint string) (model.UserKey, bool, error)
}

// Diff compares every login present in either state and returns the
// per-login DiffItem lists (each already sorted per model.SortDiffItems)
// alongside the aggregate summary.
func Diff(ctx context.Context, lookup KeyLookup, expected model.ExpectedHostState, observed model.ObservedHostState) (map[string][]model.DiffItem, model.DiffSummary, error) {
	result := make(map[string][]model.DiffItem)
	seq := 0

	for _, login := range unionLogins(expected, observed) {
		exp, expPresent := expected.PerLogin[login]
		obs, obsPresent := observed.PerLogin[login]

		items, nextSeq, err := diffLogin(ctx, lookup, login, exp, expPresent, obs, obsPresent, seq)
		if err != nil {
			return nil, model.DiffSummary{}, fmt.Errorf("diff login %q: %w", login, err)
		}
		seq = nextSeq
		if len(items) == 0 {
			continue
		}
		model.SortDiffItems(items)
		result[login] = items
	}

	var all []model.DiffItem
	for _, items := range result {
		all = append(all, items...)
	}
	return result, model.Summarize(all), nil
}

func unionLogins(expected model.ExpectedHostState, observed model.ObservedHostState) []string {
	seen := make(map[string]bool)
	var logins []string
	for login := range expected.PerLogin {
		if !seen[login] {
			seen[login] = true
			logins = append(logins, login)
		}
	}
	for login := range observed.PerLogin {
		if !seen[login] {
			seen[login] = true
			logins = append(logins, login)
		}
	}
	sort.Strings(logins)
	return logins
}

type observedOccurrence struct {
	line model.KeyLine
	raw  string
}

func diffLogin(
	ctx context.Context,
	lookup KeyLookup,
	login string,
	exp model.ExpectedLogin,
	expPresent bool,
	obs model.ObservedLogin,
	obsPresent bool,
	seq int,
) ([]model.DiffItem, int, error) {
	if !expPresent && !obsPresent {
		return nil, seq, nil
	}

	var items []model.DiffItem
	emit := func(it model.DiffItem) {
		items = append(items, it.WithSeq(seq))
		seq++
	}

	// get_ssh_users only lists logins with an authorized_keys file (§4.4),
	// so a login that is expected but absent from observed never got a
	// file at all: treat that as an implicit empty, header-less
	// ObservedLogin rather than skipping the header check entirely.
	if expPresent && !obsPresent {
		obs = model.ObservedLogin{}
		obsPresent = true
	}

	if obsPresent && !obs.HeaderPresent {
		emit(model.DiffItem{Kind: model.KindPragmaMissing, Login: login})
	}

	expectedByFP := make(map[string]model.ExpectedEntry, len(exp.Entries))
	for _, e := range exp.Entries {
		fp, err := e.Key.Fingerprint()
		if err != nil {
			continue
		}
		expectedByFP[fp] = e
	}

	observedByFP := make(map[string][]observedOccurrence)
	for _, ol := range obs.Lines {
		switch {
		case ol.Fault != nil:
			emit(model.DiffItem{Kind: model.KindFaultyKey, Login: login, Line: ol.Fault.Raw, ParseError: ol.Fault.Reason})
		case ol.Key != nil:
			fp, err := ol.Key.Fingerprint()
			if err != nil {
				emit(model.DiffItem{Kind: model.KindFaultyKey, Login: login, Line: ol.Raw, ParseError: "undecodable key blob: " + err.Error()})
				continue
			}
			observedByFP[fp] = append(observedByFP[fp], observedOccurrence{line: *ol.Key, raw: ol.Raw})
		}
		// blank, comment, and pragma lines carry no key and are not compared.
	}

	for _, fp := range sortedFPKeys(observedByFP) {
		occurrences := observedByFP[fp]
		first := occurrences[0]
		for range occurrences[1:] {
			emit(model.DiffItem{Kind: model.KindDuplicateKey, Login: login, Key: keyRefFrom(first.line, fp)})
		}

		expEntry, expOK := expectedByFP[fp]
		if !expOK {
			known, ok, err := lookup.FindUserKeyByFingerprint(ctx, fp)
			if err != nil {
				return nil, seq, fmt.Errorf("lookup fingerprint %s: %w", fp, err)
			}
			if ok {
				_ = known
				emit(model.DiffItem{Kind: model.KindUnauthorizedKey, Login: login, Key: keyRefFrom(first.line, fp), Line: first.raw})
			} else {
				emit(model.DiffItem{Kind: model.KindUnknownKey, Login: login, Key: keyRefFrom(first.line, fp), Line: first.raw})
			}
			continue
		}
		if !OptionsEqual(expEntry.Options, first.line.Options) {
			emit(model.DiffItem{
				Kind:            model.KindIncorrectOptions,
				Login:           login,
				Key:             keyRefFrom(first.line, fp),
				ExpectedOptions: CanonicalizeOptions(expEntry.Options),
				ActualOptions:   CanonicalizeOptions(first.line.Options),
			})
		}
	}

	for _, fp := range sortedExpectedKeys(expectedByFP) {
		if _, ok := observedByFP[fp]; ok {
			continue
		}
		e := expectedByFP[fp]
		emit(model.DiffItem{
			Kind:            model.KindKeyMissing,
			Login:           login,
			Key:             model.KeyRef{KeyType: e.Key.KeyType, KeyBase64: e.Key.KeyBase64, Fingerprint: fp},
			ExpectedOptions: e.Options,
		})
	}

	return items, seq, nil
}

func keyRefFrom(k model.KeyLine, fp string) model.KeyRef {
	return model.KeyRef{KeyType: k.KeyType, KeyBase64: k.KeyBase64, Fingerprint: fp}
}

func sortedFPKeys(m map[string][]observedOccurrence) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedExpectedKeys(m map[string]model.ExpectedEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
