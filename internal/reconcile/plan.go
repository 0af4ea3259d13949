package reconcile

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/securesshmanager/ssm/internal/diffengine"
	"github.com/securesshmanager/ssm/internal/keyline"
	"github.com/securesshmanager/ssm/internal/model"
)

// DiffItemID is a stable identifier for one DiffItem within a host's diff
// result, usable in apply_one's selection set across a diff→apply
// round-trip (it does not need to survive past one diff computation).
type DiffItemID string

// DiffItemIDOf derives item's id from its login, kind, and the field that
// makes it unique within that (login, kind) pair.
func DiffItemIDOf(item model.DiffItem) DiffItemID {
	switch item.Kind {
	case model.KindPragmaMissing:
		return DiffItemID(fmt.Sprintf("%s:%s", item.Login, item.Kind))
	case model.KindFaultyKey:
		return DiffItemID(fmt.Sprintf("%s:%s:%s", item.Login, item.Kind, item.Line))
	default:
		return DiffItemID(fmt.Sprintf("%s:%s:%s", item.Login, item.Kind, item.Key.Fingerprint))
	}
}

// planLoginContent builds the replacement authorized_keys body for one
// login. With no selection, this is exactly diffengine.PlanNewFile(exp) —
// the full expected state, byte-for-byte. A non-nil selection restricts
// which of diffItems actually take effect: an unselected KeyMissing isn't
// added, an unselected UnauthorizedKey/UnknownKey is kept as observed
// instead of dropped, and an unselected IncorrectOptions keeps the
// observed options. PragmaMissing, DuplicateKey, and FaultyKey are always
// corrected regardless of selection: this system owns the whole file, so
// there is no sense in which a caller can ask to keep a second copy of a
// duplicate key or preserve an unparseable line.
func planLoginContent(diffItems []model.DiffItem, exp model.ExpectedLogin, selection map[DiffItemID]bool) ([]byte, error) {
	if selection == nil {
		return diffengine.PlanNewFile(exp)
	}

	type row struct {
		fp   string
		line model.KeyLine
	}
	byFP := make(map[string]row, len(exp.Entries))
	for _, e := range exp.Entries {
		fp, err := e.Key.Fingerprint()
		if err != nil {
			return nil, fmt.Errorf("fingerprint expected key %d: %w", e.Key.ID, err)
		}
		byFP[fp] = row{fp: fp, line: model.KeyLine{
			Options:   diffengine.CanonicalizeOptions(e.Options),
			KeyType:   e.Key.KeyType,
			KeyBase64: e.Key.KeyBase64,
		}}
	}

	for _, item := range diffItems {
		selected := selection[DiffItemIDOf(item)]
		switch item.Kind {
		case model.KindKeyMissing:
			if !selected {
				delete(byFP, item.Key.Fingerprint)
			}
		case model.KindUnauthorizedKey, model.KindUnknownKey:
			if !selected {
				parsed := keyline.ParseLine(item.Line)
				if parsed.Key != nil {
					byFP[item.Key.Fingerprint] = row{fp: item.Key.Fingerprint, line: *parsed.Key}
				}
			}
		case model.KindIncorrectOptions:
			if !selected {
				if r, ok := byFP[item.Key.Fingerprint]; ok {
					r.line.Options = diffengine.CanonicalizeOptions(item.ActualOptions)
					byFP[item.Key.Fingerprint] = r
				}
			}
		}
	}

	rows := make([]row, 0, len(byFP))
	for _, r := range byFP {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].fp < rows[j].fp })

	var buf bytes.Buffer
	buf.WriteString(keyline.PragmaLine)
	buf.WriteByte('\n')
	for _, r := range rows {
		buf.WriteString(keyline.Serialize(r.line))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
