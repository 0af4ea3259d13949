package diffengine

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/securesshmanager/ssm/internal/keyline"
	"github.com/securesshmanager/ssm/internal/model"
)

// PlanNewFile builds the replacement authorized_keys body for a login: the
// pragma header followed by the expected keys serialized in ascending
// fingerprint order with canonicalized options. This is what the reconciler
// hands to the remote agent's set_authorized_keyfile verb.
func PlanNewFile(expected model.ExpectedLogin) ([]byte, error) {
	type row struct {
		fp   string
		line model.KeyLine
	}

	rows := make([]row, 0, len(expected.Entries))
	for _, e := range expected.Entries {
		fp, err := e.Key.Fingerprint()
		if err != nil {
			return nil, fmt.Errorf("fingerprint expected key %d: %w", e.Key.ID, err)
		}
		rows = append(rows, row{
			fp: fp,
			line: model.KeyLine{
				Options:   CanonicalizeOptions(e.Options),
				KeyType:   e.Key.KeyType,
				KeyBase64: e.Key.KeyBase64,
			},
		})
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
