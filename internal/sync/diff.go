// internal/sync/diff.go
package sync

import (
	"github.com/google/uuid"

	"bankroll-service/internal/schema"
	"bankroll-service/pkg/models"
)

// Diff holds the three-way partition of a reconciliation: rows the destination
// is missing, rows it already has (matched by id), and rows the sheet no
// longer lists.
type Diff struct {
	ToAdd    []models.Row
	ToUpdate []models.Row
	ToDelete []models.Row
}

// BuildDiff reconciles the full incoming row set against the full destination
// snapshot using identifier sets (O(n+m)):
//
//   - incoming row with a known id → ToUpdate (always, even when no field
//     differs — spreadsheet touch-ups are tolerated by re-writing the row)
//   - incoming row without an id → fresh uuid, ToAdd
//   - destination row whose id is absent from the incoming set → ToDelete
//
// The sheet is the authoritative membership list: this is full-replace
// reconciliation, not an incremental merge. Derived columns are stripped from
// every outgoing row since the destination computes those itself.
func BuildDiff(table string, incoming, existing []models.Row) Diff {
	existingIDs := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		if id := row.ID(); id != "" {
			existingIDs[id] = struct{}{}
		}
	}

	var d Diff
	incomingIDs := make(map[string]struct{}, len(incoming))
	for _, row := range incoming {
		r := row.Clone()
		id := r.ID()
		if id == "" {
			id = uuid.NewString()
			r["id"] = id
			d.ToAdd = append(d.ToAdd, r)
		} else if _, ok := existingIDs[id]; ok {
			d.ToUpdate = append(d.ToUpdate, r)
		} else {
			d.ToAdd = append(d.ToAdd, r)
		}
		incomingIDs[id] = struct{}{}
	}

	for _, row := range existing {
		if _, ok := incomingIDs[row.ID()]; !ok {
			d.ToDelete = append(d.ToDelete, row)
		}
	}

	if sch, ok := schema.SchemaOf(table); ok {
		stripDerived(d.ToAdd, sch)
		stripDerived(d.ToUpdate, sch)
	}
	return d
}

func stripDerived(rows []models.Row, sch schema.TableSchema) {
	derived := sch.DerivedFields()
	if len(derived) == 0 {
		return
	}
	for _, row := range rows {
		for _, f := range derived {
			delete(row, f)
		}
	}
}
