package types

import "time"

// FactRow is a snapshot of one object's facts over the interval
// [ValidFrom, ValidTo). A nil ValidTo marks the open row; a collection holds
// at most one open row per object.
type FactRow struct {
	RowID     string     `json:"row_id"`
	Ref       Ref        `json:"ref"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
	Facts     Facts      `json:"facts"`
}

// IsOpen reports whether the row is the current row for its object.
func (r *FactRow) IsOpen() bool {
	return r.ValidTo == nil
}

// ValidAt reports whether the row describes its object at time t.
func (r *FactRow) ValidAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	return r.ValidTo == nil || t.Before(*r.ValidTo)
}
