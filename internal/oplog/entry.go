package oplog

import "github.com/roach88/dodgesync/internal/entity"

// Op is the mutation an entry records.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Entry is one intended mutation. Data is the create payload, the update
// patch, or nil for a delete.
type Entry struct {
	TS     int64          `json:"ts"`
	Entity entity.Kind    `json:"entity"`
	Op     Op             `json:"op"`
	ID     string         `json:"id"`
	Data   entity.Payload `json:"data,omitempty"`
}

// key groups entries that target the same entity.
func (e Entry) key() string {
	return string(e.Entity) + ":" + e.ID
}

// clone deep-copies the entry payload.
func (e Entry) clone() Entry {
	e.Data = e.Data.Clone()
	return e
}

// Watermark returns the highest timestamp in entries, or 0 when empty.
func Watermark(entries []Entry) int64 {
	var max int64
	for _, e := range entries {
		if e.TS > max {
			max = e.TS
		}
	}
	return max
}
