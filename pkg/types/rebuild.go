package types

import "time"

// RebuildRequest is one entry of the rebuild queue. An empty Ref requests a
// rebuild of the whole collection. ChangesExpected is false for consistency
// checks, where any row mutation indicates a bug in a data source.
type RebuildRequest struct {
	ID              string    `json:"id"`
	Collection      string    `json:"collection"`
	Ref             Ref       `json:"ref,omitempty"`
	ChangesExpected bool      `json:"changes_expected"`
	RequestedAt     time.Time `json:"requested_at"`
}

// IsFull reports whether the request covers the whole collection.
func (r RebuildRequest) IsFull() bool {
	return r.Ref == ""
}

// FullRebuild returns a request to rebuild every object of collection.
func FullRebuild(collection string, changesExpected bool) RebuildRequest {
	return RebuildRequest{Collection: collection, ChangesExpected: changesExpected}
}

// ObjectRebuild returns a request to rebuild a single object of collection.
func ObjectRebuild(collection string, ref Ref) RebuildRequest {
	return RebuildRequest{Collection: collection, Ref: ref, ChangesExpected: true}
}
