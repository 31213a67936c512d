// Package index serves nearest-timestamp lookups over a score snapshot.
// An Index is built once and is read-only afterwards, so it can be shared by
// concurrent readers without locking.
package index

import (
	"sort"
	"time"

	"praiafinder/internal/types"
)

type groupKey struct {
	locationID string
	mode       types.Mode
}

// Index maps (location, mode) to its records in ascending time order.
type Index struct {
	groups  map[groupKey][]types.ScoreRecord
	horizon time.Time
	size    int
}

// Build groups records and sorts each group by timestamp. Records sharing a
// timestamp keep their input order.
func Build(records []types.ScoreRecord) *Index {
	idx := &Index{groups: make(map[groupKey][]types.ScoreRecord)}
	for _, r := range records {
		k := groupKey{locationID: r.LocationID, mode: r.Mode}
		idx.groups[k] = append(idx.groups[k], r)
		if r.Timestamp.After(idx.horizon) {
			idx.horizon = r.Timestamp
		}
	}
	for _, g := range idx.groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Timestamp.Before(g[j].Timestamp) })
	}
	idx.size = len(records)
	return idx
}

// Nearest returns the first record at or after t. When t is later than every
// record, the last one is returned. ok is false when the group is empty.
func (idx *Index) Nearest(locationID string, mode types.Mode, t time.Time) (types.ScoreRecord, bool) {
	if idx == nil {
		return types.ScoreRecord{}, false
	}
	g := idx.groups[groupKey{locationID: locationID, mode: mode}]
	if len(g) == 0 {
		return types.ScoreRecord{}, false
	}
	i := sort.Search(len(g), func(i int) bool { return !g[i].Timestamp.Before(t) })
	if i == len(g) {
		i = len(g) - 1
	}
	return g[i], true
}

// DataHorizon returns the latest timestamp in the index.
func (idx *Index) DataHorizon() (time.Time, bool) {
	if idx == nil || idx.horizon.IsZero() {
		return time.Time{}, false
	}
	return idx.horizon, true
}

// Len is the number of indexed records.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.size
}
