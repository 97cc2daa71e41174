// Package fixture generates the identities, timestamps and documents of one
// seed/verify cycle. Everything here is pure: the clock is passed in.
package fixture

import (
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"viewcheck/config"
)

// Burst offsets before Now. All three trades must land in one aggregation window.
const (
	BurstOffset0 = 60 * time.Second
	BurstOffset1 = 30 * time.Second
	BurstOffset2 = 10 * time.Second
)

// BurstSymbol is traded by every burst trade; the minute stats view is checked for it.
const BurstSymbol = "ACME"

// Identity is the fixed part of a cycle, shared by every phase.
type Identity struct {
	Tag       string
	AccountID int64
	SourceDB  string
	SinkDB    string
	Symbols   []string
}

// IdentityFromConfig extracts the reserved identifiers from loaded configuration.
func IdentityFromConfig(c *config.Config) Identity {
	return Identity{
		Tag:       c.Tag,
		AccountID: c.AccountID,
		SourceDB:  c.SourceDB,
		SinkDB:    c.SinkDB,
		Symbols:   append([]string(nil), c.Symbols...),
	}
}

// Run is constructed once at the start of a cycle and passed to each phase.
type Run struct {
	Identity

	ID         string
	CustomerID primitive.ObjectID
	Now        time.Time
	T0         time.Time
	T1         time.Time
	T2         time.Time
}

// NewRun draws a fresh customer id and run id and derives the burst timestamps from now.
// Timestamps are truncated to milliseconds, the resolution BSON dates keep.
func NewRun(id Identity, now time.Time) Run {
	now = now.UTC().Truncate(time.Millisecond)
	return Run{
		Identity:   id,
		ID:         uuid.NewString(),
		CustomerID: primitive.NewObjectID(),
		Now:        now,
		T0:         now.Add(-BurstOffset0),
		T1:         now.Add(-BurstOffset1),
		T2:         now.Add(-BurstOffset2),
	}
}

// BurstTimes returns the burst trade timestamps in ascending order.
func (r Run) BurstTimes() []time.Time {
	return []time.Time{r.T0, r.T1, r.T2}
}

// BurstContained reports whether every burst trade falls in [start, start+width).
func (r Run) BurstContained(start time.Time, width time.Duration) bool {
	end := start.Add(width)
	for _, ts := range r.BurstTimes() {
		if ts.Before(start) || !ts.Before(end) {
			return false
		}
	}
	return true
}

// BurstFitsWindow reports whether a window of the given width anchored at T0
// holds the whole burst. Any width above the T0..T2 span qualifies.
func BurstFitsWindow(r Run, width time.Duration) bool {
	return r.BurstContained(r.T0, width)
}
