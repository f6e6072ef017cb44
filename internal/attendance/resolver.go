package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Resolver finds the timetable slot covering a moment.
type Resolver struct {
	store Store
	loc   *time.Location
}

// NewResolver creates a resolver that reads wall-clock time in loc.
func NewResolver(store Store, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{store: store, loc: loc}
}

// CurrentSlot returns the cohort's slot covering now, or ErrNoActiveSlot.
func (r *Resolver) CurrentSlot(ctx context.Context, cohort Cohort, now time.Time) (Timeslot, error) {
	local := now.In(r.loc)
	clock := local.Format("15:04")

	slots, err := r.store.FindTimeslots(ctx, cohort, local.Weekday(), clock)
	if err != nil {
		return Timeslot{}, fmt.Errorf("find timeslots: %w", err)
	}

	var matches []Timeslot
	for _, s := range slots {
		if s.DayOfWeek == int(local.Weekday()) && s.StartTime <= clock && clock <= s.EndTime {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return Timeslot{}, ErrNoActiveSlot
	}
	// Overlapping slots: earliest start wins.
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].StartTime < matches[j].StartTime })
	return matches[0], nil
}
