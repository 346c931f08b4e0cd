// Package timeline filters and groups sessions for the session timeline.
package timeline

import (
	"sort"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
)

// Range is a look-back window for the timeline.
type Range string

const (
	RangeOneMonth    Range = "1month"
	RangeThreeMonths Range = "3months"
	RangeSixMonths   Range = "6months"
	RangeOneYear     Range = "1year"
	RangeAll         Range = "all"
)

// Ranges lists the selectable ranges in display order.
var Ranges = []Range{RangeOneMonth, RangeThreeMonths, RangeSixMonths, RangeOneYear, RangeAll}

// ParseRange returns the range named by s. Unknown values mean RangeAll.
func ParseRange(s string) Range {
	for _, r := range Ranges {
		if string(r) == s {
			return r
		}
	}
	return RangeAll
}

// Label is the human readable name of the range.
func (r Range) Label() string {
	switch r {
	case RangeOneMonth:
		return "Last month"
	case RangeThreeMonths:
		return "Last 3 months"
	case RangeSixMonths:
		return "Last 6 months"
	case RangeOneYear:
		return "Last year"
	default:
		return "All time"
	}
}

// Cutoff returns the earliest time kept by the range. ok is false for
// RangeAll, which keeps everything.
func (r Range) Cutoff(now time.Time) (cutoff time.Time, ok bool) {
	switch r {
	case RangeOneMonth:
		return now.AddDate(0, -1, 0), true
	case RangeThreeMonths:
		return now.AddDate(0, -3, 0), true
	case RangeSixMonths:
		return now.AddDate(0, -6, 0), true
	case RangeOneYear:
		return now.AddDate(-1, 0, 0), true
	default:
		return time.Time{}, false
	}
}

// Filter keeps sessions scheduled at or after the range cutoff, newest first.
// The input slice is not modified.
func Filter(sessions []models.Session, r Range, now time.Time) []models.Session {
	cutoff, bounded := r.Cutoff(now)
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		if bounded && s.ScheduledAt.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledAt.After(out[j].ScheduledAt)
	})
	return out
}

// MonthGroup is the sessions of one calendar month.
type MonthGroup struct {
	Month    time.Time
	Label    string
	Sessions []models.Session
}

// GroupByMonth splits sessions into consecutive month groups, keeping the
// input order. Months are taken in loc (UTC when nil).
func GroupByMonth(sessions []models.Session, loc *time.Location) []MonthGroup {
	if loc == nil {
		loc = time.UTC
	}
	var groups []MonthGroup
	for _, s := range sessions {
		t := s.ScheduledAt.In(loc)
		month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Month.Equal(month) {
			groups[n-1].Sessions = append(groups[n-1].Sessions, s)
			continue
		}
		groups = append(groups, MonthGroup{
			Month:    month,
			Label:    month.Format("January 2006"),
			Sessions: []models.Session{s},
		})
	}
	return groups
}
