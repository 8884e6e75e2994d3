package ledger

import (
	"fmt"
	"sort"
	"time"
)

// Granularity selects the bucket size used by Aggregate.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// ParseGranularity validates raw.
func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(raw); g {
	case GranularityDay, GranularityWeek, GranularityMonth, GranularityYear:
		return g, nil
	default:
		return "", fmt.Errorf("ledger: unknown granularity %q", raw)
	}
}

// AggregateByDay buckets operations by day key.
func AggregateByDay(ops []Operation) []PeriodBucket {
	return Aggregate(GranularityDay, ops)
}

// AggregateByWeek buckets operations by ISO week (2025-W45).
func AggregateByWeek(ops []Operation) []PeriodBucket {
	return Aggregate(GranularityWeek, ops)
}

// AggregateByMonth buckets operations by month (2025-11).
func AggregateByMonth(ops []Operation) []PeriodBucket {
	return Aggregate(GranularityMonth, ops)
}

// AggregateByYear buckets operations by year (2025).
func AggregateByYear(ops []Operation) []PeriodBucket {
	return Aggregate(GranularityYear, ops)
}

// Aggregate groups ops into buckets of the given granularity sorted
// chronologically ascending.
func Aggregate(g Granularity, ops []Operation) []PeriodBucket {
	type acc struct {
		bucket PeriodBucket
		ops    []Operation
	}
	groups := make(map[string]*acc)
	for _, op := range ops {
		key, start := bucketOf(g, op.Timestamp)
		a, ok := groups[key]
		if !ok {
			a = &acc{bucket: PeriodBucket{Key: key, Start: start}}
			groups[key] = a
		}
		a.ops = append(a.ops, op)
	}
	out := make([]PeriodBucket, 0, len(groups))
	for _, a := range groups {
		a.bucket.Operations = len(a.ops)
		a.bucket.Totals = ComputeTotals(a.ops)
		out = append(out, a.bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].Key < out[j].Key
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func bucketOf(g Granularity, ts time.Time) (string, time.Time) {
	loc := ts.Location()
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
	switch g {
	case GranularityWeek:
		year, week := ts.ISOWeek()
		offset := (int(day.Weekday()) + 6) % 7
		return fmt.Sprintf("%04d-W%02d", year, week), day.AddDate(0, 0, -offset)
	case GranularityMonth:
		return ts.Format("2006-01"), time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, loc)
	case GranularityYear:
		return ts.Format("2006"), time.Date(ts.Year(), time.January, 1, 0, 0, 0, 0, loc)
	default:
		return string(FromTime(ts)), day
	}
}
