package sync

import (
	"sort"
	"strings"
	"time"
)

// Epoch is the sentinel substituted for missing or unparsable timestamps.
// It sorts before every real timestamp.
var Epoch = time.Time{}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp normalizes v to a comparable UTC instant truncated to
// microseconds. Zone-less values are read as UTC. Blank or unparsable
// values yield Epoch.
func ParseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return Epoch
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Truncate(time.Microsecond)
		}
	}
	return Epoch
}

// Delta is the set of keys to move in each direction.
type Delta struct {
	ToPush []string
	ToPull []string
}

// Empty reports whether nothing needs to move.
func (d Delta) Empty() bool {
	return len(d.ToPush) == 0 && len(d.ToPull) == 0
}

// ComputeDelta compares key -> last_updated maps from both sides. A key
// present on one side only moves to the other. A key on both sides moves
// from the newer side; equal timestamps stay put. Keys are sorted.
func ComputeDelta(local, remote map[string]string) Delta {
	var d Delta
	for k, lv := range local {
		rv, ok := remote[k]
		if !ok {
			d.ToPush = append(d.ToPush, k)
			continue
		}
		lt, rt := ParseTimestamp(lv), ParseTimestamp(rv)
		switch {
		case lt.After(rt):
			d.ToPush = append(d.ToPush, k)
		case rt.After(lt):
			d.ToPull = append(d.ToPull, k)
		}
	}
	for k := range remote {
		if _, ok := local[k]; !ok {
			d.ToPull = append(d.ToPull, k)
		}
	}
	sort.Strings(d.ToPush)
	sort.Strings(d.ToPull)
	return d
}

// withinTolerance reports whether a and b differ by at most tol.
func withinTolerance(a, b time.Time, tol time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}
