package countdown

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrNoDeadline = errors.New("countdown has no deadline")

// Snapshot is the remaining time at one instant.
type Snapshot struct {
	Days      int           `json:"days"`
	Hours     int           `json:"hours"`
	Minutes   int           `json:"minutes"`
	Seconds   int           `json:"seconds"`
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
}

// Compute returns the snapshot for deadline as seen at now. Remaining time is
// truncated to whole seconds and never negative.
func Compute(deadline, now time.Time) Snapshot {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return Snapshot{Expired: true}
	}

	total := int64(remaining / time.Second)
	return Snapshot{
		Days:      int(total / 86400),
		Hours:     int(total % 86400 / 3600),
		Minutes:   int(total % 3600 / 60),
		Seconds:   int(total % 60),
		Remaining: time.Duration(total) * time.Second,
		Expired:   total == 0,
	}
}

var wallClockLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
	"January 2, 2006 15:04:05",
}

// ParseDeadline reads a data-time value. Epoch seconds and zoned timestamps
// are absolute already; a bare wall-clock string is read in the site's zone,
// never in the viewer's. Remaining time is computed between instants, so
// anonymous and authenticated viewers see the same countdown.
func ParseDeadline(raw string, site *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrNoDeadline
	}
	if site == nil {
		site = time.UTC
	}

	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		whole := int64(secs)
		frac := int64((secs - float64(whole)) * float64(time.Second))
		return time.Unix(whole, frac), nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	for _, layout := range wallClockLayouts {
		if t, err := time.ParseInLocation(layout, raw, site); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised deadline %q", raw)
}
