package distill

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/signetai/signet/errors"
)

const (
	sessionGap   = 30 * time.Minute
	breakMinGap  = 10 * time.Minute
	breakMaxGap  = 120 * time.Minute
	peakHourKeep = 8
	styleWindow  = 30 * 24 * time.Hour
)

// WorkStyle is the deterministic half of the cognitive profile, computed
// from the perception activity tables without any model involvement.
type WorkStyle struct {
	PeakHours         []int    `json:"peakHours"`
	AvgSessionMinutes float64  `json:"avgSessionMinutes"`
	ContextSwitching  string   `json:"contextSwitching"`
	BreaksPerHour     float64  `json:"breaksPerHour"`
	BreakFrequency    string   `json:"breakFrequency"`
	MostUsedApps      []string `json:"mostUsedApps"`
}

// workStyle derives the style from perception_screen and perception_terminal
// rows inside the lookback window.
func (d *Distiller) workStyle(ctx context.Context) (WorkStyle, error) {
	cutoff := time.Now().Add(-styleWindow).UTC().Format(time.RFC3339)

	timestamps, err := d.activityTimestamps(ctx, cutoff)
	if err != nil {
		return WorkStyle{}, err
	}
	appSequence, err := d.appSequence(ctx, cutoff)
	if err != nil {
		return WorkStyle{}, err
	}
	return computeWorkStyle(timestamps, appSequence), nil
}

func (d *Distiller) activityTimestamps(ctx context.Context, cutoff string) ([]time.Time, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT timestamp FROM perception_screen WHERE timestamp >= ?
		UNION ALL
		SELECT timestamp FROM perception_terminal WHERE timestamp >= ?
		ORDER BY 1`, cutoff, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "query activity timestamps")
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

func (d *Distiller) appSequence(ctx context.Context, cutoff string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT focused_app FROM perception_screen WHERE timestamp >= ? ORDER BY timestamp", cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "query app sequence")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var app string
		if err := rows.Scan(&app); err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// computeWorkStyle is the pure core: timestamps must be sorted ascending.
func computeWorkStyle(timestamps []time.Time, appSequence []string) WorkStyle {
	style := WorkStyle{
		PeakHours:        []int{},
		ContextSwitching: "low",
		BreakFrequency:   "rare",
		MostUsedApps:     topApps(appSequence, 5),
	}
	if len(timestamps) == 0 {
		return style
	}

	style.PeakHours = peakHours(timestamps)

	sessions, activeHours := segmentSessions(timestamps)
	if len(sessions) > 0 {
		var total float64
		for _, s := range sessions {
			total += s.Minutes()
		}
		style.AvgSessionMinutes = total / float64(len(sessions))
	}

	switches := 0
	for i := 1; i < len(appSequence); i++ {
		if appSequence[i] != appSequence[i-1] {
			switches++
		}
	}
	switchRate := float64(switches) / activeHours
	switch {
	case switchRate >= 15:
		style.ContextSwitching = "high"
	case switchRate >= 5:
		style.ContextSwitching = "moderate"
	default:
		style.ContextSwitching = "low"
	}

	breaks := breakGaps(timestamps)
	style.BreaksPerHour = float64(len(breaks)) / activeHours
	style.BreakFrequency = classifyBreaks(style.BreaksPerHour, coefficientOfVariation(breaks))

	return style
}

// peakHours returns the hours of day whose activity count exceeds 0.7 of the
// mean over active hours, at most eight, busiest first.
func peakHours(timestamps []time.Time) []int {
	counts := make(map[int]int)
	for _, t := range timestamps {
		counts[t.Local().Hour()]++
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	mean := float64(total) / float64(len(counts))

	var hours []int
	for h, n := range counts {
		if float64(n) > 0.7*mean {
			hours = append(hours, h)
		}
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > peakHourKeep {
		hours = hours[:peakHourKeep]
	}
	return hours
}

// segmentSessions splits the timeline at gaps over sessionGap. Returns the
// session durations and the total active time in hours (never below one
// minute, so rate divisions stay sane).
func segmentSessions(timestamps []time.Time) ([]time.Duration, float64) {
	var sessions []time.Duration
	start := timestamps[0]
	prev := timestamps[0]
	for _, t := range timestamps[1:] {
		if t.Sub(prev) > sessionGap {
			sessions = append(sessions, prev.Sub(start))
			start = t
		}
		prev = t
	}
	sessions = append(sessions, prev.Sub(start))

	var total time.Duration
	for _, s := range sessions {
		total += s
	}
	hours := total.Hours()
	if hours < 1.0/60 {
		hours = 1.0 / 60
	}
	return sessions, hours
}

func breakGaps(timestamps []time.Time) []time.Duration {
	var gaps []time.Duration
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap >= breakMinGap && gap <= breakMaxGap {
			gaps = append(gaps, gap)
		}
	}
	return gaps
}

func classifyBreaks(rate, cv float64) string {
	switch {
	case rate >= 0.5:
		return "frequent"
	case rate >= 0.15 && cv <= 1.0:
		return "regular"
	case rate >= 0.15:
		return "irregular"
	default:
		return "rare"
	}
}

func coefficientOfVariation(gaps []time.Duration) float64 {
	if len(gaps) < 2 {
		return 0
	}
	var mean float64
	for _, g := range gaps {
		mean += g.Minutes()
	}
	mean /= float64(len(gaps))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, g := range gaps {
		d := g.Minutes() - mean
		variance += d * d
	}
	variance /= float64(len(gaps))
	return math.Sqrt(variance) / mean
}

func topApps(appSequence []string, limit int) []string {
	counts := make(map[string]int)
	for _, app := range appSequence {
		if app != "" {
			counts[app]++
		}
	}
	apps := make([]string, 0, len(counts))
	for app := range counts {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool {
		if counts[apps[i]] != counts[apps[j]] {
			return counts[apps[i]] > counts[apps[j]]
		}
		return apps[i] < apps[j]
	})
	if len(apps) > limit {
		apps = apps[:limit]
	}
	return apps
}
