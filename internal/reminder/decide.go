package reminder

import (
	"time"
	"unicode/utf16"

	"github.com/ahmetcoskunkizilkaya/restroom-backend/internal/geo"
)

type Config struct {
	// Movement window, local hours [WindowStartHour, WindowEndHour).
	WindowStartHour   int
	WindowEndHour     int
	MaxFixAge         time.Duration
	MinDisplacementKm float64
	MaxDisplacementKm float64

	NewContentWindow time.Duration
	DefaultRadiusKm  float64

	ReviewDelay time.Duration
	MinDwell    time.Duration

	FixedHour    int
	WakeInterval time.Duration

	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		WindowStartHour:   19,
		WindowEndHour:     22,
		MaxFixAge:         60 * time.Minute,
		MinDisplacementKm: 0.5,
		MaxDisplacementKm: 2.0,
		NewContentWindow:  24 * time.Hour,
		DefaultRadiusKm:   2.0,
		ReviewDelay:       3 * time.Minute,
		MinDwell:          3 * time.Second,
		FixedHour:         19,
		WakeInterval:      15 * time.Minute,
		Location:          time.Local,
	}
}

// Skip and fire reasons reported by DecideMovement.
const (
	ReasonWeekend       = "weekend"
	ReasonOutsideWindow = "outside_window"
	ReasonAlreadySent   = "already_sent"
	ReasonNoBaseline    = "no_baseline"
	ReasonStaleBaseline = "stale_baseline"
	ReasonTooClose      = "too_close"
	ReasonTooFar        = "too_far"
	ReasonMoved         = "moved"
)

type MovementDecision struct {
	Fire           bool
	Reason         string
	DisplacementKm float64
	SinceLastFix   time.Duration
}

// DateKey formats t as a local calendar day.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// MovementEligible checks the parts of the movement decision that need no
// position. now must already be in the device's location.
func MovementEligible(state DeviceGeoState, now time.Time, cfg Config) (bool, string) {
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, ReasonWeekend
	}
	if h := now.Hour(); h < cfg.WindowStartHour || h >= cfg.WindowEndHour {
		return false, ReasonOutsideWindow
	}
	if state.LastNightlifeDate == DateKey(now) {
		return false, ReasonAlreadySent
	}
	return true, ""
}

// DecideMovement compares fix with the previous wake-up's baseline.
func DecideMovement(state DeviceGeoState, fix Position, now time.Time, cfg Config) MovementDecision {
	if ok, reason := MovementEligible(state, now, cfg); !ok {
		return MovementDecision{Reason: reason}
	}
	if state.LastKnown == nil {
		return MovementDecision{Reason: ReasonNoBaseline}
	}

	d := MovementDecision{
		DisplacementKm: geo.HaversineKm(state.LastKnown.Lat, state.LastKnown.Lng, fix.Lat, fix.Lng),
		SinceLastFix:   now.Sub(state.LastKnown.At),
	}
	switch {
	case d.SinceLastFix >= cfg.MaxFixAge:
		d.Reason = ReasonStaleBaseline
	case d.DisplacementKm < cfg.MinDisplacementKm:
		d.Reason = ReasonTooClose
	case d.DisplacementKm > cfg.MaxDisplacementKm:
		d.Reason = ReasonTooFar
	default:
		d.Fire = true
		d.Reason = ReasonMoved
	}
	return d
}

// NextWeekday returns the next occurrence of day at hour:00 in now's
// location, a week out when today's slot has already passed.
func NextWeekday(now time.Time, day time.Weekday, hour int) time.Time {
	ahead := (int(day) + 7 - int(now.Weekday())) % 7
	next := time.Date(now.Year(), now.Month(), now.Day()+ahead, hour, 0, 0, 0, now.Location())
	if next.Before(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// Hash derives a stable notification id from s: the 32-bit h = h*31 + c
// over UTF-16 code units, made non-negative.
func Hash(s string) int {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v)
}
