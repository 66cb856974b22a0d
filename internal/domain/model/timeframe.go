package model

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidUnit = errors.New("invalid timeframe unit")

type Unit string

const (
	Second Unit = "second"
	Minute Unit = "minute"
	Hour   Unit = "hour"
	Day    Unit = "day"
	Week   Unit = "week"
	Month  Unit = "month"
	Year   Unit = "year"
)

// Month and year are fixed-length approximations, not calendar aware.
var unitSeconds = map[Unit]int64{
	Second: 1,
	Minute: 60,
	Hour:   3600,
	Day:    86400,
	Week:   604800,
	Month:  2592000,
	Year:   31536000,
}

var unitLabels = map[Unit]string{
	Second: "s",
	Minute: "m",
	Hour:   "h",
	Day:    "d",
	Week:   "w",
	Month:  "M",
	Year:   "y",
}

// Timeframe is an immutable (size, unit) bar width.
type Timeframe struct {
	Size int  `json:"size" yaml:"size"`
	Unit Unit `json:"unit" yaml:"unit"`
}

// BaseTimeframe is the granularity of raw trade ticks on the stream.
var BaseTimeframe = Timeframe{Size: 1, Unit: Second}

func (u Unit) Valid() bool {
	_, ok := unitSeconds[u]
	return ok
}

// Seconds converts the timeframe to its period length.
func (tf Timeframe) Seconds() (int64, error) {
	mult, ok := unitSeconds[tf.Unit]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, tf.Unit)
	}
	return int64(tf.Size) * mult, nil
}

// MustSeconds is Seconds for timeframes already validated at the edge.
func (tf Timeframe) MustSeconds() int64 {
	secs, err := tf.Seconds()
	if err != nil {
		panic(err)
	}
	return secs
}

func (tf Timeframe) Validate() error {
	if tf.Size <= 0 {
		return fmt.Errorf("timeframe size must be positive, got %d", tf.Size)
	}
	if !tf.Unit.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, tf.Unit)
	}
	return nil
}

func (tf Timeframe) IsBase() bool {
	return tf == BaseTimeframe
}

// Key identifies a (symbol, timeframe) epoch.
func (tf Timeframe) Key(symbol string) string {
	return fmt.Sprintf("%s-%d-%s", symbol, tf.Size, tf.Unit)
}

// String renders the short label used on the CLI and in URLs, e.g. "15m" or "1M".
func (tf Timeframe) String() string {
	label, ok := unitLabels[tf.Unit]
	if !ok {
		return fmt.Sprintf("%d%s", tf.Size, tf.Unit)
	}
	return strconv.Itoa(tf.Size) + label
}

// ParseTimeframe accepts the short labels produced by String.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", s)
	}
	label := s[len(s)-1:]
	size, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return Timeframe{}, fmt.Errorf("invalid timeframe size in %q: %w", s, err)
	}
	for unit, l := range unitLabels {
		if l == label {
			tf := Timeframe{Size: size, Unit: unit}
			if err := tf.Validate(); err != nil {
				return Timeframe{}, err
			}
			return tf, nil
		}
	}
	return Timeframe{}, fmt.Errorf("%w: label %q", ErrInvalidUnit, label)
}

// Floor returns the start of the period containing ts.
func Floor(ts, period int64) int64 {
	if period <= 0 {
		return ts
	}
	q := ts / period
	if ts%period != 0 && ts < 0 {
		q--
	}
	return q * period
}

// millisThreshold separates epoch-milliseconds from epoch-seconds by magnitude.
// Second values past the year ~33658 would be misread as milliseconds.
const millisThreshold = 1e12

// NormalizeTimestamp turns an epoch value of unknown unit into whole seconds.
func NormalizeTimestamp(ts float64) int64 {
	if ts > millisThreshold {
		return int64(math.Floor(ts / 1000))
	}
	return int64(math.Floor(ts))
}
